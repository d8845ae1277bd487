package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/faizanzafer/technoaid-microservice/internal/auth"
	"github.com/faizanzafer/technoaid-microservice/internal/backend"
	"github.com/faizanzafer/technoaid-microservice/internal/config"
	"github.com/faizanzafer/technoaid-microservice/internal/httpserver"
	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
	"github.com/faizanzafer/technoaid-microservice/internal/push"
	"github.com/faizanzafer/technoaid-microservice/internal/session"
	"github.com/faizanzafer/technoaid-microservice/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting technoaid-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"backend_base_url", cfg.BackendBaseURL,
		"backend_request_timeout", cfg.BackendRequestTimeout,
		"push_enabled", cfg.PushEnabled(),
		"max_event_bytes", cfg.MaxEventBytes,
		"max_events_per_second", cfg.MaxEventsPerSecond,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
	)

	var sender push.Sender = push.NopSender{}
	if cfg.PushEnabled() {
		sender = push.NewFCMSender(cfg.FCMEndpoint, cfg.FCMServerKey)
	} else {
		logger.Warn("FCM_SERVER_KEY not set; push notifications disabled")
	}

	validator := auth.NewValidator()
	registry := session.NewRegistry(validator)
	counters := metrics.New()

	sig := signaling.NewServer(signaling.Config{
		Registry: registry,
		Tokens:   validator,
		Backend:  backend.New(cfg.BackendBaseURL, cfg.BackendRequestTimeout),
		Push:     sender,
		Metrics:  counters,
		Log:      logger,

		MaxEventBytes:      cfg.MaxEventBytes,
		MaxEventsPerSecond: cfg.MaxEventsPerSecond,
		IdleTimeout:        cfg.WSIdleTimeout,
		PingInterval:       cfg.WSPingInterval,
	})

	srv := httpserver.New(cfg, logger, resolveBuildInfo(), httpserver.Handlers{
		WS:      sig,
		Metrics: metrics.PrometheusHandler(counters),
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo() httpserver.BuildInfo {
	commit, built := buildCommit, buildTime
	// Prefer ldflags-injected values but fall back to Go build info, which is
	// populated for `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: built}
}
