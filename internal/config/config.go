// Package config loads the relay's runtime configuration. Values come from,
// in increasing precedence: built-in defaults, an optional YAML config file,
// environment variables, and command-line flags.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envVarPort                  = "PORT"
	envVarListenAddr            = "RELAY_LISTEN_ADDR"
	envVarBackendBaseURL        = "BACKEND_BASE_URL"
	envVarBackendRequestTimeout = "BACKEND_REQUEST_TIMEOUT"
	envVarFCMServerKey          = "FCM_SERVER_KEY"
	envVarFCMEndpoint           = "FCM_ENDPOINT"
	envVarAllowedOrigins        = "ALLOWED_ORIGINS"
	envVarMode                  = "MODE"
	envVarLogFormat             = "LOG_FORMAT"
	envVarLogLevel              = "LOG_LEVEL"
	envVarShutdownTimeout       = "SHUTDOWN_TIMEOUT"
	envVarMaxEventBytes         = "MAX_EVENT_BYTES"
	envVarMaxEventsPerSecond    = "MAX_EVENTS_PER_SECOND"
	envVarWSIdleTimeout         = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval        = "WS_PING_INTERVAL"
)

const (
	DefaultListenAddr         = ":5001"
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultMaxEventBytes      = int64(64 * 1024)
	DefaultMaxEventsPerSecond = 50
	DefaultWSIdleTimeout      = 60 * time.Second
	DefaultWSPingInterval     = 30 * time.Second
	DefaultFCMEndpoint        = "https://fcm.googleapis.com/fcm/send"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"

	DefaultMode = ModeDev
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr string

	BackendBaseURL        string
	BackendRequestTimeout time.Duration

	FCMServerKey string
	FCMEndpoint  string

	AllowedOrigins []string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	MaxEventBytes      int64
	MaxEventsPerSecond int
	WSIdleTimeout      time.Duration
	WSPingInterval     time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if strings.TrimSpace(envMode) != "" {
		modeDefault = strings.TrimSpace(envMode)
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	// RELAY_LISTEN_ADDR wins over the bare PORT form when both are set.
	listenAddr := ""
	envListenAddrSet := false
	if raw, ok := lookup(envVarPort); ok && strings.TrimSpace(raw) != "" {
		port := strings.TrimSpace(raw)
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPort, raw, err)
		}
		listenAddr = ":" + port
		envListenAddrSet = true
	}
	if raw, ok := lookup(envVarListenAddr); ok && strings.TrimSpace(raw) != "" {
		listenAddr = strings.TrimSpace(raw)
		envListenAddrSet = true
	}
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}

	backendBaseURL := envOrDefault(lookup, envVarBackendBaseURL, "")
	envBackendBaseURLSet := backendBaseURL != ""

	backendRequestTimeout := time.Duration(0)
	envBackendRequestTimeoutSet := false
	if raw, ok := lookup(envVarBackendRequestTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarBackendRequestTimeout, raw, err)
		}
		backendRequestTimeout = d
		envBackendRequestTimeoutSet = true
	}

	fcmServerKey := envOrDefault(lookup, envVarFCMServerKey, "")
	envFCMServerKeySet := fcmServerKey != ""
	fcmEndpoint := envOrDefault(lookup, envVarFCMEndpoint, "")
	envFCMEndpointSet := fcmEndpoint != ""
	if fcmEndpoint == "" {
		fcmEndpoint = DefaultFCMEndpoint
	}

	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	envAllowedOriginsSet := allowedOriginsStr != ""

	shutdownTimeout := DefaultShutdownTimeout
	envShutdownTimeoutSet := false
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
		envShutdownTimeoutSet = true
	}

	maxEventBytes := DefaultMaxEventBytes
	envMaxEventBytesSet := false
	if raw, ok := lookup(envVarMaxEventBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxEventBytes, raw, err)
		}
		maxEventBytes = n
		envMaxEventBytesSet = true
	}

	maxEventsPerSecond, err := envIntOrDefault(lookup, envVarMaxEventsPerSecond, DefaultMaxEventsPerSecond)
	if err != nil {
		return Config{}, err
	}
	envMaxEventsPerSecondRaw, envMaxEventsPerSecondOK := lookup(envVarMaxEventsPerSecond)
	envMaxEventsPerSecondSet := envMaxEventsPerSecondOK && strings.TrimSpace(envMaxEventsPerSecondRaw) != ""

	wsIdleTimeout := DefaultWSIdleTimeout
	envWSIdleTimeoutSet := false
	if raw, ok := lookup(envVarWSIdleTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSIdleTimeout, raw, err)
		}
		wsIdleTimeout = d
		envWSIdleTimeoutSet = true
	}

	wsPingInterval := DefaultWSPingInterval
	envWSPingIntervalSet := false
	if raw, ok := lookup(envVarWSPingInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSPingInterval, raw, err)
		}
		wsPingInterval = d
		envWSPingIntervalSet = true
	}

	fs := flag.NewFlagSet("technoaid-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		configPath   string
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configPath, "config", "", "Path to optional YAML config file")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+" or "+envVarPort+")")
	fs.StringVar(&backendBaseURL, "backend-base-url", backendBaseURL, "Base URL of the durable-state backend (env "+envVarBackendBaseURL+")")
	fs.DurationVar(&backendRequestTimeout, "backend-request-timeout", backendRequestTimeout, "Per-request backend timeout (0 = none; env "+envVarBackendRequestTimeout+")")
	fs.StringVar(&fcmServerKey, "fcm-server-key", fcmServerKey, "FCM server key; empty disables push notifications (env "+envVarFCMServerKey+")")
	fs.StringVar(&fcmEndpoint, "fcm-endpoint", fcmEndpoint, "FCM send endpoint (env "+envVarFCMEndpoint+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.Int64Var(&maxEventBytes, "max-event-bytes", maxEventBytes, "Max inbound WebSocket event size in bytes (env "+envVarMaxEventBytes+")")
	fs.IntVar(&maxEventsPerSecond, "max-events-per-second", maxEventsPerSecond, "Per-connection inbound event rate limit (env "+envVarMaxEventsPerSecond+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close connections idle longer than this (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "WebSocket keepalive ping interval (env "+envVarWSPingInterval+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	flagSet := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { flagSet[f.Name] = true })

	if configPath != "" {
		fc, err := loadFile(configPath)
		if err != nil {
			return Config{}, err
		}

		// File values fill in only where neither env nor flag set the field.
		if fc.ListenAddr != "" && !envListenAddrSet && !flagSet["listen-addr"] {
			listenAddr = fc.ListenAddr
		}
		if fc.BackendBaseURL != "" && !envBackendBaseURLSet && !flagSet["backend-base-url"] {
			backendBaseURL = fc.BackendBaseURL
		}
		if fc.BackendRequestTimeout != "" && !envBackendRequestTimeoutSet && !flagSet["backend-request-timeout"] {
			d, err := time.ParseDuration(fc.BackendRequestTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("%s: invalid backend_request_timeout %q: %w", configPath, fc.BackendRequestTimeout, err)
			}
			backendRequestTimeout = d
		}
		if fc.FCMServerKey != "" && !envFCMServerKeySet && !flagSet["fcm-server-key"] {
			fcmServerKey = fc.FCMServerKey
		}
		if fc.FCMEndpoint != "" && !envFCMEndpointSet && !flagSet["fcm-endpoint"] {
			fcmEndpoint = fc.FCMEndpoint
		}
		if fc.AllowedOrigins != "" && !envAllowedOriginsSet && !flagSet["allowed-origins"] {
			allowedOriginsStr = fc.AllowedOrigins
		}
		if fc.Mode != "" && strings.TrimSpace(envMode) == "" && !flagSet["mode"] {
			modeStr = fc.Mode
		}
		if fc.LogFormat != "" && !envLogFormatSet && !flagSet["log-format"] {
			logFormatStr = fc.LogFormat
		}
		if fc.LogLevel != "" && !envLogLevelSet && !flagSet["log-level"] {
			logLevelStr = fc.LogLevel
		}
		if fc.ShutdownTimeout != "" && !envShutdownTimeoutSet && !flagSet["shutdown-timeout"] {
			d, err := time.ParseDuration(fc.ShutdownTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("%s: invalid shutdown_timeout %q: %w", configPath, fc.ShutdownTimeout, err)
			}
			shutdownTimeout = d
		}
		if fc.MaxEventBytes != 0 && !envMaxEventBytesSet && !flagSet["max-event-bytes"] {
			maxEventBytes = fc.MaxEventBytes
		}
		if fc.MaxEventsPerSecond != 0 && !envMaxEventsPerSecondSet && !flagSet["max-events-per-second"] {
			maxEventsPerSecond = fc.MaxEventsPerSecond
		}
		if fc.WSIdleTimeout != "" && !envWSIdleTimeoutSet && !flagSet["ws-idle-timeout"] {
			d, err := time.ParseDuration(fc.WSIdleTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("%s: invalid ws_idle_timeout %q: %w", configPath, fc.WSIdleTimeout, err)
			}
			wsIdleTimeout = d
		}
		if fc.WSPingInterval != "" && !envWSPingIntervalSet && !flagSet["ws-ping-interval"] {
			d, err := time.ParseDuration(fc.WSPingInterval)
			if err != nil {
				return Config{}, fmt.Errorf("%s: invalid ws_ping_interval %q: %w", configPath, fc.WSPingInterval, err)
			}
			wsPingInterval = d
		}
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:            listenAddr,
		BackendBaseURL:        strings.TrimRight(backendBaseURL, "/"),
		BackendRequestTimeout: backendRequestTimeout,
		FCMServerKey:          fcmServerKey,
		FCMEndpoint:           fcmEndpoint,
		AllowedOrigins:        allowedOrigins,
		Mode:                  mode,
		LogFormat:             logFormat,
		LogLevel:              logLevel,
		ShutdownTimeout:       shutdownTimeout,
		MaxEventBytes:         maxEventBytes,
		MaxEventsPerSecond:    maxEventsPerSecond,
		WSIdleTimeout:         wsIdleTimeout,
		WSPingInterval:        wsPingInterval,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("%s is required", envVarBackendBaseURL)
	}
	u, err := url.Parse(c.BackendBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid %s %q (expected http(s) URL)", envVarBackendBaseURL, c.BackendBaseURL)
	}
	if c.BackendRequestTimeout < 0 {
		return fmt.Errorf("%s must be >= 0", envVarBackendRequestTimeout)
	}
	if c.MaxEventBytes <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxEventBytes)
	}
	if c.MaxEventsPerSecond <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxEventsPerSecond)
	}
	if c.WSIdleTimeout < 0 || c.WSPingInterval < 0 {
		return fmt.Errorf("%s and %s must be >= 0", envVarWSIdleTimeout, envVarWSPingInterval)
	}
	if c.WSIdleTimeout > 0 && c.WSPingInterval > 0 && c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", envVarShutdownTimeout)
	}
	return nil
}

// PushEnabled reports whether the relay should send real push notifications.
func (c Config) PushEnabled() bool {
	return c.FCMServerKey != ""
}

type fileConfig struct {
	ListenAddr            string `yaml:"listen_addr"`
	BackendBaseURL        string `yaml:"backend_base_url"`
	BackendRequestTimeout string `yaml:"backend_request_timeout"`
	FCMServerKey          string `yaml:"fcm_server_key"`
	FCMEndpoint           string `yaml:"fcm_endpoint"`
	AllowedOrigins        string `yaml:"allowed_origins"`
	Mode                  string `yaml:"mode"`
	LogFormat             string `yaml:"log_format"`
	LogLevel              string `yaml:"log_level"`
	ShutdownTimeout       string `yaml:"shutdown_timeout"`
	MaxEventBytes         int64  `yaml:"max_event_bytes"`
	MaxEventsPerSecond    int    `yaml:"max_events_per_second"`
	WSIdleTimeout         string `yaml:"ws_idle_timeout"`
	WSPingInterval        string `yaml:"ws_ping_interval"`
}

func loadFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			return []string{"*"}, nil
		}
		u, err := url.Parse(part)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid origin %q in %s (expected scheme://host[:port])", part, envVarAllowedOrigins)
		}
		out = append(out, strings.ToLower(u.Scheme+"://"+u.Host))
	}
	return out, nil
}
