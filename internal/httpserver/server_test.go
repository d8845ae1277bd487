package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faizanzafer/technoaid-microservice/internal/config"
	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:     ":0",
		BackendBaseURL: "https://api.example.com",
		AllowedOrigins: []string{"https://app.example.com"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ws"))
	})

	m := metrics.New()
	m.Inc(metrics.SessionsJoined)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testConfig(), logger, BuildInfo{Commit: "abc123"}, Handlers{
		WS:      wsHandler,
		Metrics: metrics.PrometheusHandler(m),
	})
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestReadyz_NotServingYet(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before Serve: %d", rec.Code)
	}

	s.ready.Store(true)
	rec = do(t, s, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after ready: %d", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, httptest.NewRequest("GET", "/version", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "abc123") {
		t.Fatalf("version: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sessions_joined") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestWS_OriginPolicy(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := do(t, s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed origin: %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("cors header: %q", got)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if rec := do(t, s, req); rec.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin: %d", rec.Code)
	}

	// No Origin header means a non-browser client; let it through.
	if rec := do(t, s, httptest.NewRequest("GET", "/ws", nil)); rec.Code != http.StatusOK {
		t.Fatalf("no origin: %d", rec.Code)
	}
}

func TestWS_GetOnly(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	if rec := do(t, s, req); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("OPTIONS /ws: %d", rec.Code)
	}

	if rec := do(t, s, httptest.NewRequest("POST", "/ws", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /ws: %d", rec.Code)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := do(t, s, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id: %q", got)
	}

	rec = do(t, s, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("generated request id missing")
	}
}
