package signaling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/faizanzafer/technoaid-microservice/internal/auth"
	"github.com/faizanzafer/technoaid-microservice/internal/backend"
	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
	"github.com/faizanzafer/technoaid-microservice/internal/push"
	"github.com/faizanzafer/technoaid-microservice/internal/session"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	mu sync.Mutex

	sendCalls  int
	sendResult backend.SendResult
	sendErr    error

	issueCalls  int
	issueResult backend.CallToken
	issueErr    error

	releaseCalls int
	releaseErr   error

	roomCalls int
	room      backend.CallRoom
	roomErr   error
}

func (f *fakeBackend) SendMessage(ctx context.Context, token string, msg backend.OutgoingMessage) (backend.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	return f.sendResult, f.sendErr
}

func (f *fakeBackend) IssueCallToken(ctx context.Context, token string, peerID int64) (backend.CallToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	return f.issueResult, f.issueErr
}

func (f *fakeBackend) ReleaseCallToken(ctx context.Context, token string, peerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return f.releaseErr
}

func (f *fakeBackend) DeleteCallRoomByOwner(ctx context.Context, token string) (backend.CallRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomCalls++
	return f.room, f.roomErr
}

func (f *fakeBackend) counts() (send, issue, release, room int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls, f.issueCalls, f.releaseCalls, f.roomCalls
}

// fakeSender records dispatched notifications.
type fakeSender struct {
	mu   sync.Mutex
	sent []push.Notification
	err  error
}

func (f *fakeSender) Send(ctx context.Context, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeSender) notifications() []push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Notification(nil), f.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *fakeSender) {
	t.Helper()

	validator := auth.NewValidator()
	be := &fakeBackend{}
	sender := &fakeSender{}

	srv := NewServer(Config{
		Registry: session.NewRegistry(validator),
		Tokens:   validator,
		Backend:  be,
		Push:     sender,
		Metrics:  metrics.New(),
		Log:      discardLogger(),
	})
	return srv, be, sender
}

func testToken(t *testing.T, userID int64) string {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"user": map[string]any{"id": userID},
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}

	seg := base64.RawURLEncoding.EncodeToString
	return seg([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + seg(payload) + "." + seg([]byte("sig"))
}

func mustJoin(t *testing.T, srv *Server, connID string, userID int64) string {
	t.Helper()

	token := testToken(t, userID)
	if _, err := srv.Registry.Join(connID, token); err != nil {
		t.Fatalf("join user %d: %v", userID, err)
	}
	return token
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}
