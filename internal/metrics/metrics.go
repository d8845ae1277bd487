package metrics

import "sync"

// Counter names used across the relay.
const (
	SessionsJoined        = "sessions_joined"
	SessionsRemoved       = "sessions_removed"
	AuthFailure           = "auth_failure"
	MessagesRelayed       = "messages_relayed"
	MessagesDelivered     = "messages_delivered"
	NotificationsSent     = "notifications_sent"
	NotificationFailures  = "notification_failures"
	CallsInitiated        = "calls_initiated"
	CallsAccepted         = "calls_accepted"
	CallsDeclined         = "calls_declined"
	CallEndsDelivered     = "call_ends_delivered"
	BackendErrors         = "backend_errors"
	DropReasonRateLimited = "rate_limited"
	DropReasonBadMessage  = "bad_message"
)

// Metrics is a minimal, concurrency-safe counter registry. It exists so the
// relay's enforcement and delivery paths stay testable without a real metrics
// backend; counters are exported via the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
