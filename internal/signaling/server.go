// Package signaling implements the relay's WebSocket event surface: session
// join, message relay with push fallback, the call handshake, and disconnect
// cleanup. Durable state lives in the backend; this package only orchestrates
// handshakes and routes events to live connections.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/faizanzafer/technoaid-microservice/internal/auth"
	"github.com/faizanzafer/technoaid-microservice/internal/backend"
	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
	"github.com/faizanzafer/technoaid-microservice/internal/push"
	"github.com/faizanzafer/technoaid-microservice/internal/ratelimit"
	"github.com/faizanzafer/technoaid-microservice/internal/session"
)

// Backend is the slice of the durable-state backend the signaling surface
// needs. Satisfied by *backend.Client.
type Backend interface {
	SendMessage(ctx context.Context, token string, msg backend.OutgoingMessage) (backend.SendResult, error)
	IssueCallToken(ctx context.Context, token string, peerID int64) (backend.CallToken, error)
	ReleaseCallToken(ctx context.Context, token string, peerID int64) error
	DeleteCallRoomByOwner(ctx context.Context, token string) (backend.CallRoom, error)
}

// TokenResolver decodes a bearer token into claims. Satisfied by
// *auth.Validator.
type TokenResolver interface {
	Resolve(token string) (auth.Claims, error)
}

// Config wires together the runtime dependencies for the signaling surface.
type Config struct {
	Registry *session.Registry
	Tokens   TokenResolver
	Backend  Backend
	Push     push.Sender
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	// Inbound hardening.
	MaxEventBytes      int64
	MaxEventsPerSecond int
	IdleTimeout        time.Duration
	PingInterval       time.Duration
}

// Server handles GET /ws. Each connection runs one read loop; each event is
// handled on its own goroutine so a suspended backend call never blocks other
// events on the same connection.
type Server struct {
	Registry *session.Registry
	Tokens   TokenResolver
	Backend  Backend
	Push     push.Sender
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	MaxEventBytes      int64
	MaxEventsPerSecond int
	IdleTimeout        time.Duration
	PingInterval       time.Duration

	mu    sync.Mutex
	conns map[string]*wsConn
}

func NewServer(cfg Config) *Server {
	return &Server{
		Registry: cfg.Registry,
		Tokens:   cfg.Tokens,
		Backend:  cfg.Backend,
		Push:     cfg.Push,
		Metrics:  cfg.Metrics,
		Log:      cfg.Log,

		MaxEventBytes:      cfg.MaxEventBytes,
		MaxEventsPerSecond: cfg.MaxEventsPerSecond,
		IdleTimeout:        cfg.IdleTimeout,
		PingInterval:       cfg.PingInterval,

		conns: make(map[string]*wsConn),
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Server) maxEventBytes() int64 {
	if s.MaxEventBytes <= 0 {
		return 64 * 1024
	}
	return s.MaxEventBytes
}

func (s *Server) maxEventsPerSecond() int {
	if s.MaxEventsPerSecond <= 0 {
		return 50
	}
	return s.MaxEventsPerSecond
}

func (s *Server) inc(name string) {
	if s.Metrics != nil {
		s.Metrics.Inc(name)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		// Origin checks are enforced by the outer httpserver origin middleware.
		// For unit tests that dial the handler directly, accept all origins here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ws := newWSConn(conn, s.logger(), s.IdleTimeout)
	s.track(ws)
	defer func() {
		ws.Close()
		s.untrack(ws)
		s.handleDisconnect(context.Background(), ws)
	}()

	conn.SetReadLimit(s.maxEventBytes())
	ws.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		ws.extendReadDeadline()
		return nil
	})
	go ws.keepalive(s.PingInterval)

	rate := int64(s.maxEventsPerSecond())
	limiter := ratelimit.NewLimiter(ratelimit.RealClock{}, rate, rate)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ws.extendReadDeadline()

		// Apply the rate limit after reading so any bytes already in the TCP
		// receive buffer are consumed; closing with unread data can turn into
		// an abortive close that hides the close code from the client.
		if !limiter.Allow() {
			s.inc(metrics.DropReasonRateLimited)
			ws.closeWith(websocket.ClosePolicyViolation, codeRateLimited)
			return
		}
		if msgType != websocket.TextMessage {
			s.inc(metrics.DropReasonBadMessage)
			ws.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		req, err := parseRequest(data)
		if err != nil {
			s.inc(metrics.DropReasonBadMessage)
			ws.closeWith(websocket.ClosePolicyViolation, "bad message")
			return
		}

		go s.dispatch(ws, req)
	}
}

// dispatch runs one event to completion. Every request with an id resolves
// exactly one ack, including when the handler panics.
func (s *Server) dispatch(ws *wsConn, req request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("event handler panicked", "event", req.Event, "conn_id", ws.id, "panic", r)
			if req.ID != nil {
				ws.AckError(*req.ID, &Error{Code: codeInternalError, Message: "internal error"})
			}
		}
	}()

	data, wireErr := s.handle(context.Background(), ws, req)

	if req.ID == nil {
		return
	}
	if wireErr != nil {
		ws.AckError(*req.ID, wireErr)
		return
	}
	ws.Ack(*req.ID, data)
}

func (s *Server) handle(ctx context.Context, ws *wsConn, req request) (any, *Error) {
	switch req.Event {
	case eventJoin:
		return s.handleJoin(ws, req.Data)
	case eventSendMessage:
		return s.handleSendMessage(ctx, req.Data)
	case eventTyping:
		return s.handleTyping(req.Data)
	case eventMakeCall:
		return s.handleMakeCall(ctx, req.Data)
	case eventCallResponse:
		return s.handleCallResponse(ctx, req.Data)
	default:
		return nil, &Error{Code: codeBadMessage, Message: fmt.Sprintf("unknown event %q", req.Event)}
	}
}

func (s *Server) handleJoin(ws *wsConn, data json.RawMessage) (any, *Error) {
	var p joinPayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, errInvalidMessage("invalid join payload")
	}

	sess, err := s.Registry.Join(ws.id, p.Token)
	if err != nil {
		if err != session.ErrAlreadyConnected {
			s.inc(metrics.AuthFailure)
		}
		return nil, wireError(err)
	}

	s.inc(metrics.SessionsJoined)
	s.logger().Info("session joined", "conn_id", ws.id, "user_id", sess.UserID)
	return nil, nil
}

func (s *Server) handleTyping(data json.RawMessage) (any, *Error) {
	var p typingPayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, errInvalidMessage("invalid typing payload")
	}
	if wireErr := p.validate(); wireErr != nil {
		return nil, wireErr
	}

	if peer, ok := s.Registry.ByUserID(p.ToID); ok {
		s.pushTo(peer.ConnID, eventTyping, map[string]bool{"isTyping": *p.IsTyping})
	}
	return nil, nil
}

// liveSession resolves token to claims and requires a live session for that
// user. notRegisteredCode distinguishes the message and call flows.
func (s *Server) liveSession(token, notRegisteredCode string) (session.Session, *Error) {
	claims, err := s.Tokens.Resolve(token)
	if err != nil {
		s.inc(metrics.AuthFailure)
		return session.Session{}, wireError(err)
	}

	sess, ok := s.Registry.ByUserID(claims.UserID)
	if !ok {
		return session.Session{}, &Error{Code: notRegisteredCode, Message: "no live session for user"}
	}
	return sess, nil
}

// pushTo delivers an event to the connection with connID. Returns false if
// the connection has since closed; that is never an error.
func (s *Server) pushTo(connID, event string, data any) bool {
	s.mu.Lock()
	c := s.conns[connID]
	s.mu.Unlock()

	if c == nil {
		return false
	}
	c.Push(event, data)
	return true
}

func (s *Server) track(ws *wsConn) {
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[string]*wsConn)
	}
	s.conns[ws.id] = ws
	s.mu.Unlock()
}

func (s *Server) untrack(ws *wsConn) {
	s.mu.Lock()
	delete(s.conns, ws.id)
	s.mu.Unlock()
}
