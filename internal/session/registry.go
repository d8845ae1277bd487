// Package session owns the authoritative mapping between live connections and
// logical user identities. The registry is the only shared mutable state in
// the relay; every operation takes the lock for the duration of the map
// mutation only, so no lock is ever held across a backend or push call.
package session

import (
	"errors"
	"sync"

	"github.com/faizanzafer/technoaid-microservice/internal/auth"
)

var ErrAlreadyConnected = errors.New("user already connected")

// Session is the live binding between a connected user and its connection.
// Sessions are created by Join and destroyed by Remove; no other component
// mutates them.
type Session struct {
	UserID int64
	ConnID string
	// Token is retained so disconnect cleanup can authenticate the backend
	// call on behalf of a user that is no longer reachable.
	Token string
}

// Resolver decodes a bearer token into claims. Satisfied by *auth.Validator.
type Resolver interface {
	Resolve(token string) (auth.Claims, error)
}

type Registry struct {
	resolver Resolver

	mu     sync.Mutex
	byConn map[string]Session
	byUser map[int64]string
}

func NewRegistry(resolver Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		byConn:   make(map[string]Session),
		byUser:   make(map[int64]string),
	}
}

// Join resolves token and inserts a Session for connID.
//
// A second join for an already-connected user fails with ErrAlreadyConnected
// rather than replacing the first session.
func (r *Registry) Join(connID, token string) (Session, error) {
	claims, err := r.resolver.Resolve(token)
	if err != nil {
		return Session{}, err
	}

	sess := Session{UserID: claims.UserID, ConnID: connID, Token: token}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[claims.UserID]; ok {
		return Session{}, ErrAlreadyConnected
	}
	r.byConn[connID] = sess
	r.byUser[claims.UserID] = connID
	return sess, nil
}

// Remove deletes and returns the Session bound to connID. Removing an unknown
// connection id is a no-op.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.byConn, connID)
	delete(r.byUser, sess.UserID)
	return sess, true
}

// ByUserID returns the live Session for userID, if any.
func (r *Registry) ByUserID(userID int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return r.byConn[connID], true
}

// All returns a point-in-time snapshot of every live session, for diagnostics.
func (r *Registry) All() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.byConn))
	for _, sess := range r.byConn {
		out = append(out, sess)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
