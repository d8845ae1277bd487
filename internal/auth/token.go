package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
)

const (
	maxTokenHeaderB64Len  = 4 * 1024
	maxTokenPayloadB64Len = 16 * 1024
	maxTokenLen           = maxTokenHeaderB64Len + 1 + maxTokenPayloadB64Len + 1 + maxTokenPayloadB64Len
)

// Claims carries the identity fields the relay needs from a bearer token.
type Claims struct {
	UserID int64
	Expiry int64
}

// Validator decodes bearer-token claims without verifying the signature.
// Signature trust is established upstream (the backend issued the token and
// every backend call re-presents it); the relay only needs the user identity
// and the expiry.
type Validator struct {
	now func() time.Time
}

func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// NewValidatorAt returns a Validator with a fixed clock, for tests.
func NewValidatorAt(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Resolve decodes token's claims and returns the user identity.
//
// Fails with ErrTokenMissing when token is empty, ErrTokenMalformed when the
// claims cannot be decoded or lack a positive user id, and ErrTokenExpired
// when the current time is at or past the exp claim.
func (v *Validator) Resolve(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrTokenMissing
	}

	payloadB64, ok := splitTokenPayload(token)
	if !ok {
		return Claims{}, ErrTokenMalformed
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payloadB64, "="))
	if err != nil {
		return Claims{}, ErrTokenMalformed
	}

	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	var payload struct {
		User *struct {
			ID json.Number `json:"id"`
		} `json:"user"`
		Exp json.Number `json:"exp"`
	}
	if err := dec.Decode(&payload); err != nil {
		return Claims{}, ErrTokenMalformed
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Claims{}, ErrTokenMalformed
	}

	if payload.User == nil {
		return Claims{}, ErrTokenMalformed
	}
	userID, err := payload.User.ID.Int64()
	if err != nil || userID <= 0 {
		return Claims{}, ErrTokenMalformed
	}
	exp, err := payload.Exp.Int64()
	if err != nil {
		return Claims{}, ErrTokenMalformed
	}

	if v.now().Unix() >= exp {
		return Claims{}, ErrTokenExpired
	}

	return Claims{UserID: userID, Expiry: exp}, nil
}

// splitTokenPayload extracts the claims segment of a header.payload.signature
// token. Only the shape is checked; the signature segment is never inspected.
func splitTokenPayload(token string) (string, bool) {
	if len(token) > maxTokenLen {
		return "", false
	}
	headerB64, rest, found := strings.Cut(token, ".")
	if !found {
		return "", false
	}
	payloadB64, sigB64, found := strings.Cut(rest, ".")
	if !found {
		return "", false
	}
	if strings.Contains(sigB64, ".") {
		return "", false
	}
	if headerB64 == "" || payloadB64 == "" {
		return "", false
	}
	if len(headerB64) > maxTokenHeaderB64Len || len(payloadB64) > maxTokenPayloadB64Len {
		return "", false
	}
	return payloadB64, true
}
