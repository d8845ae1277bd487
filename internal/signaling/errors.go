package signaling

import (
	"encoding/json"
	"errors"

	"github.com/faizanzafer/technoaid-microservice/internal/auth"
	"github.com/faizanzafer/technoaid-microservice/internal/backend"
	"github.com/faizanzafer/technoaid-microservice/internal/session"
)

// Error is the wire form of a failed request. Detail carries the backend's
// failure payload verbatim when the failure originated there.
type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

const (
	codeTokenMissing        = "token_missing"
	codeTokenMalformed      = "token_malformed"
	codeTokenExpired        = "token_expired"
	codeAlreadyConnected    = "already_connected"
	codeInvalidMessage      = "invalid_message"
	codeInvalidCallRequest  = "invalid_call_request"
	codeSenderNotRegistered = "sender_not_registered"
	codeCallerNotRegistered = "caller_not_registered"
	codeCalleeOffline       = "callee_offline"
	codePeerLeft            = "peer_left"
	codeBackendError        = "backend_error"
	codeInternalError       = "internal_error"

	codeBadMessage  = "bad_message"
	codeRateLimited = "rate_limited"
)

func errInvalidMessage(message string) *Error {
	return &Error{Code: codeInvalidMessage, Message: message}
}

func errInvalidCallRequest(message string) *Error {
	return &Error{Code: codeInvalidCallRequest, Message: message}
}

// wireError maps an internal error to its wire form. Unrecognized errors are
// reported as internal_error without leaking their text to clients.
func wireError(err error) *Error {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return &Error{Code: codeTokenMissing, Message: "token missing"}
	case errors.Is(err, auth.ErrTokenMalformed):
		return &Error{Code: codeTokenMalformed, Message: "token malformed"}
	case errors.Is(err, auth.ErrTokenExpired):
		return &Error{Code: codeTokenExpired, Message: "token expired"}
	case errors.Is(err, session.ErrAlreadyConnected):
		return &Error{Code: codeAlreadyConnected, Message: "user already connected"}
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Code:    codeBackendError,
			Message: "backend request failed",
			Detail:  backendDetail(apiErr.Body),
		}
	}

	return &Error{Code: codeBackendError, Message: "backend unreachable"}
}

// backendDetail passes the backend's error body through verbatim when it is
// valid JSON, and quotes it as a JSON string otherwise.
func backendDetail(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
