package signaling

import (
	"context"
	"encoding/json"

	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
)

// receiveCallEvent rings the callee. Me is the backend's description of the
// caller, relayed opaquely.
type receiveCallEvent struct {
	Me       json.RawMessage `json:"me,omitempty"`
	CallType string          `json:"call_type"`
}

type callResponseEvent struct {
	Response int `json:"response"`
}

type callCredential struct {
	TwilioToken string `json:"twilioToken"`
	CallType    string `json:"call_type,omitempty"`
}

// handleMakeCall drives the initiate step: both parties must be live, the
// backend issues the caller's media credential, then the callee is rung. A
// backend failure aborts the attempt before anything reaches the callee.
func (s *Server) handleMakeCall(ctx context.Context, data json.RawMessage) (any, *Error) {
	var p makeCallPayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, errInvalidCallRequest("invalid makeCall payload")
	}

	caller, wireErr := s.liveSession(p.Token, codeCallerNotRegistered)
	if wireErr != nil {
		return nil, wireErr
	}
	if wireErr := p.validate(); wireErr != nil {
		return nil, wireErr
	}

	callee, ok := s.Registry.ByUserID(p.ToID)
	if !ok {
		return nil, &Error{Code: codeCalleeOffline, Message: "callee has no live session"}
	}

	cred, err := s.Backend.IssueCallToken(ctx, p.Token, p.ToID)
	if err != nil {
		s.inc(metrics.BackendErrors)
		return nil, wireError(err)
	}
	s.inc(metrics.CallsInitiated)
	s.logger().Info("call initiated", "caller_id", caller.UserID, "callee_id", p.ToID, "call_type", p.CallType)

	s.pushTo(callee.ConnID, eventReceiveCall, receiveCallEvent{
		Me:       cred.Me,
		CallType: p.CallType,
	})
	return callCredential{TwilioToken: cred.Token, CallType: p.CallType}, nil
}

// handleCallResponse drives the respond step. Accept issues the responder's
// credential; decline releases the reserved one. Either way the original
// caller learns the outcome only after the backend call succeeds.
func (s *Server) handleCallResponse(ctx context.Context, data json.RawMessage) (any, *Error) {
	var p callResponsePayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, errInvalidCallRequest("invalid callResponse payload")
	}

	responder, wireErr := s.liveSession(p.Token, codeCallerNotRegistered)
	if wireErr != nil {
		return nil, wireErr
	}
	if wireErr := p.validate(); wireErr != nil {
		return nil, wireErr
	}

	caller, ok := s.Registry.ByUserID(p.ToID)
	if !ok {
		return nil, &Error{Code: codePeerLeft, Message: "caller no longer connected"}
	}

	if p.Response == callResponseAccept {
		cred, err := s.Backend.IssueCallToken(ctx, p.Token, p.ToID)
		if err != nil {
			s.inc(metrics.BackendErrors)
			return nil, wireError(err)
		}
		s.inc(metrics.CallsAccepted)
		s.logger().Info("call accepted", "responder_id", responder.UserID, "caller_id", p.ToID)

		s.pushTo(caller.ConnID, eventCallResponse, callResponseEvent{Response: callResponseAccept})
		return callCredential{TwilioToken: cred.Token}, nil
	}

	if err := s.Backend.ReleaseCallToken(ctx, p.Token, p.ToID); err != nil {
		s.inc(metrics.BackendErrors)
		return nil, wireError(err)
	}
	s.inc(metrics.CallsDeclined)
	s.logger().Info("call declined", "responder_id", responder.UserID, "caller_id", p.ToID)

	s.pushTo(caller.ConnID, eventCallResponse, callResponseEvent{Response: callResponseDecline})
	return nil, nil
}
