package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Client events.
const (
	eventJoin         = "join"
	eventSendMessage  = "sendMessage"
	eventTyping       = "typing"
	eventMakeCall     = "makeCall"
	eventCallResponse = "callResponse"
)

// Server pushes.
const (
	eventReceiveMessage = "receiveMessage"
	eventReceiveCall    = "receiveCall"
	eventCallEnd        = "call_end"
)

// request is the client's envelope. When ID is present the server answers
// with exactly one ack carrying the same id.
type request struct {
	ID    *uint64         `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ack struct {
	ID    uint64 `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// serverEvent is a push to a specific connection; it carries no id.
type serverEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func parseRequest(data []byte) (request, error) {
	var req request
	if err := decodeStrict(data, &req); err != nil {
		return request{}, err
	}
	if req.Event == "" {
		return request{}, fmt.Errorf("missing event")
	}
	return req, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

type joinPayload struct {
	Token string `json:"token"`
}

type messagePayload struct {
	ToID        int64           `json:"to_id"`
	MessageType string          `json:"messageType"`
	MessageBody string          `json:"messageBody,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	MediaType   string          `json:"mediaType,omitempty"`
}

type sendMessagePayload struct {
	Token   string         `json:"token"`
	Message messagePayload `json:"message"`
}

const (
	messageTypeText  = "text"
	messageTypeMedia = "media"
)

// validate enforces the per-type field requirements before any backend call.
func (m messagePayload) validate() *Error {
	if m.ToID <= 0 {
		return errInvalidMessage("message to_id must be a positive integer")
	}
	switch m.MessageType {
	case messageTypeText:
		if m.MessageBody == "" {
			return errInvalidMessage("text message requires messageBody")
		}
	case messageTypeMedia:
		if len(m.Attachments) == 0 || string(m.Attachments) == "null" {
			return errInvalidMessage("media message requires attachments")
		}
		if m.MediaType == "" {
			return errInvalidMessage("media message requires mediaType")
		}
	default:
		return errInvalidMessage(fmt.Sprintf("unsupported messageType %q", m.MessageType))
	}
	return nil
}

type typingPayload struct {
	ToID     int64 `json:"to_id"`
	IsTyping *bool `json:"isTyping"`
}

func (p typingPayload) validate() *Error {
	if p.ToID <= 0 {
		return errInvalidMessage("typing to_id must be a positive integer")
	}
	if p.IsTyping == nil {
		return errInvalidMessage("typing requires isTyping")
	}
	return nil
}

const (
	callTypeAudio = "audio"
	callTypeVideo = "video"
)

type makeCallPayload struct {
	Token    string `json:"token"`
	ToID     int64  `json:"to_id"`
	CallType string `json:"call_type"`
}

func (p makeCallPayload) validate() *Error {
	if p.ToID <= 0 {
		return errInvalidCallRequest("call to_id must be a positive integer")
	}
	if p.CallType != callTypeAudio && p.CallType != callTypeVideo {
		return errInvalidCallRequest(fmt.Sprintf("unsupported call_type %q", p.CallType))
	}
	return nil
}

const (
	callResponseAccept  = 1
	callResponseDecline = 2
)

type callResponsePayload struct {
	Token    string `json:"token"`
	ToID     int64  `json:"to_id"`
	Response int    `json:"response"`
}

func (p callResponsePayload) validate() *Error {
	if p.ToID <= 0 {
		return errInvalidCallRequest("call to_id must be a positive integer")
	}
	if p.Response != callResponseAccept && p.Response != callResponseDecline {
		return errInvalidCallRequest(fmt.Sprintf("unsupported response %d", p.Response))
	}
	return nil
}
