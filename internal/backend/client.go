// Package backend is the HTTP client for the durable-state backend that owns
// message persistence, call-room bookkeeping, and media-session credential
// issuance. Every call is authenticated with the acting user's bearer token;
// failures are surfaced verbatim and never retried.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxErrorBodyBytes = 64 * 1024

// APIError is a non-2xx backend response. Body is the response payload
// verbatim so callers can pass it through to the initiating client.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, string(e.Body))
}

// OutgoingMessage is the relay's validated message as the backend expects it.
type OutgoingMessage struct {
	ToID        int64           `json:"to_id"`
	MessageType string          `json:"messageType"`
	MessageBody string          `json:"messageBody,omitempty"`
	Attachment  json.RawMessage `json:"attachment,omitempty"`
	MediaType   string          `json:"mediaType,omitempty"`
}

// Message is the canonical, backend-assigned message record.
type Message struct {
	MessageID       int64           `json:"message_id"`
	ToID            int64           `json:"toId"`
	FromID          int64           `json:"fromId"`
	MessageBody     string          `json:"messageBody,omitempty"`
	MessageType     string          `json:"messageType"`
	Attachments     json.RawMessage `json:"attachments,omitempty"`
	LastMessageTime string          `json:"lastMessageTime,omitempty"`
}

// SendResult is the backend's answer to a persist call: the canonical record
// plus the routing hints needed for live delivery or push fallback.
type SendResult struct {
	Message    Message
	DeviceID   string
	SenderName string
}

// CallToken is a media-session credential issued for one side of a call.
// Me is the backend's description of the requesting user, relayed opaquely to
// the callee in the ring event.
type CallToken struct {
	Token string
	Me    json.RawMessage
}

// CallRoom is the backend's record of an in-progress call pairing.
type CallRoom struct {
	PrimaryUserID   int64
	SecondaryUserID int64
	RoomID          string
}

type Client struct {
	baseURL string
	httpc   *http.Client
}

// New returns a Client for the backend at baseURL. timeout <= 0 means no
// client-side timeout: a hung backend call leaves that one operation pending,
// it never blocks other connections.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// SendMessage persists msg as the owner of token and returns the canonical
// record plus delivery hints.
func (c *Client) SendMessage(ctx context.Context, token string, msg OutgoingMessage) (SendResult, error) {
	var resp struct {
		Data struct {
			ID          flexInt64       `json:"id"`
			ToID        flexInt64       `json:"to_id"`
			FromID      flexInt64       `json:"from_id"`
			MessageBody string          `json:"messageBody"`
			MessageType string          `json:"messageType"`
			Attachments json.RawMessage `json:"attachments"`
			MessageTime string          `json:"messageTime"`
		} `json:"data"`
		DeviceID   string `json:"device_id"`
		SenderName string `json:"sender_name"`
	}
	if err := c.do(ctx, http.MethodPost, "/send", token, msg, &resp); err != nil {
		return SendResult{}, err
	}

	return SendResult{
		Message: Message{
			MessageID:       int64(resp.Data.ID),
			ToID:            int64(resp.Data.ToID),
			FromID:          int64(resp.Data.FromID),
			MessageBody:     resp.Data.MessageBody,
			MessageType:     resp.Data.MessageType,
			Attachments:     resp.Data.Attachments,
			LastMessageTime: resp.Data.MessageTime,
		},
		DeviceID:   resp.DeviceID,
		SenderName: resp.SenderName,
	}, nil
}

// IssueCallToken requests a media-session credential for a call between the
// owner of token and peerID.
func (c *Client) IssueCallToken(ctx context.Context, token string, peerID int64) (CallToken, error) {
	req := map[string]int64{"secondary_user_id": peerID}
	var resp struct {
		TwilioToken string          `json:"twilioToken"`
		Me          json.RawMessage `json:"me"`
	}
	if err := c.do(ctx, http.MethodPost, "/get_twilio_token", token, req, &resp); err != nil {
		return CallToken{}, err
	}
	return CallToken{Token: resp.TwilioToken, Me: resp.Me}, nil
}

// ReleaseCallToken releases a credential reserved for a declined call.
func (c *Client) ReleaseCallToken(ctx context.Context, token string, peerID int64) error {
	req := map[string]int64{"secondary_user_id": peerID}
	return c.do(ctx, http.MethodPost, "/delete_twilio_token", token, req, nil)
}

// DeleteCallRoomByOwner tears down the active call room owned by the owner of
// token and returns its participants so the remaining peer can be notified.
func (c *Client) DeleteCallRoomByOwner(ctx context.Context, token string) (CallRoom, error) {
	var resp struct {
		Data struct {
			PrimaryUserID   flexInt64 `json:"primary_user_id"`
			SecondaryUserID flexInt64 `json:"secondary_user_id"`
			RoomID          string    `json:"room_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/delete_call_room_by_my_id", token, nil, &resp); err != nil {
		return CallRoom{}, err
	}
	return CallRoom{
		PrimaryUserID:   int64(resp.Data.PrimaryUserID),
		SecondaryUserID: int64(resp.Data.SecondaryUserID),
		RoomID:          resp.Data.RoomID,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Body: raw}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// flexInt64 decodes a JSON number or a numeric string. The backend is not
// consistent about id types (its ids arrive as strings on some routes).
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt64(n)
	return nil
}
