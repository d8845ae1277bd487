// Package push delivers best-effort notifications to a device when the
// message recipient has no live connection. Delivery failures are reported to
// the caller for logging only; they are never surfaced to the message sender
// and never retried.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// Notification is one push message addressed to a registered device.
type Notification struct {
	DeviceID string
	Title    string
	Body     string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// FCMSender posts notifications to the FCM send endpoint using a server key.
type FCMSender struct {
	endpoint  string
	serverKey string
	httpc     *http.Client
}

func NewFCMSender(endpoint, serverKey string) *FCMSender {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &FCMSender{
		endpoint:  endpoint,
		serverKey: serverKey,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *FCMSender) Send(ctx context.Context, n Notification) error {
	payload := struct {
		To           string `json:"to"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
	}{To: n.DeviceID}
	payload.Notification.Title = n.Title
	payload.Notification.Body = n.Body

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// NopSender is used when no push credentials are configured.
type NopSender struct{}

func (NopSender) Send(context.Context, Notification) error { return nil }
