package signaling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/faizanzafer/technoaid-microservice/internal/backend"
)

func TestSendMessage_ValidationBeforeBackend(t *testing.T) {
	tests := []struct {
		name    string
		message messagePayload
	}{
		{
			name:    "text without body",
			message: messagePayload{ToID: 2, MessageType: "text"},
		},
		{
			name:    "media without mediaType",
			message: messagePayload{ToID: 2, MessageType: "media", Attachments: json.RawMessage(`["a.jpg"]`)},
		},
		{
			name:    "media without attachments",
			message: messagePayload{ToID: 2, MessageType: "media", MediaType: "image"},
		},
		{
			name:    "unknown type",
			message: messagePayload{ToID: 2, MessageType: "sticker", MessageBody: "x"},
		},
		{
			name:    "missing to_id",
			message: messagePayload{MessageType: "text", MessageBody: "hi"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, be, _ := newTestServer(t)
			token := mustJoin(t, srv, "conn-a", 1)

			_, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
				Token:   token,
				Message: tc.message,
			}))
			if wireErr == nil || wireErr.Code != codeInvalidMessage {
				t.Fatalf("error: got %+v, want %s", wireErr, codeInvalidMessage)
			}
			if send, _, _, _ := be.counts(); send != 0 {
				t.Fatalf("backend called %d times on invalid input", send)
			}
		})
	}
}

func TestSendMessage_SenderNotRegistered(t *testing.T) {
	srv, be, _ := newTestServer(t)

	_, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Token:   testToken(t, 1),
		Message: messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"},
	}))
	if wireErr == nil || wireErr.Code != codeSenderNotRegistered {
		t.Fatalf("error: got %+v, want %s", wireErr, codeSenderNotRegistered)
	}
	if send, _, _, _ := be.counts(); send != 0 {
		t.Fatalf("backend called %d times", send)
	}
}

func TestSendMessage_TokenErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Message: messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"},
	}))
	if wireErr == nil || wireErr.Code != codeTokenMissing {
		t.Fatalf("error: got %+v, want %s", wireErr, codeTokenMissing)
	}
}

func TestSendMessage_BackendErrorPassthrough(t *testing.T) {
	srv, be, _ := newTestServer(t)
	token := mustJoin(t, srv, "conn-a", 1)
	be.sendErr = &backend.APIError{StatusCode: 422, Body: []byte(`{"error":"blocked"}`)}

	_, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Token:   token,
		Message: messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"},
	}))
	if wireErr == nil || wireErr.Code != codeBackendError {
		t.Fatalf("error: got %+v, want %s", wireErr, codeBackendError)
	}
	if string(wireErr.Detail) != `{"error":"blocked"}` {
		t.Fatalf("detail: got %s", wireErr.Detail)
	}
}

func TestSendMessage_OfflineRecipientNotifies(t *testing.T) {
	srv, be, sender := newTestServer(t)
	token := mustJoin(t, srv, "conn-a", 1)
	be.sendResult = backend.SendResult{
		Message:    backend.Message{MessageID: 9, ToID: 2, FromID: 1, MessageBody: "hi", MessageType: "text"},
		DeviceID:   "device-b",
		SenderName: "Alice",
	}

	data, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Token:   token,
		Message: messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"},
	}))
	if wireErr != nil {
		t.Fatalf("unexpected error: %+v", wireErr)
	}

	msg, ok := data.(backend.Message)
	if !ok || msg.MessageID != 9 {
		t.Fatalf("result: got %#v, want canonical record", data)
	}

	sent := sender.notifications()
	if len(sent) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(sent))
	}
	if sent[0].DeviceID != "device-b" || sent[0].Title != "Alice" || sent[0].Body != "hi" {
		t.Fatalf("notification: %+v", sent[0])
	}
}

func TestSendMessage_OfflineMediaNotificationBody(t *testing.T) {
	srv, be, sender := newTestServer(t)
	token := mustJoin(t, srv, "conn-a", 1)
	be.sendResult = backend.SendResult{
		Message:    backend.Message{MessageID: 10, ToID: 2, FromID: 1, MessageType: "media"},
		DeviceID:   "device-b",
		SenderName: "Alice",
	}

	_, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Token: token,
		Message: messagePayload{
			ToID:        2,
			MessageType: "media",
			Attachments: json.RawMessage(`["a.jpg"]`),
			MediaType:   "image",
		},
	}))
	if wireErr != nil {
		t.Fatalf("unexpected error: %+v", wireErr)
	}

	sent := sender.notifications()
	if len(sent) != 1 || sent[0].Body != "Attachment" {
		t.Fatalf("notifications: %+v", sent)
	}
}

func TestSendMessage_OfflineWithoutDeviceID(t *testing.T) {
	srv, be, sender := newTestServer(t)
	token := mustJoin(t, srv, "conn-a", 1)
	be.sendResult = backend.SendResult{
		Message:    backend.Message{MessageID: 11, ToID: 2, FromID: 1, MessageBody: "hi", MessageType: "text"},
		SenderName: "Alice",
	}

	data, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Token:   token,
		Message: messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"},
	}))
	if wireErr != nil {
		t.Fatalf("unexpected error: %+v", wireErr)
	}
	if data == nil {
		t.Fatal("expected canonical record for offline recipient")
	}
	if got := sender.notifications(); len(got) != 0 {
		t.Fatalf("notifications without device id: %+v", got)
	}
}

func TestSendMessage_LiveRecipientNoNotification(t *testing.T) {
	srv, be, sender := newTestServer(t)
	token := mustJoin(t, srv, "conn-a", 1)
	mustJoin(t, srv, "conn-b", 2)
	be.sendResult = backend.SendResult{
		Message:  backend.Message{MessageID: 12, ToID: 2, FromID: 1, MessageBody: "hi", MessageType: "text"},
		DeviceID: "device-b",
	}

	data, wireErr := srv.handleSendMessage(context.Background(), raw(t, sendMessagePayload{
		Token:   token,
		Message: messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"},
	}))
	if wireErr != nil {
		t.Fatalf("unexpected error: %+v", wireErr)
	}
	if data != nil {
		t.Fatalf("live delivery should ack empty, got %#v", data)
	}
	if got := sender.notifications(); len(got) != 0 {
		t.Fatalf("notifications for live recipient: %+v", got)
	}
}

func TestTyping_OfflineRecipientAcksEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	yes := true
	data, wireErr := srv.handleTyping(raw(t, typingPayload{ToID: 7, IsTyping: &yes}))
	if wireErr != nil {
		t.Fatalf("unexpected error: %+v", wireErr)
	}
	if data != nil {
		t.Fatalf("typing ack: got %#v, want empty", data)
	}
}

func TestTyping_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	yes := true
	if _, wireErr := srv.handleTyping(raw(t, typingPayload{IsTyping: &yes})); wireErr == nil || wireErr.Code != codeInvalidMessage {
		t.Fatalf("missing to_id: got %+v", wireErr)
	}
	if _, wireErr := srv.handleTyping(raw(t, typingPayload{ToID: 2})); wireErr == nil || wireErr.Code != codeInvalidMessage {
		t.Fatalf("missing isTyping: got %+v", wireErr)
	}
}
