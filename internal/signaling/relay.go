package signaling

import (
	"context"
	"encoding/json"

	"github.com/faizanzafer/technoaid-microservice/internal/backend"
	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
	"github.com/faizanzafer/technoaid-microservice/internal/push"
)

// handleSendMessage validates the message, persists it through the backend,
// then delivers the canonical record to the recipient's live connection or
// falls back to a push notification.
//
// When the recipient is live the ack carries no payload; the live delivery is
// the side effect. When the recipient is offline the canonical record is
// returned to the sender instead.
func (s *Server) handleSendMessage(ctx context.Context, data json.RawMessage) (any, *Error) {
	var p sendMessagePayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, errInvalidMessage("invalid sendMessage payload")
	}

	sender, wireErr := s.liveSession(p.Token, codeSenderNotRegistered)
	if wireErr != nil {
		return nil, wireErr
	}
	if wireErr := p.Message.validate(); wireErr != nil {
		return nil, wireErr
	}

	// Capture the recipient before suspending on the backend call. If the
	// recipient disconnects in the meantime, delivery becomes a no-op.
	recipient, recipientLive := s.Registry.ByUserID(p.Message.ToID)

	res, err := s.Backend.SendMessage(ctx, p.Token, backend.OutgoingMessage{
		ToID:        p.Message.ToID,
		MessageType: p.Message.MessageType,
		MessageBody: p.Message.MessageBody,
		Attachment:  p.Message.Attachments,
		MediaType:   p.Message.MediaType,
	})
	if err != nil {
		s.inc(metrics.BackendErrors)
		return nil, wireError(err)
	}
	s.inc(metrics.MessagesRelayed)
	s.logger().Info("message relayed", "from_id", sender.UserID, "to_id", p.Message.ToID, "live", recipientLive)

	if recipientLive {
		if s.pushTo(recipient.ConnID, eventReceiveMessage, res.Message) {
			s.inc(metrics.MessagesDelivered)
		}
		return nil, nil
	}

	if res.DeviceID != "" {
		s.notifyOffline(ctx, res, p.Message)
	}
	return res.Message, nil
}

// notifyOffline hands a best-effort notification to the push service.
// Failures are logged, never surfaced to the sender.
func (s *Server) notifyOffline(ctx context.Context, res backend.SendResult, msg messagePayload) {
	body := msg.MessageBody
	if msg.MessageType == messageTypeMedia {
		body = "Attachment"
	}

	err := s.Push.Send(ctx, push.Notification{
		DeviceID: res.DeviceID,
		Title:    res.SenderName,
		Body:     body,
	})
	if err != nil {
		s.inc(metrics.NotificationFailures)
		s.logger().Warn("push notification failed", "to_id", res.Message.ToID, "err", err)
		return
	}
	s.inc(metrics.NotificationsSent)
}
