package signaling

import (
	"context"

	"github.com/faizanzafer/technoaid-microservice/internal/metrics"
)

type callEndEvent struct {
	PrimaryUserID   int64  `json:"primary_user_id"`
	SecondaryUserID int64  `json:"secondary_user_id"`
	RoomName        string `json:"room_name"`
}

// handleDisconnect removes the departing session and, if the user owned an
// active call room, tears it down and notifies the remaining peer. Backend
// failures are swallowed; there is no caller left to report to.
func (s *Server) handleDisconnect(ctx context.Context, ws *wsConn) {
	sess, ok := s.Registry.Remove(ws.id)
	if !ok {
		return
	}
	s.inc(metrics.SessionsRemoved)
	s.logger().Info("session removed", "conn_id", ws.id, "user_id", sess.UserID)

	room, err := s.Backend.DeleteCallRoomByOwner(ctx, sess.Token)
	if err != nil {
		s.inc(metrics.BackendErrors)
		s.logger().Warn("call room teardown failed", "user_id", sess.UserID, "err", err)
		return
	}
	if room.PrimaryUserID == 0 && room.SecondaryUserID == 0 && room.RoomID == "" {
		return
	}

	peerID := room.PrimaryUserID
	if peerID == sess.UserID {
		peerID = room.SecondaryUserID
	}
	if peerID <= 0 {
		return
	}

	peer, ok := s.Registry.ByUserID(peerID)
	if !ok {
		return
	}
	delivered := s.pushTo(peer.ConnID, eventCallEnd, callEndEvent{
		PrimaryUserID:   room.PrimaryUserID,
		SecondaryUserID: room.SecondaryUserID,
		RoomName:        room.RoomID,
	})
	if delivered {
		s.inc(metrics.CallEndsDelivered)
	}
}
