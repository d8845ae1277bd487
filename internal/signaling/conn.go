package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// wsConn is one client connection. All writes go through writeMu so acks,
// pushes, and keepalive pings never interleave mid-frame.
type wsConn struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	idleTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn, log *slog.Logger, idleTimeout time.Duration) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:          id,
		conn:        conn,
		log:         log.With("conn_id", id),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
}

// Push delivers a named event to this connection. Pushing to a connection
// that has since closed is a harmless no-op.
func (c *wsConn) Push(event string, data any) {
	if err := c.writeJSON(serverEvent{Event: event, Data: data}); err != nil {
		c.log.Debug("push failed", "event", event, "err", err)
	}
}

func (c *wsConn) Ack(id uint64, data any) {
	if err := c.writeJSON(ack{ID: id, Data: data}); err != nil {
		c.log.Debug("ack failed", "err", err)
	}
}

func (c *wsConn) AckError(id uint64, wireErr *Error) {
	if err := c.writeJSON(ack{ID: id, Error: wireErr}); err != nil {
		c.log.Debug("error ack failed", "err", err)
	}
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) extendReadDeadline() {
	if c.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
}

// keepalive pings on every interval tick until the connection closes. Pong
// handling extends the read deadline from the read loop's handler.
func (c *wsConn) keepalive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	c.Close()
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
