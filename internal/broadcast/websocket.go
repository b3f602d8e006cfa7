package broadcast

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a gorilla connection to Conn and Pinger.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

var (
	_ Conn   = (*WebSocketConn)(nil)
	_ Pinger = (*WebSocketConn)(nil)
)

// NewWebSocketConn wraps ws. Every write gets writeTimeout as its deadline.
func NewWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *WebSocketConn) Send(msg []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *WebSocketConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *WebSocketConn) Close() error { return c.ws.Close() }

// Serve registers ws with the hub and reads from it until the peer goes
// away, ctx is cancelled, or no pong arrives within pongWait. Observers
// never send data; reading only processes control frames.
func Serve(ctx context.Context, h *Hub, ws *websocket.Conn, pongWait, writeTimeout time.Duration) {
	sub := h.Register(NewWebSocketConn(ws, writeTimeout))
	if sub == nil {
		return
	}
	defer h.Unregister(sub)

	ws.SetReadLimit(512)
	if pongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			h.Unregister(sub)
		case <-sub.Done():
		}
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
