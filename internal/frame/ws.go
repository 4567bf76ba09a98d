package frame

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// writeWait bounds a single write to the host socket.
	writeWait = 10 * time.Second
	// maxMessageSize bounds inbound envelopes; INIT payloads carry project
	// content and media listings, so the ceiling is generous.
	maxMessageSize = 1 << 20
)

// WSTransport carries frame envelopes over a websocket connection to the
// host page. The origin is captured once at upgrade time and attached to
// every delivered message, mirroring the browser's event.origin.
type WSTransport struct {
	origin string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport wraps an upgraded websocket connection.
func NewWSTransport(conn *websocket.Conn, origin string) *WSTransport {
	conn.SetReadLimit(maxMessageSize)
	return &WSTransport{conn: conn, origin: origin}
}

// Send writes one marshalled envelope to the host. Safe for concurrent use.
func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadLoop pumps inbound messages into the messenger until the connection
// closes. It blocks; run it on its own goroutine. Every message is delivered
// with the upgrade-time origin so the messenger's allow-list applies.
func (t *WSTransport) ReadLoop(m *Messenger) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Frame socket closed unexpectedly")
			}
			return
		}
		m.Deliver(t.origin, data)
	}
}

// Close tears down the underlying connection.
func (t *WSTransport) Close() error {
	return t.conn.Close()
}
