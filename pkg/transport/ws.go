package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla/websocket connection to Conn, serializing writes
// behind a mutex since gorilla/websocket panics on concurrent writers.
type wsConn struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	writeTimer time.Duration
}

// NewWebSocketConn wraps conn for use by an Adapter. writeTimeout, if
// positive, bounds each WriteFrame call.
func NewWebSocketConn(conn *websocket.Conn, writeTimeout time.Duration) Conn {
	return &wsConn{conn: conn, writeTimer: writeTimeout}
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteFrame(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.writeTimer > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimer))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close(reason string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
