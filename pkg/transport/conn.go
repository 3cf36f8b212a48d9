// Package transport implements the Transport Adapter: the boundary between
// raw framed connections and Land Keeper loops. It decodes
// inbound frames, drives each connection's join/action/event state machine,
// and fans out per-tick Sync Engine output back to clients.
package transport

import "io"

// Conn is the minimal framed-connection contract the adapter needs. A
// gorilla/websocket.Conn satisfies it via the small wrapper in ws.go; tests
// use an in-memory fake.
type Conn interface {
	// ReadFrame blocks for the next inbound frame's raw bytes.
	ReadFrame() ([]byte, error)
	// WriteFrame writes one outbound frame. Implementations must be safe
	// for a single concurrent writer (the adapter never calls WriteFrame
	// concurrently with itself, but may do so concurrently with ReadFrame).
	WriteFrame(data []byte) error
	// Close closes the underlying connection with a close reason.
	Close(reason string) error
}

// ErrConnClosed is returned by ReadFrame/WriteFrame once Close has run.
var ErrConnClosed = io.ErrClosedPipe
