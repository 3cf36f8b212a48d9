// Package replay implements the per-tick record and verifier:
// a Recorder attaches to a live Keeper and buffers everything it applies
// into a JSON-serializable Session; a Verifier later re-drives a fresh
// Keeper from that Session's recorded inputs and checks the resulting
// hash chain for cross-platform and internal determinism.
package replay

import (
	"encoding/json"
	"runtime"
	"time"
)

// ActionRecord is one applied action, in application order within its tick.
type ActionRecord struct {
	PlayerID       string          `json:"playerID"`
	TypeIdentifier string          `json:"typeIdentifier"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RequestID      string          `json:"requestID,omitempty"`
}

// EventRecord is one applied client event, in application order.
type EventRecord struct {
	PlayerID string          `json:"playerID"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// LifecycleRecord is a join or leave applied during the tick.
type LifecycleRecord struct {
	Kind     string `json:"kind"` // "join" or "leave"
	PlayerID string `json:"playerID"`
}

// TickRecord is everything applied between two tick boundaries, plus the
// canonical state hash computed once the tick finished.
type TickRecord struct {
	TickID          uint64            `json:"tickID"`
	Actions         []ActionRecord    `json:"actions,omitempty"`
	ClientEvents    []EventRecord     `json:"clientEvents,omitempty"`
	LifecycleEvents []LifecycleRecord `json:"lifecycleEvents,omitempty"`
	StateHash       uint64            `json:"stateHash"`
}

// Header is the recorded session's metadata, captured once at record start.
type Header struct {
	LandType   string    `json:"landType"`
	LandID     string    `json:"landID"`
	RecordedAt time.Time `json:"recordedAt"`
	CPUArch    string    `json:"cpuArch"`
	OS         string    `json:"os"`
	GoVersion  string    `json:"goVersion"`
}

// NewHeader captures the current process's hardware/runtime identity for a
// fresh recording: a metadata header including CPU architecture and OS.
func NewHeader(landType, landID string) Header {
	return Header{
		LandType:   landType,
		LandID:     landID,
		RecordedAt: time.Now().UTC(),
		CPUArch:    runtime.GOARCH,
		OS:         runtime.GOOS,
		GoVersion:  runtime.Version(),
	}
}

// Session is a complete recorded play session: header plus the ordered
// per-tick stream, serializable as JSON.
type Session struct {
	Header Header       `json:"header"`
	Ticks  []TickRecord `json:"ticks"`
}

// Marshal renders the Session as indented JSON for disk storage.
func (s *Session) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Unmarshal parses a Session from JSON bytes, as written by Marshal or by
// Recorder.WriteTo.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
