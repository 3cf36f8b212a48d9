package replay

import (
	"encoding/json"
	"sync"

	"landkeeper/pkg/persistence"
)

// Recorder implements land.Recorder, buffering a Keeper's applied inputs
// into a growing Session. Safe for the Keeper's single
// producer goroutine to call concurrently with a reader taking a Snapshot.
type Recorder struct {
	mu      sync.Mutex
	session Session
	pending TickRecord
}

// NewRecorder starts a fresh recording with the given header.
func NewRecorder(header Header) *Recorder {
	return &Recorder{session: Session{Header: header}}
}

// RecordAction implements land.Recorder.
func (r *Recorder) RecordAction(playerID, typeIdentifier string, payload json.RawMessage, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.Actions = append(r.pending.Actions, ActionRecord{
		PlayerID: playerID, TypeIdentifier: typeIdentifier, Payload: payload, RequestID: requestID,
	})
}

// RecordClientEvent implements land.Recorder.
func (r *Recorder) RecordClientEvent(playerID, eventType string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.ClientEvents = append(r.pending.ClientEvents, EventRecord{
		PlayerID: playerID, Type: eventType, Payload: payload,
	})
}

// RecordLifecycle implements land.Recorder.
func (r *Recorder) RecordLifecycle(kind, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.LifecycleEvents = append(r.pending.LifecycleEvents, LifecycleRecord{Kind: kind, PlayerID: playerID})
}

// RecordTick implements land.Recorder: it finalizes everything buffered
// since the previous RecordTick into a completed TickRecord and appends it
// to the session, then starts a fresh pending record.
func (r *Recorder) RecordTick(tickID uint64, stateHash uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.TickID = tickID
	r.pending.StateHash = stateHash
	r.session.Ticks = append(r.session.Ticks, r.pending)
	r.pending = TickRecord{}
}

// Snapshot returns a deep-enough copy of the session recorded so far, safe
// to serialize while recording continues.
func (r *Recorder) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticks := make([]TickRecord, len(r.session.Ticks))
	copy(ticks, r.session.Ticks)
	return Session{Header: r.session.Header, Ticks: ticks}
}

// WriteTo atomically persists the recording so far to path as JSON, using
// pkg/persistence's atomic-rename writer.
func (r *Recorder) WriteTo(path string) error {
	session := r.Snapshot()
	data, err := session.Marshal()
	if err != nil {
		return err
	}
	return persistence.AtomicWriteFile(path, data, 0o644)
}
