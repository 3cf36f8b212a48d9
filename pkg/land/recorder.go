package land

import "encoding/json"

// Recorder receives a play-by-play of everything a Keeper applies to state,
// for pkg/replay to persist and later re-drive. It is optional:
// a Keeper with no Recorder attached runs exactly as it always has.
//
// Implementations must buffer the calls made between two RecordTick calls
// into that tick's record; RecordTick's tickID/stateHash finalize and flush
// whatever was buffered, in call order, into a completed TickRecord.
type Recorder interface {
	RecordAction(playerID, typeIdentifier string, payload json.RawMessage, requestID string)
	RecordClientEvent(playerID, eventType string, payload json.RawMessage)
	RecordLifecycle(kind, playerID string)
	RecordTick(tickID uint64, stateHash uint64)
}

// SetRecorder attaches r to the Keeper. It must be called before Run
// starts processing commands; it is not safe to change once the loop is
// running.
func (k *Keeper) SetRecorder(r Recorder) {
	k.recorder = r
}
