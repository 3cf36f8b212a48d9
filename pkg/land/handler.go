package land

import (
	"context"
	"encoding/json"
	"fmt"

	"landkeeper/pkg/state"
	"landkeeper/pkg/wire"
)

// Target selects who receives a server-emitted event.
type Target struct {
	kind     targetKind
	playerID string
	list     []string
}

type targetKind int

const (
	targetAll targetKind = iota
	targetPlayer
	targetOthers
	targetList
)

// All targets every joined player.
func All() Target { return Target{kind: targetAll} }

// Player targets exactly one joined player by ID.
func Player(id string) Target { return Target{kind: targetPlayer, playerID: id} }

// Others targets every joined player except the command's originator.
func Others() Target { return Target{kind: targetOthers} }

// List targets exactly the given player IDs.
func List(ids []string) Target { return Target{kind: targetList, list: ids} }

// Matches reports whether target includes recipientID, given the
// originating player for Others resolution.
func (t Target) Matches(recipientID, originatorID string) bool {
	switch t.kind {
	case targetAll:
		return true
	case targetPlayer:
		return recipientID == t.playerID
	case targetOthers:
		return recipientID != originatorID
	case targetList:
		for _, id := range t.list {
			if id == recipientID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// OutgoingEvent is a server->client event a handler has queued for fan-out
// at the end of the current command/tick.
type OutgoingEvent struct {
	Target       Target
	Type         string
	Payload      any
	OriginatorID string
}

// Services is the set of non-state collaborators a Land construction
// injects into every handler invocation. Handlers must route all
// non-deterministic inputs (wall clock, RNG, external APIs) through here so
// the replay substrate can intercept them.
type Services struct {
	Clock Clock
	RNG   RNG
	Extra map[string]any
}

// Clock abstracts wall-clock access so replay can substitute a recorded
// sequence of times.
type Clock interface {
	Now() int64 // unix nanos; deterministic under replay substitution
}

// RNG abstracts randomness so replay can substitute a recorded sequence.
type RNG interface {
	Int63() int64
}

// Context is passed to every Handler. It is cheap to construct per command
// and must not be retained beyond the handler call.
type Context struct {
	context.Context

	PlayerID  string
	ClientID  string
	SessionID string
	RequestID string

	Services *Services

	events  *[]OutgoingEvent
	synced  *bool
	tickNow func() int64
}

// SendEvent queues an event for fan-out by the Transport Adapter once the
// current command (or tick) finishes processing.
func (c *Context) SendEvent(target Target, eventType string, payload any) {
	*c.events = append(*c.events, OutgoingEvent{Target: target, Type: eventType, Payload: payload, OriginatorID: c.PlayerID})
}

// SyncNow marks the current command as asking for an immediate Sync Engine
// pass. The Keeper does not read this mark: event-driven Lands
// (TickInterval == 0) already sync at the end of every command, and
// tick-driven Lands sync only on their StateSyncInterval ticker.
func (c *Context) SyncNow() {
	if c.synced != nil {
		*c.synced = true
	}
}

// Resolver is an async pre-loader that runs before a Handler. Its result is
// looked up by name from the map Handler receives; resolver outputs never
// enter the state tree.
type Resolver struct {
	Name string
	Run  func(ctx context.Context, payload json.RawMessage) (any, error)
}

// ResolverError wraps a failing resolver's name around its underlying
// error
type ResolverError struct {
	Name string
	Err  error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver %q failed: %v", e.Name, e.Err)
}

func (e *ResolverError) Unwrap() error { return e.Err }

// Handler is a registered Land operation. root is the Land's top-level
// state container view (mounted once with the Keeper's pending
// PatchRecorder/DirtyTracker, which collect mutations until the next sync
// pass); payload is the decoded action/event body;
// resolved holds each declared Resolver's output keyed by name.
type Handler struct {
	Resolvers []Resolver
	Run       func(ctx *Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error)
}

// HandlerError turns a Go error into the wire.ErrorCode the Transport
// Adapter sends to the command's originator. Handlers that want a specific
// code should return a *wire.ErrorFrame directly; any other error maps to
// ErrInternal.
func HandlerError(err error) *wire.ErrorFrame {
	if err == nil {
		return nil
	}
	if ef, ok := err.(*wire.ErrorFrame); ok {
		return ef
	}
	return &wire.ErrorFrame{Code: wire.ErrInternal, Message: err.Error()}
}
