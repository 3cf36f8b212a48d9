package land

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landkeeper/pkg/state"
	"landkeeper/pkg/wire"
)

type lobbyState struct {
	Count int64 `state:"count"`
}

type recordingSink struct {
	updates chan struct {
		playerID string
		update   wire.StateUpdateWire
	}
	events []OutgoingEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{updates: make(chan struct {
		playerID string
		update   wire.StateUpdateWire
	}, 64)}
}

func (s *recordingSink) DeliverUpdate(playerID string, update wire.StateUpdateWire) {
	s.updates <- struct {
		playerID string
		update   wire.StateUpdateWire
	}{playerID, update}
}
func (s *recordingSink) DeliverEvents(events []OutgoingEvent) { s.events = append(s.events, events...) }
func (s *recordingSink) Shutdown(reason string)               {}

func newTestKeeper(t *testing.T, cfg Config) (*Keeper, *recordingSink) {
	t.Helper()
	sink := newRecordingSink()
	def := Definition{
		LandType: "lobby",
		NewState: func() (any, error) { return &lobbyState{}, nil },
		Handlers: map[string]Handler{
			"increment": {
				Run: func(ctx *Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error) {
					var cur lobbyState
					v, _ := root.Get("count")
					if n, ok := v.(int64); ok {
						cur.Count = n
					}
					if err := root.Set("count", cur.Count+1); err != nil {
						return nil, err
					}
					return cur.Count + 1, nil
				},
			},
			"failing": {
				Run: func(ctx *Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error) {
					return nil, &wire.ErrorFrame{Code: wire.ErrUnknownAction, Message: "boom"}
				},
			},
			"withResolver": {
				Resolvers: []Resolver{{Name: "lookup", Run: func(ctx context.Context, payload json.RawMessage) (any, error) {
					return "resolved-value", nil
				}}},
				Run: func(ctx *Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error) {
					return resolved["lookup"], nil
				},
			},
		},
	}
	k, err := NewKeeper("land-1", def, cfg, &Services{}, sink)
	require.NoError(t, err)
	return k, sink
}

func TestActionHandlerMutatesStateAndReplies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 0 // event-driven: sync happens immediately per command
	k, sink := newTestKeeper(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinResult := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandJoin, PlayerID: "p1", Result: joinResult})
	jr := <-joinResult
	assert.True(t, jr.JoinAccepted)
	assert.Equal(t, 0, jr.PlayerSlot)

	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAction, PlayerID: "p1", TypeIdentifier: "increment", Result: result})
	res := <-result
	require.NoError(t, res.Err)
	assert.EqualValues(t, 1, res.Response)

	select {
	case u := <-sink.updates:
		assert.Equal(t, "p1", u.playerID)
	case <-time.After(time.Second):
		t.Fatal("expected a sync update to be delivered")
	}
}

func TestUnknownActionProducesErrorFrame(t *testing.T) {
	k, _ := newTestKeeper(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAction, TypeIdentifier: "doesNotExist", Result: result})
	res := <-result
	require.Error(t, res.Err)
	ef, ok := res.Err.(*wire.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wire.ErrUnknownAction, ef.Code)
}

func TestHandlerErrorFrameIsPropagatedVerbatim(t *testing.T) {
	k, _ := newTestKeeper(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAction, TypeIdentifier: "failing", Result: result})
	res := <-result
	require.Error(t, res.Err)
	ef := res.Err.(*wire.ErrorFrame)
	assert.Equal(t, "boom", ef.Message)
}

func TestResolverOutputIsAvailableToHandlerButNotToState(t *testing.T) {
	k, _ := newTestKeeper(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAction, TypeIdentifier: "withResolver", Result: result})
	res := <-result
	require.NoError(t, res.Err)
	assert.Equal(t, "resolved-value", res.Response)
}

func TestJoinRejectsWhenLandFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPlayers = 1
	k, _ := newTestKeeper(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	r1 := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandJoin, PlayerID: "p1", Result: r1})
	require.True(t, (<-r1).JoinAccepted)

	r2 := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandJoin, PlayerID: "p2", Result: r2})
	res := <-r2
	require.Error(t, res.Err)
	assert.Equal(t, wire.ErrLandFull, res.Err.(*wire.ErrorFrame).Code)
}

func TestLeaveReleasesSlotForReuse(t *testing.T) {
	k, _ := newTestKeeper(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	r1 := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandJoin, PlayerID: "p1", Result: r1})
	slot := (<-r1).PlayerSlot

	leave := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandLeave, PlayerID: "p1", Result: leave})
	<-leave

	r2 := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandJoin, PlayerID: "p2", Result: r2})
	assert.Equal(t, slot, (<-r2).PlayerSlot)
}

func TestStateSyncCadenceIsDecoupledFromTickInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.StateSyncInterval = 80 * time.Millisecond
	k, sink := newTestKeeper(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinResult := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandJoin, PlayerID: "p1", Result: joinResult})
	<-joinResult

	// Joining always gets its own immediate sync, regardless of cadence.
	select {
	case <-sink.updates:
	case <-time.After(time.Second):
		t.Fatal("expected the join's own immediate sync")
	}

	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAction, PlayerID: "p1", TypeIdentifier: "increment", Result: result})
	<-result

	select {
	case <-sink.updates:
		t.Fatal("action's patch should wait for the next StateSyncInterval pass, not sync immediately")
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case u := <-sink.updates:
		assert.Equal(t, "p1", u.playerID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync update once StateSyncInterval elapsed")
	}
}

func TestSubmitAfterStopReturnsShuttingDownError(t *testing.T) {
	k, _ := newTestKeeper(t, DefaultConfig())
	k.Stop()

	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAction, TypeIdentifier: "increment", Result: result})
	res := <-result
	require.Error(t, res.Err)
	assert.Equal(t, wire.ErrShuttingDown, res.Err.(*wire.ErrorFrame).Code)
}
