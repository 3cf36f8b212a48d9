package dungeon

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landkeeper/pkg/land"
	"landkeeper/pkg/wire"
)

type noopSink struct{}

func (noopSink) DeliverUpdate(playerID string, update wire.StateUpdateWire) {}
func (noopSink) DeliverEvents(events []land.OutgoingEvent)                  {}
func (noopSink) Shutdown(reason string)                                     {}

func TestNewWorldIsDeterministicForSameLandID(t *testing.T) {
	a, err := NewWorld("dungeon:room-7")
	require.NoError(t, err)
	b, err := NewWorld("dungeon:room-7")
	require.NoError(t, err)

	for _, key := range a.Tiles.Keys() {
		ta, _ := a.Tiles.Get(key)
		tb, ok := b.Tiles.Get(key)
		require.True(t, ok, "key %q present in a but not b", key)
		assert.Equal(t, ta, tb)
	}
	assert.Equal(t, a.Tiles.Len(), b.Tiles.Len())
}

func TestNewWorldDiffersAcrossLandIDs(t *testing.T) {
	a, err := NewWorld("dungeon:room-1")
	require.NoError(t, err)
	b, err := NewWorld("dungeon:room-2")
	require.NoError(t, err)

	different := false
	for _, key := range a.Tiles.Keys() {
		ta, _ := a.Tiles.Get(key)
		tb, ok := b.Tiles.Get(key)
		if !ok || ta != tb {
			different = true
			break
		}
	}
	assert.True(t, different, "two distinct landIDs produced identical maps")
}

func newDungeonKeeper(t *testing.T) (*land.Keeper, *noopSink) {
	t.Helper()
	def, err := NewDefinition("dungeon:test-1")
	require.NoError(t, err)

	cfg := land.DefaultConfig()
	cfg.TickInterval = 0
	sink := &noopSink{}
	k, err := land.NewKeeper("dungeon:test-1", def, cfg, &land.Services{RNG: fixedRNG(7)}, sink)
	require.NoError(t, err)
	return k, sink
}

// fixedRNG returns a land.RNG that always yields n, for deterministic damage
// rolls in tests.
type constRNG int64

func (c constRNG) Int63() int64 { return int64(c) }

func fixedRNG(n int64) land.RNG { return constRNG(n) }

func joinPlayer(t *testing.T, k *land.Keeper, playerID string) {
	t.Helper()
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandJoin, PlayerID: playerID, Result: result})
	res := <-result
	require.NoError(t, res.Err)
}

func TestOnJoinSpawnsCharacterOnWalkableTile(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")

	resp, err := k.Query(ctx, "stateHash")
	require.NoError(t, err)
	assert.NotZero(t, resp)
}

func TestMoveRejectsStepOntoWall(t *testing.T) {
	w, err := NewWorld("dungeon:test-1")
	require.NoError(t, err)
	sx, sy := w.spawnPoint()

	var blockedStep *movePayload
	for _, step := range []movePayload{{DX: 1}, {DX: -1}, {DY: 1}, {DY: -1}} {
		if tile, ok := w.tileAt(sx+step.DX, sy+step.DY); !ok || !tile.Walkable {
			s := step
			blockedStep = &s
			break
		}
	}
	if blockedStep == nil {
		t.Skip("spawn tile is open on all four sides for this landID; nothing to assert")
	}

	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")

	payload, _ := json.Marshal(*blockedStep)
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "alice", TypeIdentifier: "move", Payload: payload, Result: result})
	res := <-result
	require.Error(t, res.Err)
}

func TestMoveAcceptsValidStepOntoFloor(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")

	payload, _ := json.Marshal(movePayload{DX: 0, DY: 0})
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "alice", TypeIdentifier: "move", Payload: payload, Result: result})
	res := <-result
	require.NoError(t, res.Err)
}

func TestMoveRejectsMultiStepDelta(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")

	payload, _ := json.Marshal(movePayload{DX: 2, DY: 0})
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "alice", TypeIdentifier: "move", Payload: payload, Result: result})
	res := <-result
	require.Error(t, res.Err)
	ef, ok := res.Err.(*wire.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wire.ErrInvalidFrame, ef.Code)
}

func TestAttackAppliesDamageToTarget(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")
	joinPlayer(t, k, "bob")

	payload, _ := json.Marshal(attackPayload{TargetPlayerID: "bob"})
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "alice", TypeIdentifier: "attack", Payload: payload, Result: result})
	res := <-result
	require.NoError(t, res.Err)

	body, ok := res.Response.(map[string]any)
	require.True(t, ok)
	assert.Greater(t, body["damage"], 0)
}

func TestAttackRejectsUnknownTarget(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")

	payload, _ := json.Marshal(attackPayload{TargetPlayerID: "ghost"})
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "alice", TypeIdentifier: "attack", Payload: payload, Result: result})
	res := <-result
	require.Error(t, res.Err)
}

func TestCastSpellRecordsActiveEffect(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")
	joinPlayer(t, k, "bob")

	payload, _ := json.Marshal(castSpellPayload{TargetPlayerID: "bob", Spell: "firebolt", DamageDice: "1d4"})
	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "alice", TypeIdentifier: "castSpell", Payload: payload, Result: result})
	res := <-result
	require.NoError(t, res.Err)
}

func TestOnLeaveRemovesCharacter(t *testing.T) {
	k, _ := newDungeonKeeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	defer k.Stop()

	joinPlayer(t, k, "alice")

	result := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandLeave, PlayerID: "alice", Result: result})
	res := <-result
	require.NoError(t, res.Err)

	// A second attack naming the departed player should now fail to find a target.
	joinPlayer(t, k, "bob")
	payload, _ := json.Marshal(attackPayload{TargetPlayerID: "alice"})
	result2 := make(chan land.CommandResult, 1)
	k.Submit(&land.Command{Kind: land.CommandAction, PlayerID: "bob", TypeIdentifier: "attack", Payload: payload, Result: result2})
	res2 := <-result2
	require.Error(t, res2.Err)
}

func TestRollDiceParsesExpression(t *testing.T) {
	total, err := rollDice(fixedRNG(0), "3d6+2")
	require.NoError(t, err)
	assert.Equal(t, 3*1+2, total) // n%sides with n=0 always yields 1 per die

	_, err = rollDice(fixedRNG(0), "not-dice")
	require.Error(t, err)
}
