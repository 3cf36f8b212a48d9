package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landkeeper/pkg/state"
	"landkeeper/pkg/wire"
)

type lobbyRoot struct {
	Count   int64                                `state:"count"`
	Players *state.ReactiveMap[*state.Container] `state:"players,perPlayer"`
}

type playerData struct {
	Score int64 `state:"score"`
}

func mustContainer(v any) *state.Container {
	c, err := state.NewContainer(v)
	if err != nil {
		panic(err)
	}
	return c
}

func newLobby() (*state.Container, *lobbyRoot, *state.PatchRecorder, *state.DirtyTracker) {
	root := &lobbyRoot{Players: state.NewPerPlayerMap[*state.Container]()}
	c := mustContainer(root)
	rec := state.NewPatchRecorder()
	dirty := state.NewDirtyTracker()
	c.View(state.Root(rec, dirty))
	return c, root, rec, dirty
}

func setPlayerScore(root *lobbyRoot, key string, score int64) {
	root.Players.Set(key, mustContainer(&playerData{Score: score}))
	entry, _ := root.Players.Get(key)
	if err := entry.Set("score", score); err != nil {
		panic(err)
	}
}

func TestIncrementalModeFiltersPerPlayerVisibility(t *testing.T) {
	c, root, rec, dirty := newLobby()
	require.NoError(t, c.Set("count", int64(1)))
	setPlayerScore(root, "p1", 10)
	setPlayerScore(root, "p2", 20)

	tick := TickInput{Patches: rec.Drain(), Dirty: dirty.Drain(), Root: c}

	engine := NewEngine(AdaptiveConfig{})
	players := []*PlayerView{{PlayerID: "p1"}, {PlayerID: "p2"}}
	updates, err := engine.ComputeUpdates(players, tick)
	require.NoError(t, err)

	p1Update := updates["p1"]
	assert.Equal(t, wire.UpdateDiff, p1Update.Kind)
	for _, patch := range p1Update.Patches {
		assert.NotContains(t, patch.Path, "/players/p2/")
	}
	paths := make([]string, len(p1Update.Patches))
	for i, p := range p1Update.Patches {
		paths[i] = p.Path
	}
	assert.Contains(t, paths, "/count")
	assert.Contains(t, paths, "/players/p1/score")
}

func TestFirstSyncSendsFilteredFullSnapshot(t *testing.T) {
	c, root, rec, dirty := newLobby()
	require.NoError(t, c.Set("count", int64(5)))
	setPlayerScore(root, "p1", 10)
	setPlayerScore(root, "p2", 20)

	tick := TickInput{Patches: rec.Drain(), Dirty: dirty.Drain(), Root: c}

	engine := NewEngine(AdaptiveConfig{})
	p1 := NewPlayerView("p1")
	updates, err := engine.ComputeUpdates([]*PlayerView{p1}, tick)
	require.NoError(t, err)

	u := updates["p1"]
	require.Equal(t, wire.UpdateFirstSync, u.Kind)
	snap, ok := u.Snapshot.(map[string]any)
	require.True(t, ok)
	players, ok := snap["players"].(map[string]any)
	require.True(t, ok)
	p1Entry, hasP1 := players["p1"]
	_, hasP2 := players["p2"]
	assert.True(t, hasP1)
	assert.False(t, hasP2)
	assert.False(t, p1.FirstSync)

	p1Fields, ok := p1Entry.(map[string]any)
	require.True(t, ok, "a player's own broadcast-default field nested under a perPlayer map entry must survive visibility filtering for that player")
	assert.EqualValues(t, 10, p1Fields["score"])
}

func TestNoChangeWhenTickHasNothingDirty(t *testing.T) {
	c, _, rec, dirty := newLobby()
	tick := TickInput{Patches: rec.Drain(), Dirty: dirty.Drain(), Root: c}

	engine := NewEngine(AdaptiveConfig{})
	p1 := &PlayerView{PlayerID: "p1"}
	updates, err := engine.ComputeUpdates([]*PlayerView{p1}, tick)
	require.NoError(t, err)
	assert.Equal(t, wire.UpdateNoChange, updates["p1"].Kind)
}

func TestDirtyWithoutPatchCoverageFallsBackToDirtySnapshotDiff(t *testing.T) {
	c, root, rec, dirty := newLobby()
	require.NoError(t, c.Set("count", int64(1)))
	setPlayerScore(root, "p1", 10)

	patches := rec.Drain()
	dirtyEntries := dirty.Drain()
	dirtyEntries = append(dirtyEntries, state.DirtyEntry{Path: "/ghost", Scope: state.Broadcast})

	tick := TickInput{Patches: patches, Dirty: dirtyEntries, Root: c}
	engine := NewEngine(AdaptiveConfig{})
	assert.Equal(t, ModeDirtySnapshotDiff, engine.selectPrimaryMode(tick))

	p1 := NewPlayerView("p1")
	updates, err := engine.ComputeUpdates([]*PlayerView{p1}, tick)
	require.NoError(t, err)
	assert.Equal(t, wire.UpdateFirstSync, updates["p1"].Kind)
}

func TestVisiblePatchHonorsScope(t *testing.T) {
	broadcast := state.Patch{Path: "/x", Scope: state.Broadcast}
	internal := state.Patch{Path: "/y", Scope: state.Internal}
	perPlayer := state.Patch{Path: "/z", Scope: state.PerPlayer, PerPlayerKey: "p1"}

	assert.True(t, visiblePatch(broadcast, "anyone"))
	assert.False(t, visiblePatch(internal, "p1"))
	assert.True(t, visiblePatch(perPlayer, "p1"))
	assert.False(t, visiblePatch(perPlayer, "p2"))
}
