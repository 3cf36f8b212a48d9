package syncengine

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"landkeeper/pkg/state"
	"landkeeper/pkg/wire"
)

// PlayerView is the engine's per-player bookkeeping: the last snapshot this
// player is assumed to have acknowledged, and whether its next update must
// be a full sync (either because it never had one, or because a confirmed
// desync forces a resync).
type PlayerView struct {
	PlayerID      string
	LastSnapshot  state.Value
	FirstSync     bool
	ForceFullDiff bool
}

// NewPlayerView returns a view that will receive a firstSync update the next
// time ComputeUpdates runs.
func NewPlayerView(playerID string) *PlayerView {
	return &PlayerView{PlayerID: playerID, FirstSync: true}
}

func (p *PlayerView) applyPatches(patches []wire.PatchWire) {
	for _, patch := range patches {
		if patch.Op == wire.PatchRemove {
			p.LastSnapshot = removeValueAtPath(p.LastSnapshot, patch.Path)
			continue
		}
		v, err := state.FromAny(patch.Value)
		if err != nil {
			v = state.Null()
		}
		p.LastSnapshot = setValueAtPath(p.LastSnapshot, patch.Path, v)
	}
}

// TickInput is what a Land Keeper hands the engine on each sync pass: the
// patches and dirty entries recorded since the previous pass (possibly
// none) and the state root.
type TickInput struct {
	Patches []state.Patch
	Dirty   []state.DirtyEntry
	Root    state.Node
}

// Engine computes per-player StateUpdates from a tick's output.
type Engine struct {
	mu       sync.Mutex
	cfg      AdaptiveConfig
	adaptive adaptiveState
	log      *logrus.Entry
	lastMode Mode
}

// LastMode returns the primary Mode selected by the most recent
// ComputeUpdates call, for metrics reporting.
func (e *Engine) LastMode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastMode
}

// NewEngine constructs an Engine with the given adaptive-mode-switch
// configuration (zero value: adaptation disabled, dirty tracking always on).
func NewEngine(cfg AdaptiveConfig) *Engine {
	return &Engine{cfg: cfg, log: logrus.WithField("component", "syncengine")}
}

func coverageOK(dirty []state.DirtyEntry, patches []state.Patch) bool {
	covered := make(map[string]struct{}, len(patches))
	for _, p := range patches {
		covered[p.Path] = struct{}{}
	}
	for _, d := range dirty {
		if _, ok := covered[d.Path]; !ok {
			return false
		}
	}
	return true
}

func visiblePatch(p state.Patch, playerID string) bool {
	switch p.Scope {
	case state.Broadcast:
		return true
	case state.PerPlayer:
		return p.PerPlayerKey == playerID
	default:
		return false
	}
}

// ComputeUpdates produces one StateUpdateWire per player in players.
func (e *Engine) ComputeUpdates(players []*PlayerView, tick TickInput) (map[string]wire.StateUpdateWire, error) {
	updates := make(map[string]wire.StateUpdateWire, len(players))

	if len(tick.Patches) == 0 && len(tick.Dirty) == 0 {
		e.mu.Lock()
		e.lastMode = ModeIncremental
		e.mu.Unlock()
		for _, p := range players {
			if p.FirstSync || p.ForceFullDiff {
				u, err := e.fullSyncOrDiff(p, tick)
				if err != nil {
					return nil, fmt.Errorf("syncengine: firstSync for %q: %w", p.PlayerID, err)
				}
				updates[p.PlayerID] = u
				continue
			}
			updates[p.PlayerID] = wire.StateUpdateWire{Kind: wire.UpdateNoChange}
		}
		return updates, nil
	}

	primary := e.selectPrimaryMode(tick)
	e.mu.Lock()
	e.lastMode = primary
	e.mu.Unlock()

	needFull := primary != ModeIncremental
	for _, p := range players {
		if p.FirstSync || p.ForceFullDiff {
			needFull = true
		}
	}

	var (
		fullScoped state.Value
		scopes     map[string]state.ScopeInfo
	)
	if needFull {
		var err error
		fullScoped, scopes, err = state.ScopedSnapshot(tick.Root)
		if err != nil {
			return nil, fmt.Errorf("syncengine: scoped snapshot: %w", err)
		}
	}

	for i, p := range players {
		mode := primary
		if p.FirstSync || p.ForceFullDiff {
			mode = ModeFullDiff
		}

		var (
			update    wire.StateUpdateWire
			sentBytes int
			err       error
		)
		switch mode {
		case ModeIncremental:
			update, sentBytes = e.incrementalUpdate(p, tick)
		case ModeDirtySnapshotDiff:
			update, sentBytes, err = e.dirtySnapshotDiffUpdate(p, tick, fullScoped, scopes)
		default:
			update, sentBytes, err = e.fullDiffUpdateWith(p, fullScoped, scopes)
		}
		if err != nil {
			return nil, fmt.Errorf("syncengine: player %q: %w", p.PlayerID, err)
		}
		updates[p.PlayerID] = update

		if i == 0 && mode != ModeFullDiff {
			e.sampleAdaptive(mode, p, tick, fullScoped, scopes, sentBytes)
		}
	}

	return updates, nil
}

func (e *Engine) selectPrimaryMode(tick TickInput) Mode {
	e.mu.Lock()
	disabled := e.adaptive.dirtyTrackingDisabled
	e.mu.Unlock()
	if disabled {
		return ModeFullDiff
	}
	if !coverageOK(tick.Dirty, tick.Patches) {
		return ModeDirtySnapshotDiff
	}
	return ModeIncremental
}

func (e *Engine) incrementalUpdate(p *PlayerView, tick TickInput) (wire.StateUpdateWire, int) {
	var pw []wire.PatchWire
	bytes := 0
	for _, patch := range tick.Patches {
		if !visiblePatch(patch, p.PlayerID) {
			continue
		}
		w := wire.PatchWire{Path: patch.Path, Op: patch.Op}
		if patch.Op != wire.PatchRemove {
			w.Value = state.ToNative(patch.Value)
		}
		pw = append(pw, w)
		bytes += patchBytes(patch.Path, patch.Value)
	}
	if len(pw) == 0 {
		return wire.StateUpdateWire{Kind: wire.UpdateNoChange}, 0
	}
	p.applyPatches(pw)
	p.ForceFullDiff = false
	return wire.StateUpdateWire{Kind: wire.UpdateDiff, Patches: pw}, bytes
}

func (e *Engine) fullSyncOrDiff(p *PlayerView, tick TickInput) (wire.StateUpdateWire, error) {
	fullScoped, scopes, err := state.ScopedSnapshot(tick.Root)
	if err != nil {
		return wire.StateUpdateWire{}, err
	}
	u, _, err := e.fullDiffUpdateWith(p, fullScoped, scopes)
	return u, err
}

func (e *Engine) fullDiffUpdateWith(p *PlayerView, fullScoped state.Value, scopes map[string]state.ScopeInfo) (wire.StateUpdateWire, int, error) {
	visible := filterVisible(fullScoped, scopes, "", p.PlayerID)

	if p.FirstSync {
		p.FirstSync = false
		p.ForceFullDiff = false
		p.LastSnapshot = visible
		native := state.ToNative(visible)
		enc, _ := state.CanonicalEncode(visible)
		return wire.StateUpdateWire{Kind: wire.UpdateFirstSync, Snapshot: native}, len(enc), nil
	}

	patches, err := diffValues(p.LastSnapshot, visible, "")
	if err != nil {
		return wire.StateUpdateWire{}, 0, err
	}
	p.ForceFullDiff = false
	p.LastSnapshot = visible
	if len(patches) == 0 {
		return wire.StateUpdateWire{Kind: wire.UpdateNoChange}, 0, nil
	}
	return wire.StateUpdateWire{Kind: wire.UpdateDiff, Patches: toWirePatches(patches)}, sumBytes(patches), nil
}

func (e *Engine) dirtySnapshotDiffUpdate(p *PlayerView, tick TickInput, fullScoped state.Value, scopes map[string]state.ScopeInfo) (wire.StateUpdateWire, int, error) {
	if p.LastSnapshot.IsNull() {
		return e.fullDiffUpdateWith(p, fullScoped, scopes)
	}

	visible := filterVisible(fullScoped, scopes, "", p.PlayerID)

	roots := make(map[string]struct{})
	for _, d := range tick.Dirty {
		roots[pathRoot(d.Path)] = struct{}{}
	}

	var all []computedPatch
	for root := range roots {
		oldSub, oldOK := valueAtPath(p.LastSnapshot, root)
		newSub, newOK := valueAtPath(visible, root)
		if !oldOK && !newOK {
			continue
		}
		sub, err := diffValues(oldSub, newSub, root)
		if err != nil {
			return wire.StateUpdateWire{}, 0, err
		}
		all = append(all, sub...)
	}

	p.ForceFullDiff = false
	p.LastSnapshot = visible
	if len(all) == 0 {
		return wire.StateUpdateWire{Kind: wire.UpdateNoChange}, 0, nil
	}
	return wire.StateUpdateWire{Kind: wire.UpdateDiff, Patches: toWirePatches(all)}, sumBytes(all), nil
}

// sampleAdaptive feeds the adaptive mode switch a cheap estimate of what the
// road-not-taken mode would have cost for one representative player, so the
// engine can decide whether to disable or re-enable dirty tracking.
func (e *Engine) sampleAdaptive(used Mode, p *PlayerView, tick TickInput, fullScoped state.Value, scopes map[string]state.ScopeInfo, usedBytes int) {
	if !e.cfg.Enabled {
		return
	}

	var incBytes, diffBytes int
	switch used {
	case ModeIncremental:
		incBytes = usedBytes
		if fullScoped.IsNull() {
			return
		}
		visible := filterVisible(fullScoped, scopes, "", p.PlayerID)
		roots := make(map[string]struct{})
		for _, d := range tick.Dirty {
			roots[pathRoot(d.Path)] = struct{}{}
		}
		for root := range roots {
			oldSub, _ := valueAtPath(p.LastSnapshot, root)
			newSub, _ := valueAtPath(visible, root)
			sub, err := diffValues(oldSub, newSub, root)
			if err != nil {
				continue
			}
			diffBytes += sumBytes(sub)
		}
	default:
		diffBytes = usedBytes
		for _, patch := range tick.Patches {
			if visiblePatch(patch, p.PlayerID) {
				incBytes += patchBytes(patch.Path, patch.Value)
			}
		}
	}

	e.mu.Lock()
	e.adaptive.recordSample(e.cfg, incBytes, diffBytes, true)
	e.mu.Unlock()
}
