package land

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"landkeeper/pkg/metrics"
	"landkeeper/pkg/state"
	"landkeeper/pkg/syncengine"
	"landkeeper/pkg/wire"
)

// Definition is what a Realm factory returns for a landType: the state
// template and the registered operations.
type Definition struct {
	LandType string
	// NewState returns a fresh pointer-to-struct state tree for a new Land
	// instance. It must be a pure constructor: no wall clock, no RNG.
	NewState func() (any, error)
	// Handlers maps an action/clientEvent TypeIdentifier to its Handler.
	Handlers map[string]Handler
	// OnTick, if set, runs once per tick after commands are drained and
	// before the Sync Engine computes updates.
	OnTick func(ctx *Context, root *state.Container) error
	// OnJoin/OnLeave, if set, run as part of processing a join/leave
	// command, after slot assignment/release.
	OnJoin  func(ctx *Context, root *state.Container) error
	OnLeave func(ctx *Context, root *state.Container) error
}

// Sink receives a Keeper's output: per-player sync frames and server events.
// The Transport Adapter implements this to fan out over the wire. Methods
// must not block the Keeper loop.
type Sink interface {
	DeliverUpdate(playerID string, update wire.StateUpdateWire)
	DeliverEvents(events []OutgoingEvent)
	// Shutdown is called once when the Keeper loop exits, so the adapter
	// can close remaining sessions with a shutdown code.
	Shutdown(reason string)
}

// Keeper runs one Land's single-writer loop.
type Keeper struct {
	LandID   string
	LandType string
	cfg      Config

	def      Definition
	root     *state.Container
	services *Services
	sink     Sink
	engine   *syncengine.Engine

	commands chan *Command
	done     chan struct{}

	log *logrus.Entry

	mu       sync.Mutex
	slots    *slotFreeList
	players  map[string]int // playerID -> slot
	views    map[string]*syncengine.PlayerView
	tick     uint64
	lastSync time.Time

	// pendingRec/pendingDirty accumulate every mutation recorded by a
	// handler or OnTick since the last dispatchSync drained them. root is
	// mounted with these once, in NewKeeper, rather than re-viewed per
	// command/tick, so patches survive across however many commands and
	// ticks land between two sync passes.
	pendingRec   *state.PatchRecorder
	pendingDirty *state.DirtyTracker

	recorder Recorder
}

// NewKeeper constructs a Keeper with a freshly built state tree, ready for
// Run to be called. rootValue must be a pointer to a struct decorated with
// `state:"..."` tags.
func NewKeeper(landID string, def Definition, cfg Config, services *Services, sink Sink) (*Keeper, error) {
	rootValue, err := def.NewState()
	if err != nil {
		return nil, fmt.Errorf("land: building initial state for %q: %w", landID, err)
	}
	container, err := state.NewContainer(rootValue)
	if err != nil {
		return nil, fmt.Errorf("land: wrapping state container for %q: %w", landID, err)
	}

	adaptive := syncengine.AdaptiveConfig{
		Enabled:              cfg.DirtyTracking == DirtyTrackingAdaptive,
		DisableAfterSamples:  cfg.AdaptiveDisableAfterSamples,
		ReenableAfterSamples: cfg.AdaptiveReenableAfterSamples,
	}

	pendingRec := state.NewPatchRecorder()
	pendingDirty := state.NewDirtyTracker()
	container.View(state.Root(pendingRec, pendingDirty))

	return &Keeper{
		LandID:       landID,
		LandType:     def.LandType,
		cfg:          cfg,
		def:          def,
		root:         container,
		services:     services,
		sink:         sink,
		engine:       syncengine.NewEngine(adaptive),
		commands:     make(chan *Command, 64),
		done:         make(chan struct{}),
		log:          logrus.WithFields(logrus.Fields{"component": "land.Keeper", "landID": landID, "landType": def.LandType}),
		slots:        newSlotFreeList(),
		players:      make(map[string]int),
		views:        make(map[string]*syncengine.PlayerView),
		pendingRec:   pendingRec,
		pendingDirty: pendingDirty,
	}, nil
}

// Submit enqueues a command. It never blocks the caller beyond the channel
// buffer; callers awaiting a result should read cmd.Result.
func (k *Keeper) Submit(cmd *Command) {
	select {
	case <-k.done:
		cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrShuttingDown, Message: "land is shutting down"})
		return
	default:
	}
	select {
	case k.commands <- cmd:
	case <-k.done:
		cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrShuttingDown, Message: "land is shutting down"})
	}
}

// PlayerCount returns the number of currently joined players.
func (k *Keeper) PlayerCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.slots.Count()
}

// JoinTimeout returns the landType's configured join-result deadline, so
// the Transport Adapter can bound how long it waits on CommandJoin without
// hardcoding a value independent of this Keeper's own Config.
func (k *Keeper) JoinTimeout() time.Duration {
	return k.cfg.JoinTimeout
}

// Stop signals the loop to exit after draining in-flight commands with a
// shutdown error, matching cancellation semantics.
func (k *Keeper) Stop() {
	close(k.done)
}

// Run drives the tick loop until Stop is called. It is meant to be started
// once per Land instance in its own goroutine.
func (k *Keeper) Run(ctx context.Context) {
	metrics.Default.LandStarted()
	defer metrics.Default.LandStopped()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if k.cfg.TickInterval > 0 {
		ticker = time.NewTicker(k.cfg.TickInterval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	// The Sync Engine pass runs on its own ticker at StateSyncInterval, so
	// a Land can simulate faster than it pushes updates to clients (or vice
	// versa) instead of always sending one sync per tick. StateSyncInterval
	// <= 0 falls back to TickInterval's cadence, matching the pre-decoupled
	// behavior. Event-driven Lands (TickInterval == 0) never start this
	// ticker; every command syncs immediately in processCommand instead.
	var syncTicker *time.Ticker
	var syncC <-chan time.Time
	if k.cfg.TickInterval > 0 {
		syncInterval := k.cfg.StateSyncInterval
		if syncInterval <= 0 {
			syncInterval = k.cfg.TickInterval
		}
		syncTicker = time.NewTicker(syncInterval)
		syncC = syncTicker.C
		defer syncTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			k.drainShutdown()
			return
		case <-k.done:
			k.drainShutdown()
			return
		case cmd := <-k.commands:
			k.processCommand(ctx, cmd)
		case <-tickC:
			// select picks among ready cases at random, so commands may
			// still be queued when the tick fires: drain the ones already
			// queued first, so commands that arrived before the tick
			// deadline are always processed before that tick.
			for n := len(k.commands); n > 0; n-- {
				k.processCommand(ctx, <-k.commands)
			}
			k.runTick(ctx)
		case <-syncC:
			k.dispatchSync()
		}
	}
}

func (k *Keeper) drainShutdown() {
	for {
		select {
		case cmd := <-k.commands:
			cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrShuttingDown, Message: "land is shutting down"})
		default:
			k.sink.Shutdown("keeper stopped")
			return
		}
	}
}

// runTick fires onTick (if any) and closes out the simulation tick: the
// recorded hash boundary always advances here, at TickInterval cadence,
// independent of whenever dispatchSync next runs on its own ticker.
func (k *Keeper) runTick(ctx context.Context) {
	var events []OutgoingEvent
	synced := false

	if k.def.OnTick != nil {
		hctx := &Context{Context: ctx, Services: k.services, events: &events, synced: &synced}
		if err := k.def.OnTick(hctx, k.root); err != nil {
			k.log.WithError(err).Warn("onTick handler returned an error")
		}
	}

	k.tick++
	k.dispatchEvents(events)
	k.recordTickBoundary()
	metrics.Default.TickProcessed(k.LandType)
}

// recordTickBoundary finalizes the current tick's buffered recorder entries
// with the tick's canonical state hash, if a Recorder is attached. No-op
// otherwise: hashing every tick's full state is not free.
func (k *Keeper) recordTickBoundary() {
	if k.recorder == nil {
		return
	}
	snap, err := k.root.Snapshot()
	if err != nil {
		k.log.WithError(err).Error("replay: failed to snapshot state for tick hash")
		return
	}
	hash, err := state.Hash(snap)
	if err != nil {
		k.log.WithError(err).Error("replay: failed to hash state snapshot")
		return
	}
	k.recorder.RecordTick(k.tick, hash)
}

// dispatchSync drains every patch/dirty mark accumulated since the last
// call and hands them to the Sync Engine. It is the only place
// pendingRec/pendingDirty are drained, so it may run at a different
// cadence than runTick without losing anything recorded in between.
func (k *Keeper) dispatchSync() {
	k.mu.Lock()
	views := make([]*syncengine.PlayerView, 0, len(k.views))
	for _, v := range k.views {
		views = append(views, v)
	}
	k.mu.Unlock()

	if len(views) == 0 {
		return
	}

	updates, err := k.engine.ComputeUpdates(views, syncengine.TickInput{
		Patches: k.pendingRec.Drain(),
		Dirty:   k.pendingDirty.Drain(),
		Root:    k.root,
	})
	if err != nil {
		k.log.WithError(err).Error("sync engine failed to compute updates")
		return
	}
	metrics.Default.SyncModeUsed(k.LandType, k.engine.LastMode().String())
	for playerID, update := range updates {
		if encoded, err := json.Marshal(update); err == nil {
			metrics.Default.ObservePatchBytes(k.LandType, len(encoded))
		}
		k.sink.DeliverUpdate(playerID, update)
	}
}

func (k *Keeper) dispatchEvents(events []OutgoingEvent) {
	if len(events) > 0 {
		k.sink.DeliverEvents(events)
	}
}

// processCommand runs a single command's resolvers (if any) then its
// handler, whose mutations go into the Keeper's pending patch recorder
// until the next dispatchSync, and replies exactly once.
func (k *Keeper) processCommand(ctx context.Context, cmd *Command) {
	switch cmd.Kind {
	case CommandJoin:
		k.handleJoin(cmd)
		return
	case CommandLeave:
		k.handleLeave(cmd)
		return
	case CommandTickFire:
		k.runTick(ctx)
		if k.cfg.TickInterval == 0 {
			k.dispatchSync()
		}
		cmd.Reply(nil, nil)
		return
	case CommandAdmin:
		k.handleAdmin(cmd)
		return
	}

	handler, ok := k.def.Handlers[cmd.TypeIdentifier]
	if !ok {
		cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrUnknownAction, Message: fmt.Sprintf("unknown action %q", cmd.TypeIdentifier)})
		return
	}

	resolved, err := k.runResolvers(ctx, handler.Resolvers, cmd.Payload)
	if err != nil {
		cmd.Reply(nil, HandlerError(err))
		return
	}

	var events []OutgoingEvent
	synced := false
	hctx := &Context{
		Context:   ctx,
		PlayerID:  cmd.PlayerID,
		ClientID:  cmd.ClientID,
		SessionID: cmd.SessionID,
		RequestID: cmd.RequestID,
		Services:  k.services,
		events:    &events,
		synced:    &synced,
	}

	resp, err := handler.Run(hctx, k.root, cmd.Payload, resolved)

	if k.recorder != nil && err == nil {
		switch cmd.Kind {
		case CommandAction:
			k.recorder.RecordAction(cmd.PlayerID, cmd.TypeIdentifier, cmd.Payload, cmd.RequestID)
		case CommandClientEvent:
			k.recorder.RecordClientEvent(cmd.PlayerID, cmd.TypeIdentifier, cmd.Payload)
		}
	}

	k.dispatchEvents(events)
	if k.cfg.TickInterval == 0 {
		// Event-driven Land: there is no tick to piggyback on, so every
		// command's recorded patches are synced immediately regardless of
		// whether the handler called SyncNow explicitly. Each command is
		// therefore also its own tick boundary for replay purposes.
		k.tick++
		k.dispatchSync()
		k.recordTickBoundary()
	}

	if cmd.Kind == CommandAction {
		if err != nil {
			metrics.Default.PlayerAction(cmd.TypeIdentifier, "error")
		} else {
			metrics.Default.PlayerAction(cmd.TypeIdentifier, "success")
		}
	}

	if err != nil {
		cmd.Reply(nil, HandlerError(err))
		return
	}
	cmd.Reply(resp, nil)
}

// runResolvers runs every declared resolver concurrently; if any fails, the
// others are cancelled and the failure (wrapped with the resolver's name)
// is returned.
func (k *Keeper) runResolvers(ctx context.Context, resolvers []Resolver, payload json.RawMessage) (map[string]any, error) {
	if len(resolvers) == 0 {
		return nil, nil
	}

	rctx, cancel := context.WithCancel(ctx)
	if k.cfg.ResolverTimeout > 0 {
		var timeoutCancel context.CancelFunc
		rctx, timeoutCancel = context.WithTimeout(rctx, k.cfg.ResolverTimeout)
		defer timeoutCancel()
	}
	defer cancel()

	type outcome struct {
		name string
		val  any
		err  error
	}
	results := make(chan outcome, len(resolvers))

	for _, r := range resolvers {
		r := r
		go func() {
			val, err := r.Run(rctx, payload)
			results <- outcome{name: r.Name, val: val, err: err}
		}()
	}

	out := make(map[string]any, len(resolvers))
	var firstErr error
	for i := 0; i < len(resolvers); i++ {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = &ResolverError{Name: res.name, Err: res.err}
			cancel()
			continue
		}
		if firstErr == nil {
			out[res.name] = res.val
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (k *Keeper) handleJoin(cmd *Command) {
	k.mu.Lock()
	if k.cfg.MaxPlayers > 0 && k.slots.Count() >= k.cfg.MaxPlayers {
		k.mu.Unlock()
		metrics.Default.JoinOutcome(k.LandType, "rejected")
		cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrLandFull, Message: "land is full"})
		return
	}
	if _, already := k.players[cmd.PlayerID]; already {
		k.mu.Unlock()
		metrics.Default.JoinOutcome(k.LandType, "rejected")
		cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrProtocolInvalid, Message: "player already joined"})
		return
	}
	slot := k.slots.Acquire()
	k.players[cmd.PlayerID] = slot
	k.views[cmd.PlayerID] = syncengine.NewPlayerView(cmd.PlayerID)
	k.mu.Unlock()

	if k.def.OnJoin != nil {
		var events []OutgoingEvent
		synced := false
		hctx := &Context{Context: context.Background(), PlayerID: cmd.PlayerID, SessionID: cmd.SessionID, Services: k.services, events: &events, synced: &synced}
		if err := k.def.OnJoin(hctx, k.root); err != nil {
			k.log.WithError(err).WithField("playerID", cmd.PlayerID).Warn("onJoin handler returned an error")
		}
		k.dispatchEvents(events)
	}
	// A newly joined player always gets an immediate sync pass (its first
	// sync is a full snapshot, regardless of whether anything else changed
	// since the periodic sync ticker last ran).
	k.dispatchSync()

	if k.recorder != nil {
		k.recorder.RecordLifecycle("join", cmd.PlayerID)
	}

	metrics.Default.JoinOutcome(k.LandType, "accepted")

	if cmd.Result != nil {
		cmd.Result <- CommandResult{JoinAccepted: true, PlayerSlot: slot}
		close(cmd.Result)
	}
}

func (k *Keeper) handleLeave(cmd *Command) {
	k.mu.Lock()
	slot, ok := k.players[cmd.PlayerID]
	if !ok {
		k.mu.Unlock()
		cmd.Reply(nil, nil)
		return
	}
	delete(k.players, cmd.PlayerID)
	delete(k.views, cmd.PlayerID)
	k.slots.Release(slot)
	k.mu.Unlock()

	if k.def.OnLeave != nil {
		var events []OutgoingEvent
		synced := false
		hctx := &Context{Context: context.Background(), PlayerID: cmd.PlayerID, SessionID: cmd.SessionID, Services: k.services, events: &events, synced: &synced}
		if err := k.def.OnLeave(hctx, k.root); err != nil {
			k.log.WithError(err).WithField("playerID", cmd.PlayerID).Warn("onLeave handler returned an error")
		}
		k.dispatchEvents(events)
		k.dispatchSync()
	}

	if k.recorder != nil {
		k.recorder.RecordLifecycle("leave", cmd.PlayerID)
	}

	cmd.Reply(nil, nil)
}

// handleAdmin answers read-only introspection queries, both for pkg/admin's
// HTTP surface and for pkg/replay's Verifier, which needs a point-in-time
// state hash without reaching into the Keeper's private state tree.
func (k *Keeper) handleAdmin(cmd *Command) {
	switch cmd.AdminOp {
	case "stateHash":
		snap, err := k.root.Snapshot()
		if err != nil {
			cmd.Reply(nil, err)
			return
		}
		hash, err := state.Hash(snap)
		if err != nil {
			cmd.Reply(nil, err)
			return
		}
		cmd.Reply(hash, nil)
	case "stats":
		cmd.Reply(map[string]any{
			"landID":      k.LandID,
			"landType":    k.LandType,
			"playerCount": k.PlayerCount(),
			"tick":        k.tick,
		}, nil)
	default:
		cmd.Reply(nil, &wire.ErrorFrame{Code: wire.ErrProtocolInvalid, Message: fmt.Sprintf("unknown admin op %q", cmd.AdminOp)})
	}
}

// Query submits a read-only CommandAdmin request and waits for the answer,
// for external introspection callers that have no business reaching into
// the Keeper's private state (pkg/admin's HTTP surface, pkg/replay's
// Verifier).
func (k *Keeper) Query(ctx context.Context, adminOp string) (any, error) {
	result := make(chan CommandResult, 1)
	k.Submit(&Command{Kind: CommandAdmin, AdminOp: adminOp, Result: result})
	select {
	case res := <-result:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PlayerSlot returns the slot assigned to playerID and whether they are
// currently joined.
func (k *Keeper) PlayerSlot(playerID string) (int, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot, ok := k.players[playerID]
	return slot, ok
}
