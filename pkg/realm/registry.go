// Package realm implements the Realm/Router: the process-wide registry
// that maps a LandID to its live Keeper, creating instances on demand for
// landTypes that allow it.
package realm

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"landkeeper/pkg/land"
)

// Recorder is the replay recording surface a RecorderFactory hands back:
// land.Recorder lets a Keeper feed it applied inputs, and WriteTo persists
// what's been buffered so far to a path of the caller's choosing.
type Recorder interface {
	land.Recorder
	WriteTo(path string) error
}

// RecorderFactory builds the Recorder attached to a freshly created
// Keeper, one call per new instance. Returning nil skips recording for
// that instance (e.g. a deployment with replay recording disabled never
// sets a RecorderFactory at all).
type RecorderFactory func(landID, landType string) Recorder

// LandID joins a landType and instanceID into the wire-visible identifier
// form landType:instanceId; a string without ':' is treated as a pure type
// with an empty instance.
func LandID(landType, instanceID string) string {
	if instanceID == "" {
		return landType
	}
	return landType + ":" + instanceID
}

// ParseLandID splits id into its landType/instanceID parts. The parse is
// total: an id with no ':' yields an empty instanceID.
func ParseLandID(id string) (landType, instanceID string) {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

// Factory returns a fresh Definition for a landID being instantiated. It is
// called once per new instance (never for one already running) and must be
// cheap; landID lets a Land type seed its initial state deterministically
// from the instance identity (the dungeon Land's procedural generation does
// this).
type Factory func(landID string) (land.Definition, error)

type typeRegistration struct {
	newDefinition Factory
	cfg           land.Config
}

type runningKeeper struct {
	keeper   *land.Keeper
	cfg      land.Config
	cancel   context.CancelFunc
	stopped  chan struct{}
	recorder Recorder

	draining   bool
	emptySince time.Time
}

// Registry is the process-wide Realm. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	types     map[string]typeRegistration
	instances map[string]*runningKeeper

	services        *land.Services
	idGen           func() string
	recorderFactory RecorderFactory
	recordDir       string
	log             *logrus.Entry
}

// NewRegistry constructs an empty Registry. services is shared by every
// Keeper the Registry creates: Services are injected, not looked up
// globally.
func NewRegistry(services *land.Services) *Registry {
	return &Registry{
		types:     make(map[string]typeRegistration),
		instances: make(map[string]*runningKeeper),
		services:  services,
		idGen:     uuid.NewString,
		log:       logrus.WithField("component", "realm.Registry"),
	}
}

// SetRecorderFactory attaches the RecorderFactory consulted for every
// instance created from this point on; already-running instances are
// unaffected. Passing nil (the default) disables replay recording
// entirely.
func (r *Registry) SetRecorderFactory(f RecorderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorderFactory = f
}

// Register adds or replaces a landType's factory/config. Registering the
// same landType twice with an identical factory and cfg is always a
// no-op, even with live instances running. Registering it again with a
// different factory or cfg is rejected once any non-draining instance of
// that landType exists; with no live instance, the new registration
// simply replaces the old one.
func (r *Registry) Register(landType string, newDefinition Factory, cfg land.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.types[landType]
	unchanged := exists &&
		reflect.ValueOf(existing.newDefinition).Pointer() == reflect.ValueOf(newDefinition).Pointer() &&
		existing.cfg == cfg

	if exists && !unchanged {
		for landID, rk := range r.instances {
			if t, _ := ParseLandID(landID); t == landType && !rk.draining {
				return fmt.Errorf("realm: cannot re-register landType %q with a different factory/config: live instance %q", landType, landID)
			}
		}
	}
	r.types[landType] = typeRegistration{newDefinition: newDefinition, cfg: cfg}
	r.log.WithField("landType", landType).Info("registered land type")
	return nil
}

// Route resolves (landType, instanceID) to a live Keeper, minting a fresh
// instanceID when the caller supplied none and constructing a new instance
// when the landType's config allows auto-create. sink is
// consulted only when a new instance is built.
func (r *Registry) Route(landType, instanceID string, sink land.Sink) (*land.Keeper, string, error) {
	r.mu.RLock()
	reg, ok := r.types[landType]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("realm: unknown landType %q", landType)
	}

	if instanceID == "" {
		instanceID = r.idGen()
	}
	landID := LandID(landType, instanceID)

	if rk := r.lookup(landID); rk != nil {
		if rk.draining {
			return nil, "", fmt.Errorf("realm: land %q is draining", landID)
		}
		return rk.keeper, landID, nil
	}

	if !reg.cfg.AllowAutoCreateOnJoin {
		return nil, "", fmt.Errorf("realm: land %q does not exist and auto-create is disabled for landType %q", landID, landType)
	}

	return r.create(landID, reg, sink)
}

func (r *Registry) lookup(landID string) *runningKeeper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[landID]
}

func (r *Registry) create(landID string, reg typeRegistration, sink land.Sink) (*land.Keeper, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created this landID between our lookup
	// and taking the write lock.
	if rk, ok := r.instances[landID]; ok {
		if rk.draining {
			return nil, "", fmt.Errorf("realm: land %q is draining", landID)
		}
		return rk.keeper, landID, nil
	}

	def, err := reg.newDefinition(landID)
	if err != nil {
		return nil, "", fmt.Errorf("realm: building definition for %q: %w", landID, err)
	}
	keeper, err := land.NewKeeper(landID, def, reg.cfg, r.services, sink)
	if err != nil {
		return nil, "", err
	}

	var rec Recorder
	if r.recorderFactory != nil {
		if rec = r.recorderFactory(landID, def.LandType); rec != nil {
			keeper.SetRecorder(rec)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		keeper.Run(ctx)
		close(stopped)
	}()

	r.instances[landID] = &runningKeeper{keeper: keeper, cfg: reg.cfg, cancel: cancel, stopped: stopped, recorder: rec}
	r.log.WithFields(logrus.Fields{"landID": landID, "landType": def.LandType}).Info("created land instance")
	return keeper, landID, nil
}

// List returns a snapshot of every currently-tracked LandID, for admin
// inspection.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instances))
	for landID := range r.instances {
		out = append(out, landID)
	}
	return out
}

// Remove drains and evicts landID: new routes are refused immediately,
// the Keeper is told to stop (which notifies its Sink to unsubscribe all
// sessions), and Remove blocks until the Keeper's loop has actually
// terminated before evicting the entry.
func (r *Registry) Remove(landID string) error {
	r.mu.Lock()
	rk, ok := r.instances[landID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("realm: land %q not found", landID)
	}
	if rk.draining {
		r.mu.Unlock()
		return nil
	}
	rk.draining = true
	r.mu.Unlock()

	rk.keeper.Stop()
	<-rk.stopped
	rk.cancel()

	if rk.recorder != nil {
		r.mu.RLock()
		dir := r.recordDir
		r.mu.RUnlock()
		if dir != "" {
			if err := rk.recorder.WriteTo(recordPath(dir, landID)); err != nil {
				r.log.WithError(err).WithField("landID", landID).Warn("final replay record flush failed")
			}
		}
	}

	r.mu.Lock()
	delete(r.instances, landID)
	r.mu.Unlock()
	r.log.WithField("landID", landID).Info("evicted land instance")
	return nil
}

// SetRecordDir sets the directory FlushRecords and Remove's final flush
// write replay records into. Empty (the default) disables both — useful
// when a RecorderFactory is set but the caller wants to manage
// persistence entirely itself.
func (r *Registry) SetRecordDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordDir = dir
}

func recordPath(dir, landID string) string {
	return filepath.Join(dir, RecordFilename(landID))
}

// RecordFilename is the on-disk basename FlushRecords and Remove's final
// flush write a landID's replay record under. Exported so a RecordStore
// reading those files back (cmd/server wires admin.RecordStore this way)
// uses the identical convention rather than re-deriving it.
func RecordFilename(landID string) string {
	return strings.ReplaceAll(landID, ":", "_") + ".json"
}

// FlushRecords persists every live instance's recorder (if any) to
// RecordDir, for periodic durability between Keeper lifecycle events. It
// is a no-op for any instance with no recorder attached, and entirely a
// no-op if RecordDir was never set.
func (r *Registry) FlushRecords() {
	r.mu.RLock()
	dir := r.recordDir
	type entry struct {
		landID string
		rec    Recorder
	}
	var entries []entry
	for landID, rk := range r.instances {
		if rk.recorder != nil {
			entries = append(entries, entry{landID, rk.recorder})
		}
	}
	r.mu.RUnlock()
	if dir == "" {
		return
	}

	for _, e := range entries {
		if err := e.rec.WriteTo(recordPath(dir, e.landID)); err != nil {
			r.log.WithError(err).WithField("landID", e.landID).Warn("periodic replay record flush failed")
		}
	}
}

// RunRecordFlusher periodically calls FlushRecords until ctx is cancelled.
func (r *Registry) RunRecordFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.FlushRecords()
		}
	}
}

// PlayerCount reports the joined-player count of a live landID, or false
// if no such instance is tracked.
func (r *Registry) PlayerCount(landID string) (int, bool) {
	rk := r.lookup(landID)
	if rk == nil {
		return 0, false
	}
	return rk.keeper.PlayerCount(), true
}

// Get returns landID's live Keeper without creating one, for read-only
// callers (the Admin HTTP API, the replay Verifier driving against a live
// instance) that must never trigger auto-create.
func (r *Registry) Get(landID string) (*land.Keeper, bool) {
	rk := r.lookup(landID)
	if rk == nil {
		return nil, false
	}
	return rk.keeper, true
}

// RunIdleReaper periodically evicts Keepers that have sat empty past their
// landType's IdleTimeout, until ctx is cancelled.
// Zero IdleTimeout means a landType is never idle-evicted.
func (r *Registry) RunIdleReaper(ctx context.Context, sweep time.Duration) {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

func (r *Registry) sweepIdle() {
	now := time.Now()

	type candidate struct {
		landID string
		rk     *runningKeeper
	}
	var expired []candidate

	r.mu.Lock()
	for landID, rk := range r.instances {
		if rk.draining || rk.cfg.IdleTimeout <= 0 {
			continue
		}
		if rk.keeper.PlayerCount() > 0 {
			rk.emptySince = time.Time{}
			continue
		}
		if rk.emptySince.IsZero() {
			rk.emptySince = now
			continue
		}
		if now.Sub(rk.emptySince) >= rk.cfg.IdleTimeout {
			expired = append(expired, candidate{landID, rk})
		}
	}
	r.mu.Unlock()

	for _, c := range expired {
		r.log.WithField("landID", c.landID).Info("evicting idle land instance")
		if err := r.Remove(c.landID); err != nil {
			r.log.WithError(err).WithField("landID", c.landID).Warn("idle eviction failed")
		}
	}
}
