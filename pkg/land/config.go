// Package land implements the Land Keeper: a single-writer serial loop that
// owns one room's authoritative state, drains its command queue once per
// tick, and hands tick output to the Sync Engine.
package land

import "time"

// DirtyTrackingMode selects how the Keeper's Sync Engine chooses between
// incremental and full-diff sync.
type DirtyTrackingMode int

const (
	// DirtyTrackingEnabled always prefers the incremental path when coverage
	// allows it.
	DirtyTrackingEnabled DirtyTrackingMode = iota
	// DirtyTrackingDisabled always uses full diff.
	DirtyTrackingDisabled
	// DirtyTrackingAdaptive lets the engine disable/re-enable dirty tracking
	// based on consecutive-tick byte-cost comparisons.
	DirtyTrackingAdaptive
)

// Config is the per-Land-type configuration a Realm registration supplies
//.
type Config struct {
	// TickInterval is the Keeper's tick period. Zero means event-driven: no
	// ticker runs, and every action/clientEvent command is followed at once
	// by its own tick boundary and Sync Engine pass, whether or not its
	// handler called SyncNow.
	TickInterval time.Duration
	// StateSyncInterval is the cadence at which the Sync Engine emits
	// updates (including noChange heartbeats), independent of TickInterval.
	StateSyncInterval time.Duration
	// IdleTimeout is how long a Land with zero joined players may sit
	// before the Realm tears it down. Zero means never.
	IdleTimeout time.Duration
	// MaxPlayers is the player cap enforced on join. Zero means unlimited.
	MaxPlayers int
	// AllowGuestMode permits join without a bearer token, via a
	// host-supplied PlayerSession factory.
	AllowGuestMode bool
	// AllowAutoCreateOnJoin lets the Realm mint a new Land instance for a
	// join that names only a landType.
	AllowAutoCreateOnJoin bool
	// DirtyTracking selects the Sync Engine's mode-selection policy.
	DirtyTracking DirtyTrackingMode
	// AdaptiveDisableAfterSamples/AdaptiveReenableAfterSamples are only
	// consulted when DirtyTracking == DirtyTrackingAdaptive.
	AdaptiveDisableAfterSamples int
	AdaptiveReenableAfterSamples int
	// ResolverTimeout bounds how long the Keeper waits for a command's
	// resolvers before failing the command.
	ResolverTimeout time.Duration
	// JoinTimeout bounds how long the Transport Adapter waits for a join
	// command's result before giving up.
	JoinTimeout time.Duration
}

// DefaultConfig returns the values used when a landType registers without
// overriding a field explicitly.
func DefaultConfig() Config {
	return Config{
		TickInterval:      33 * time.Millisecond,
		StateSyncInterval: 33 * time.Millisecond,
		IdleTimeout:       5 * time.Minute,
		MaxPlayers:        0,
		DirtyTracking:     DirtyTrackingEnabled,
		ResolverTimeout:   2 * time.Second,
		JoinTimeout:       10 * time.Second,
	}
}
