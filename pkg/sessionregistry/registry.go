// Package sessionregistry implements the optional multi-node single-session
// guarantee: a short-TTL PlayerID->nodeID lease, refreshed by
// heartbeats, with a kick-on-duplicate-login handshake between nodes. A
// single-node deployment never constructs a Registry and the guarantee
// degrades gracefully to "whatever the one node's Adapter already enforces."
package sessionregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"landkeeper/pkg/retry"
)

// Lease is one PlayerID's current node assignment.
type Lease struct {
	PlayerID  string
	NodeID    string
	ExpiresAt time.Time
}

// Store is the shared table behind the registry. A real multi-node
// deployment backs this with an external store offering atomic conditional
// writes; MemoryStore is the in-process stand-in used for single-process
// tests and for a single-node deployment that still wants the same API.
type Store interface {
	// Acquire grants playerID's lease to nodeID if unheld or expired.
	// ok is false when a live lease is held by a different node, in which
	// case heldBy names that node.
	Acquire(ctx context.Context, playerID, nodeID string, ttl time.Duration) (ok bool, heldBy string, err error)
	// Refresh extends playerID's lease, provided nodeID still holds it.
	Refresh(ctx context.Context, playerID, nodeID string, ttl time.Duration) error
	// Release drops playerID's lease, provided nodeID still holds it.
	Release(ctx context.Context, playerID, nodeID string) error
	// Lookup reports the current holder, if any and unexpired.
	Lookup(ctx context.Context, playerID string) (nodeID string, ok bool, err error)
}

// KickMessage asks the receiving node to close playerID's current session.
type KickMessage struct {
	PlayerID string
	// RequestingNode is who is taking over the lease.
	RequestingNode string
}

// Inbox is the per-node message channel a kick is published to. A real
// multi-node deployment backs this with a broker; MemoryInbox is the
// in-process stand-in.
type Inbox interface {
	Publish(ctx context.Context, nodeID string, msg KickMessage) error
	// Subscribe returns the channel of kicks addressed to nodeID and an
	// unsubscribe func. The channel is closed by unsubscribe.
	Subscribe(nodeID string) (<-chan KickMessage, func())
}

// ErrLeaseHeldElsewhere is returned by Claim's final attempt when the
// holding node never released the lease within the retry budget.
type ErrLeaseHeldElsewhere struct {
	PlayerID string
	HeldBy   string
}

func (e *ErrLeaseHeldElsewhere) Error() string {
	return fmt.Sprintf("sessionregistry: %q is still leased to node %q", e.PlayerID, e.HeldBy)
}

// Config tunes a Registry's lease lifecycle.
type Config struct {
	// TTL is how long an acquired/refreshed lease is valid.
	TTL time.Duration
	// HeartbeatInterval is how often an active lease is refreshed; should
	// be comfortably shorter than TTL.
	HeartbeatInterval time.Duration
	// ClaimRetry governs how Claim retries after publishing a kick, waiting
	// for the other node to release the lease.
	ClaimRetry retry.RetryConfig
}

// DefaultConfig returns sensible lease lifetimes: a 15s TTL refreshed every
// 5s, and up to 5 claim attempts backing off from 200ms up to 2s.
func DefaultConfig() Config {
	cfg := retry.DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.InitialDelay = 200 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	return Config{
		TTL:               15 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		ClaimRetry:        cfg,
	}
}

// Registry is one node's view of the cluster-wide session table: it claims
// leases on behalf of joining players, heartbeats the ones it holds, and
// listens on its own Inbox for kicks against sessions it currently owns.
type Registry struct {
	nodeID string
	store  Store
	inbox  Inbox
	cfg    Config
	log    *logrus.Entry

	// limiter bounds how often this node calls Store.Acquire from Claim's
	// retry loop (one limiter shared by every Claim on this Registry), so a
	// contested PlayerID can't hammer the shared Store.
	limiter *rate.Limiter

	mu         sync.Mutex
	heartbeats map[string]context.CancelFunc // playerID -> stop the heartbeat loop
}

// NewRegistry builds a Registry for this process's nodeID.
func NewRegistry(nodeID string, store Store, inbox Inbox, cfg Config) *Registry {
	return &Registry{
		nodeID:     nodeID,
		store:      store,
		inbox:      inbox,
		cfg:        cfg,
		log:        logrus.WithFields(logrus.Fields{"component": "sessionregistry.Registry", "nodeID": nodeID}),
		limiter:    rate.NewLimiter(rate.Every(50*time.Millisecond), 5),
		heartbeats: make(map[string]context.CancelFunc),
	}
}

// Claim acquires playerID's lease for this node, publishing a kick and
// retrying if another node currently holds it, then starts a background
// heartbeat that keeps the lease alive until Release is called: the node
// that already held the lease gets a kick telling it to close its old
// session and release, and Claim retries acquisition until that happens
// or the retry budget runs out.
func (r *Registry) Claim(ctx context.Context, playerID string) error {
	retrier := retry.NewRetrier(r.cfg.ClaimRetry)
	kicked := false

	err := retrier.Execute(ctx, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		ok, heldBy, err := r.store.Acquire(ctx, playerID, r.nodeID, r.cfg.TTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !kicked {
			kicked = true
			if err := r.inbox.Publish(ctx, heldBy, KickMessage{PlayerID: playerID, RequestingNode: r.nodeID}); err != nil {
				r.log.WithError(err).WithField("playerID", playerID).Warn("failed to publish kick")
			}
		}
		return &ErrLeaseHeldElsewhere{PlayerID: playerID, HeldBy: heldBy}
	})
	if err != nil {
		return err
	}

	r.startHeartbeat(playerID)
	return nil
}

// Release drops playerID's lease and stops its heartbeat, if this node
// holds it.
func (r *Registry) Release(ctx context.Context, playerID string) error {
	r.stopHeartbeat(playerID)
	return r.store.Release(ctx, playerID, r.nodeID)
}

// Kicks returns the stream of kick requests addressed to this node and an
// unsubscribe func. The Transport Adapter should find the named PlayerID's
// local session (if any), close it with a "replaced-by-new-session" code,
// and call Release.
func (r *Registry) Kicks() (<-chan KickMessage, func()) {
	return r.inbox.Subscribe(r.nodeID)
}

func (r *Registry) startHeartbeat(playerID string) {
	r.mu.Lock()
	if cancel, already := r.heartbeats[playerID]; already {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.heartbeats[playerID] = cancel
	r.mu.Unlock()

	go r.heartbeatLoop(ctx, playerID)
}

func (r *Registry) stopHeartbeat(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.heartbeats[playerID]; ok {
		cancel()
		delete(r.heartbeats, playerID)
	}
}

func (r *Registry) heartbeatLoop(ctx context.Context, playerID string) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Refresh(ctx, playerID, r.nodeID, r.cfg.TTL); err != nil {
				r.log.WithError(err).WithField("playerID", playerID).Warn("lease refresh failed")
			}
		}
	}
}
