package sessionregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TTL = 150 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.ClaimRetry.MaxAttempts = 10
	cfg.ClaimRetry.InitialDelay = 10 * time.Millisecond
	cfg.ClaimRetry.MaxDelay = 50 * time.Millisecond
	return cfg
}

func TestClaimGrantsUncontestedLease(t *testing.T) {
	store := NewMemoryStore()
	inbox := NewMemoryInbox()
	reg := NewRegistry("node-a", store, inbox, fastConfig())

	require.NoError(t, reg.Claim(context.Background(), "player-1"))

	nodeID, ok, err := store.Lookup(context.Background(), "player-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node-a", nodeID)

	reg.stopHeartbeat("player-1")
}

func TestHeartbeatKeepsLeaseAlivePastTTL(t *testing.T) {
	store := NewMemoryStore()
	inbox := NewMemoryInbox()
	cfg := fastConfig()
	reg := NewRegistry("node-a", store, inbox, cfg)

	require.NoError(t, reg.Claim(context.Background(), "player-1"))
	defer reg.stopHeartbeat("player-1")

	time.Sleep(cfg.TTL + 3*cfg.HeartbeatInterval)

	_, ok, err := store.Lookup(context.Background(), "player-1")
	require.NoError(t, err)
	assert.True(t, ok, "heartbeat should have refreshed the lease before TTL expiry")
}

func TestClaimPublishesKickAndSucceedsAfterRelease(t *testing.T) {
	store := NewMemoryStore()
	inbox := NewMemoryInbox()
	cfg := fastConfig()

	nodeA := NewRegistry("node-a", store, inbox, cfg)
	nodeB := NewRegistry("node-b", store, inbox, cfg)

	require.NoError(t, nodeA.Claim(context.Background(), "player-1"))

	kicks, unsubscribe := nodeA.Kicks()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		done <- nodeB.Claim(context.Background(), "player-1")
	}()

	select {
	case msg := <-kicks:
		assert.Equal(t, "player-1", msg.PlayerID)
		assert.Equal(t, "node-b", msg.RequestingNode)
		require.NoError(t, nodeA.Release(context.Background(), "player-1"))
	case <-time.After(2 * time.Second):
		t.Fatal("expected node A to receive a kick for player-1")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected node B's Claim to succeed after node A released")
	}
	defer nodeB.stopHeartbeat("player-1")

	nodeID, ok, err := store.Lookup(context.Background(), "player-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node-b", nodeID)
}

func TestReleaseDropsLease(t *testing.T) {
	store := NewMemoryStore()
	inbox := NewMemoryInbox()
	reg := NewRegistry("node-a", store, inbox, fastConfig())

	require.NoError(t, reg.Claim(context.Background(), "player-1"))
	require.NoError(t, reg.Release(context.Background(), "player-1"))

	_, ok, err := store.Lookup(context.Background(), "player-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreAcquireRejectsLiveForeignLease(t *testing.T) {
	store := NewMemoryStore()

	ok, heldBy, err := store.Acquire(context.Background(), "player-1", "node-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, heldBy)

	ok, heldBy, err = store.Acquire(context.Background(), "player-1", "node-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "node-a", heldBy)
}

func TestMemoryStoreAcquireSucceedsAfterExpiry(t *testing.T) {
	store := NewMemoryStore()

	ok, _, err := store.Acquire(context.Background(), "player-1", "node-a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, _, err = store.Acquire(context.Background(), "player-1", "node-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
