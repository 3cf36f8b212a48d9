package realm

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landkeeper/pkg/land"
	"landkeeper/pkg/wire"
)

// fakeRecorder is a minimal Recorder that counts WriteTo calls instead of
// touching disk, so tests can assert flush timing without a real replay
// encoder.
type fakeRecorder struct {
	mu      sync.Mutex
	writes  int
	lastErr error
}

func (f *fakeRecorder) RecordAction(playerID, typeIdentifier string, payload json.RawMessage, requestID string) {
}
func (f *fakeRecorder) RecordClientEvent(playerID, eventType string, payload json.RawMessage) {}
func (f *fakeRecorder) RecordLifecycle(kind, playerID string)                                 {}
func (f *fakeRecorder) RecordTick(tickID uint64, stateHash uint64)                             {}

func (f *fakeRecorder) WriteTo(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return f.lastErr
}

func (f *fakeRecorder) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type noopSink struct{}

func (noopSink) DeliverUpdate(playerID string, update wire.StateUpdateWire) {}
func (noopSink) DeliverEvents(events []land.OutgoingEvent)                  {}
func (noopSink) Shutdown(reason string)                                     {}

type lobbyState struct {
	Count int64 `state:"count"`
}

func lobbyFactory(landID string) (land.Definition, error) {
	return land.Definition{
		LandType: "lobby",
		NewState: func() (any, error) { return &lobbyState{}, nil },
		Handlers: map[string]land.Handler{},
	}, nil
}

// altLobbyFactory is a distinct Factory value from lobbyFactory, used to
// exercise Register's differing-factory rejection path.
func altLobbyFactory(landID string) (land.Definition, error) {
	return land.Definition{
		LandType: "lobby",
		NewState: func() (any, error) { return &lobbyState{Count: 1}, nil },
		Handlers: map[string]land.Handler{},
	}, nil
}

func TestRouteAutoCreatesInstanceWithMintedID(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	keeper, landID, err := r.Route("lobby", "", noopSink{})
	require.NoError(t, err)
	require.NotNil(t, keeper)
	assert.NotEqual(t, "lobby", landID) // must have minted a non-empty instance
	lt, instanceID := ParseLandID(landID)
	assert.Equal(t, "lobby", lt)
	assert.NotEmpty(t, instanceID)
	defer r.Remove(landID)
}

func TestRouteRejectsUnknownLandType(t *testing.T) {
	r := NewRegistry(&land.Services{})
	_, _, err := r.Route("ghost-town", "", noopSink{})
	require.Error(t, err)
}

func TestRouteRejectsExplicitInstanceWhenAutoCreateDisabled(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = false
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	_, _, err := r.Route("lobby", "room-1", noopSink{})
	require.Error(t, err)
}

func TestRouteReturnsExistingInstanceOnSecondCall(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	k1, landID1, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	k2, landID2, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)

	assert.Equal(t, landID1, landID2)
	assert.Same(t, k1, k2)
	defer r.Remove(landID1)
}

func TestRegisterIdenticalFactoryWithLiveInstanceIsNoop(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))
}

func TestRegisterRejectsDifferingFactoryWithLiveInstance(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	err = r.Register("lobby", altLobbyFactory, cfg)
	require.Error(t, err)
}

func TestRegisterRejectsDifferingConfigWithLiveInstance(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	changed := cfg
	changed.MaxPlayers = cfg.MaxPlayers + 1
	err = r.Register("lobby", lobbyFactory, changed)
	require.Error(t, err)
}

func TestRegisterDifferingFactoryAllowedWithoutLiveInstance(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	require.NoError(t, r.Register("lobby", altLobbyFactory, cfg))
}

func TestRemoveDrainsAndEvicts(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	assert.Contains(t, r.List(), landID)

	require.NoError(t, r.Remove(landID))
	assert.NotContains(t, r.List(), landID)

	_, _, err = r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err, "a fresh Route after Remove should recreate the instance")
}

func TestIdleReaperEvictsEmptyLandPastTimeout(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	cfg.IdleTimeout = 20 * time.Millisecond
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunIdleReaper(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, live := r.PlayerCount(landID); !live {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the idle reaper to evict the empty land")
}

func TestRecordFilenameReplacesColons(t *testing.T) {
	assert.Equal(t, "lobby_room-1.json", RecordFilename("lobby:room-1"))
	assert.Equal(t, "lobby.json", RecordFilename("lobby"))
}

func TestCreateAttachesRecorderFromFactory(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	rec := &fakeRecorder{}
	r.SetRecorderFactory(func(landID, landType string) Recorder { return rec })

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	assert.Same(t, rec, r.instances[landID].recorder)
}

func TestSetRecorderFactoryNilSkipsRecording(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	r.SetRecorderFactory(func(landID, landType string) Recorder { return nil })

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	assert.Nil(t, r.instances[landID].recorder)
}

func TestFlushRecordsWritesEveryRecordedInstance(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	rec := &fakeRecorder{}
	r.SetRecorderFactory(func(landID, landType string) Recorder { return rec })

	dir := t.TempDir()
	r.SetRecordDir(dir)

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	r.FlushRecords()
	assert.Equal(t, 1, rec.writeCount())

	r.FlushRecords()
	assert.Equal(t, 2, rec.writeCount())
}

func TestFlushRecordsNoopWithoutRecordDir(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	rec := &fakeRecorder{}
	r.SetRecorderFactory(func(landID, landType string) Recorder { return rec })

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	r.FlushRecords()
	assert.Equal(t, 0, rec.writeCount(), "FlushRecords must no-op when no RecordDir was set")
}

func TestRemoveFlushesRecorderBeforeEviction(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	rec := &fakeRecorder{}
	r.SetRecorderFactory(func(landID, landType string) Recorder { return rec })

	dir := t.TempDir()
	r.SetRecordDir(dir)

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)

	require.NoError(t, r.Remove(landID))
	assert.Equal(t, 1, rec.writeCount(), "Remove must flush the recorder exactly once before evicting")
}

func TestRunRecordFlusherStopsOnContextCancel(t *testing.T) {
	r := NewRegistry(&land.Services{})
	cfg := land.DefaultConfig()
	cfg.AllowAutoCreateOnJoin = true
	require.NoError(t, r.Register("lobby", lobbyFactory, cfg))

	rec := &fakeRecorder{}
	r.SetRecorderFactory(func(landID, landType string) Recorder { return rec })
	r.SetRecordDir(t.TempDir())

	_, landID, err := r.Route("lobby", "room-1", noopSink{})
	require.NoError(t, err)
	defer r.Remove(landID)

	ctx, cancel := context.WithCancel(context.Background())
	go r.RunRecordFlusher(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.writeCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Greater(t, rec.writeCount(), 0, "expected at least one periodic flush")

	cancel()
	count := rec.writeCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, rec.writeCount(), "flusher must stop issuing writes after ctx cancellation")
}

func TestRecordPathJoinsDirAndFilename(t *testing.T) {
	got := recordPath("/var/data/replays", "lobby:room-1")
	assert.Equal(t, filepath.Join("/var/data/replays", "lobby_room-1.json"), got)
}
