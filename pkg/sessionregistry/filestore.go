package sessionregistry

import (
	"context"
	"sync"
	"time"

	"landkeeper/pkg/persistence"
)

// FileStore is a durable, single-node Store backed by pkg/persistence's
// FileStore: one YAML lease file per PlayerID, survives a process restart.
// It is not a substitute for a real external store's atomic conditional
// writes across nodes — a single in-process mutex serializes its
// operations, matching MemoryStore's guarantees but adding durability for a
// single-node deployment that still wants leases to survive a restart.
type FileStore struct {
	mu sync.Mutex
	fs *persistence.FileStore
}

type leaseRecord struct {
	NodeID    string    `yaml:"nodeId"`
	ExpiresAt time.Time `yaml:"expiresAt"`
}

// NewFileStore creates a FileStore rooted at dataDir, creating it if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	fs, err := persistence.NewFileStore(dataDir)
	if err != nil {
		return nil, err
	}
	return &FileStore{fs: fs}, nil
}

func leaseFilename(playerID string) string {
	return playerID + ".yaml"
}

// Acquire implements Store.
func (s *FileStore) Acquire(ctx context.Context, playerID, nodeID string, ttl time.Duration) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := leaseFilename(playerID)
	now := time.Now()

	if s.fs.Exists(filename) {
		var existing leaseRecord
		if err := s.fs.Load(filename, &existing); err != nil {
			return false, "", err
		}
		if existing.NodeID != nodeID && existing.ExpiresAt.After(now) {
			return false, existing.NodeID, nil
		}
	}

	record := leaseRecord{NodeID: nodeID, ExpiresAt: now.Add(ttl)}
	if err := s.fs.Save(filename, record); err != nil {
		return false, "", err
	}
	return true, "", nil
}

// Refresh implements Store.
func (s *FileStore) Refresh(ctx context.Context, playerID, nodeID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := leaseFilename(playerID)
	var existing leaseRecord
	if !s.fs.Exists(filename) {
		return &ErrLeaseHeldElsewhere{PlayerID: playerID, HeldBy: ""}
	}
	if err := s.fs.Load(filename, &existing); err != nil {
		return err
	}
	if existing.NodeID != nodeID {
		return &ErrLeaseHeldElsewhere{PlayerID: playerID, HeldBy: existing.NodeID}
	}

	existing.ExpiresAt = time.Now().Add(ttl)
	return s.fs.Save(filename, existing)
}

// Release implements Store.
func (s *FileStore) Release(ctx context.Context, playerID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := leaseFilename(playerID)
	if !s.fs.Exists(filename) {
		return nil
	}

	var existing leaseRecord
	if err := s.fs.Load(filename, &existing); err != nil {
		return err
	}
	if existing.NodeID != nodeID {
		return nil
	}
	return s.fs.Delete(filename)
}

// Lookup implements Store.
func (s *FileStore) Lookup(ctx context.Context, playerID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := leaseFilename(playerID)
	if !s.fs.Exists(filename) {
		return "", false, nil
	}

	var existing leaseRecord
	if err := s.fs.Load(filename, &existing); err != nil {
		return "", false, err
	}
	if !existing.ExpiresAt.After(time.Now()) {
		return "", false, nil
	}
	return existing.NodeID, true, nil
}
