// Package persistence provides file-based data persistence for LandKeeper.
//
// This package handles durable storage with atomic writes, file locking, and
// YAML serialization to ensure data integrity and protection against corruption
// from concurrent access or crashes. It backs pkg/sessionregistry's FileStore
// and any other subsystem that needs a simple, dependency-free on-disk store.
//
// # FileStore
//
// FileStore is the primary interface for persisting YAML-serializable data:
//
//	store, err := persistence.NewFileStore("/path/to/data")
//
//	// Save a value
//	err := store.Save("lease.yaml", lease)
//
//	// Load it back
//	var loaded Lease
//	err := store.Load("lease.yaml", &loaded)
//
// # Atomic Writes
//
// All write operations use atomic file replacement to prevent corruption:
//
//  1. Data is written to a temporary file
//  2. Temporary file is synced to disk
//  3. Temporary file is renamed to target (atomic operation)
//
// This ensures that even if a crash occurs during save, the original file
// remains intact.
//
// # File Locking
//
// FileLock provides cross-process synchronization using flock syscalls:
//
//	lock, err := persistence.NewFileLock("/path/to/lockfile")
//
//	// Blocking lock acquisition
//	if err := lock.Lock(); err != nil {
//	    return err
//	}
//	defer lock.Unlock()
//
//	// Non-blocking lock attempt
//	acquired, err := lock.TryLock()
//	if !acquired {
//	    return errors.New("resource busy")
//	}
//
// # File Operations
//
// Additional file management methods:
//
//	// Check existence
//	if store.Exists("lease.yaml") {
//	    // File exists
//	}
//
//	// Delete file and associated lock
//	err := store.Delete("old-lease.yaml")
//
//	// List files matching pattern
//	files, err := store.List("leases/*.yaml")
//
// # YAML Serialization
//
// Data is serialized using YAML for human-readable storage. Types should
// use yaml struct tags for field mapping:
//
//	type Lease struct {
//	    PlayerID string `yaml:"player_id"`
//	    NodeID   string `yaml:"node_id"`
//	}
//
// # Thread Safety
//
// FileStore operations are protected by internal mutexes for safe concurrent
// access within a single process. FileLock extends protection across processes.
//
// # Platform Support
//
// File locking uses Unix flock syscalls. The package has a single
// implementation and no build tags for other platforms.
package persistence
