// Package state implements the reactive state-tree primitives a Land Keeper
// uses to hold its authoritative state: a closed SnapshotValue sum type, the
// sync-policy annotations that drive per-player visibility, reactive
// containers/maps/sets that record patches as they mutate, and the
// canonical encoding used for both wire snapshots and replay hashing.
package state
