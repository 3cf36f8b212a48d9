// Package syncengine computes, on each Keeper sync pass, a per-player
// StateUpdate from the patches and dirty set recorded since the previous
// pass. It chooses
// among three modes — incremental, dirty-snapshot-diff, and full diff — and
// enforces the broadcast/perPlayer/internal visibility rule so a patch never
// leaks to a player it isn't scoped to.
package syncengine
