// Package scheduler drives periodic refresh of every configured station.
//
// Each station runs its own goroutine, so a slow or failing station never delays
// another. Within a station cycles are strictly sequential: the loop fetches,
// stores the snapshot, and publishes entities before it arms the next timer. A
// failed cycle leaves the cache untouched and republishes the last snapshot with
// updated health; after StaleAfterFailures consecutive failures the station's
// entities are flagged stale until the next success.
//
// Removing a station cancels its loop. A fetch that was already in flight is
// discarded by a generation check taken under the station lock, so a late result
// can never recreate entities or snapshots for a removed station.
package scheduler
