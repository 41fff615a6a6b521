// Package cache holds the last feed snapshot read from the remote store.
//
// A Cache answers two different questions:
//   - Get: is there a snapshot younger than the TTL? (cache hit)
//   - Stale: is there any snapshot at all? (fallback after a failed remote read)
//
// Put replaces the snapshot wholesale and restamps fetchedAt; snapshots are
// never merged, so a truncated remote read cannot blend with older data.
// Invalidate drops the snapshot so the next read goes to the remote store;
// Expire only marks it stale and keeps it as a fallback copy.
//
// The clock is injectable for deterministic tests.
package cache
