// Package remote is the adapter between the feed and the external document
// store that holds the live threat slots.
//
// Store is the whole contract the feed relies on:
//
//	QueryActive(limit)  active records, newest updatedAt first
//	QueryOldest(limit)  active slots, oldest updatedAt first (reclaim target)
//	Upsert(key, rec)    write or overwrite the record stored under key
//
// Every failure is reported wrapped around ErrUnavailable. Each call is a
// single attempt; nothing in this package retries.
//
// Backends:
//   - MemoryStore  in-process map, with failure injection for tests
//   - RedisStore   JSON documents in a hash plus a sorted set of active slots
//   - SQLStore     one table queried through squirrel, on SQLite or Postgres
//
// WithTimeout and Observe wrap any Store with a per-call deadline and a
// call observer (metrics).
package remote
