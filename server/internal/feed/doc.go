// Package feed is the read and ingestion facade over the remote store.
//
// Reads walk a fixed chain: demo mode serves the seed dataset directly;
// otherwise a fresh cache snapshot wins, then a live QueryActive, then the
// stale snapshot, then the seed dataset. Every rung reports which one served
// the page so callers can surface degradation.
//
// Ingestion validates and normalises the input, asks the Allocator for a slot
// and overwrites that slot in the store. The live set therefore never grows
// past the configured capacity: once full, the least recently updated slot is
// reused. Allocation is read-then-write and not transactional, so two
// concurrent ingestions may land in the same slot; the last write wins.
//
// Preload writes the seed dataset into the first slots of an empty store.
package feed
