package remote

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// errInjected is returned by a MemoryStore op switched into failure mode.
var errInjected = errors.New("injected failure")

// MemoryStore keeps slots in a map. It backs the "memory" store backend and
// doubles as the test fake: individual operations can be made to fail and
// every call is counted.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]types.Record
	fail  map[Op]bool
	calls map[Op]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]types.Record),
		fail:  make(map[Op]bool),
		calls: make(map[Op]int),
	}
}

// Fail switches failure mode for the given ops. With no ops it applies to all.
func (m *MemoryStore) Fail(fail bool, ops ...Op) {
	if len(ops) == 0 {
		ops = []Op{OpQueryActive, OpQueryOldest, OpUpsert}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.fail[op] = fail
	}
}

// Calls returns how many times op has been invoked, failures included.
func (m *MemoryStore) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Len returns the number of stored slots.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Get returns the record stored under key.
func (m *MemoryStore) Get(key string) (types.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slots[key]
	return rec, ok
}

func (m *MemoryStore) enter(ctx context.Context, op Op) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	if m.fail[op] {
		return unavailable(op, errInjected)
	}
	return nil
}

// QueryActive implements Store.
func (m *MemoryStore) QueryActive(ctx context.Context, limit int) ([]types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpQueryActive); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []types.Record{}, nil
	}

	slots := m.activeSlots()
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i].Record.UpdatedAt, slots[j].Record.UpdatedAt
		if a.Equal(b) {
			return slots[i].Key < slots[j].Key
		}
		return a.After(b)
	})

	out := make([]types.Record, 0, min(limit, len(slots)))
	for i := 0; i < len(slots) && i < limit; i++ {
		out = append(out, normalizeStored(slots[i].Key, slots[i].Record))
	}
	return out, nil
}

// QueryOldest implements Store.
func (m *MemoryStore) QueryOldest(ctx context.Context, limit int) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpQueryOldest); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Slot{}, nil
	}

	slots := m.activeSlots()
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i].Record.UpdatedAt, slots[j].Record.UpdatedAt
		if a.Equal(b) {
			return slots[i].Key < slots[j].Key
		}
		return a.Before(b)
	})
	if len(slots) > limit {
		slots = slots[:limit]
	}
	for i := range slots {
		slots[i].Record = normalizeStored(slots[i].Key, slots[i].Record)
	}
	return slots, nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, key string, rec types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpUpsert); err != nil {
		return err
	}
	m.slots[key] = rec
	return nil
}

func (m *MemoryStore) activeSlots() []Slot {
	out := make([]Slot, 0, len(m.slots))
	for k, rec := range m.slots {
		if rec.Active() {
			out = append(out, Slot{Key: k, Record: rec})
		}
	}
	return out
}
