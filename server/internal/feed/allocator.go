package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/threatwatch/threatwatch/server/internal/remote"
)

// DefaultCapacity is the number of rotational slots.
const DefaultCapacity = 30

// Rand is the randomness the feed draws slot numbers and confidence from.
// Implementations must be safe for concurrent use.
type Rand interface {
	Intn(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// SlotKey formats the key of slot n (1-based).
func SlotKey(n int) string { return fmt.Sprintf("threat_%03d", n) }

// Allocator picks the slot an ingested record is written to.
type Allocator struct {
	store    remote.Store
	capacity int
	rnd      Rand
}

// NewAllocator returns an Allocator over st. capacity < 1 means
// DefaultCapacity; a nil rnd is seeded from the clock.
func NewAllocator(st remote.Store, capacity int, rnd Rand) *Allocator {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if rnd == nil {
		rnd = NewRand(time.Now().UnixNano())
	}
	return &Allocator{store: st, capacity: capacity, rnd: rnd}
}

// Capacity returns the number of slots.
func (a *Allocator) Capacity() int { return a.capacity }

// Next returns the key to write to.
//
// While fewer than capacity slots are live it fills: starting from a random
// slot number it probes forward for a key no live record occupies. Once the
// pool is full it reclaims the active slot with the oldest updatedAt. When
// the lookup fails it returns a random slot in [1, capacity], which may
// collide with a live one. reclaimed reports whether an occupied slot was
// chosen on purpose.
func (a *Allocator) Next(ctx context.Context) (key string, reclaimed bool) {
	start := 1 + a.rnd.Intn(a.capacity)

	slots, err := a.store.QueryOldest(ctx, a.capacity)
	if err != nil {
		slog.Warn("feed: oldest slot lookup failed, using random slot", "err", err)
		return SlotKey(start), false
	}
	if len(slots) >= a.capacity {
		return slots[0].Key, true
	}

	used := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		used[s.Key] = struct{}{}
	}
	for i := 0; i < a.capacity; i++ {
		k := SlotKey((start-1+i)%a.capacity + 1)
		if _, taken := used[k]; !taken {
			return k, false
		}
	}
	// not reached: capacity distinct live keys would have filled the pool
	return SlotKey(start), false
}
