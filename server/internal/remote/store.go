package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// ErrUnavailable is wrapped by every error a Store returns.
var ErrUnavailable = errors.New("remote store unavailable")

// GlobalIntelURL is the source attached to stored records that carry none.
const GlobalIntelURL = "https://global-intelligence.gov"

// Op names a Store method, for metrics and failure injection.
type Op string

const (
	OpQueryActive Op = "query_active"
	OpQueryOldest Op = "query_oldest"
	OpUpsert      Op = "upsert"
)

// Slot is a stored record together with the key it lives under.
type Slot struct {
	Key    string
	Record types.Record
}

// Store is the remote document store contract.
type Store interface {
	QueryActive(ctx context.Context, limit int) ([]types.Record, error)
	QueryOldest(ctx context.Context, limit int) ([]Slot, error)
	Upsert(ctx context.Context, key string, rec types.Record) error
}

// unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func unavailable(op Op, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// normalizeStored fills read-side defaults on a record decoded from a backend.
func normalizeStored(key string, rec types.Record) types.Record {
	if rec.ID == "" {
		rec.ID = key
	}
	if len(rec.Sources) == 0 {
		if rec.SourceURL != "" {
			rec.Sources = []string{rec.SourceURL}
		} else {
			rec.Sources = []string{GlobalIntelURL}
		}
	}
	return rec
}

// --- decorators -------------------------------------------------------------

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on next by d. A non-positive d returns next.
func WithTimeout(next Store, d time.Duration) Store {
	if d <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: d}
}

func (s *timeoutStore) QueryActive(ctx context.Context, limit int) ([]types.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.QueryActive(ctx, limit)
}

func (s *timeoutStore) QueryOldest(ctx context.Context, limit int) ([]Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.QueryOldest(ctx, limit)
}

func (s *timeoutStore) Upsert(ctx context.Context, key string, rec types.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Upsert(ctx, key, rec)
}

// Observer is told about every Store call once it returns.
type Observer interface {
	ObserveStoreCall(op Op, elapsed time.Duration, err error)
}

type observedStore struct {
	next Store
	obs  Observer
}

// Observe reports every call on next to obs. A nil obs returns next.
func Observe(next Store, obs Observer) Store {
	if obs == nil {
		return next
	}
	return &observedStore{next: next, obs: obs}
}

func (s *observedStore) QueryActive(ctx context.Context, limit int) ([]types.Record, error) {
	start := time.Now()
	recs, err := s.next.QueryActive(ctx, limit)
	s.obs.ObserveStoreCall(OpQueryActive, time.Since(start), err)
	return recs, err
}

func (s *observedStore) QueryOldest(ctx context.Context, limit int) ([]Slot, error) {
	start := time.Now()
	slots, err := s.next.QueryOldest(ctx, limit)
	s.obs.ObserveStoreCall(OpQueryOldest, time.Since(start), err)
	return slots, err
}

func (s *observedStore) Upsert(ctx context.Context, key string, rec types.Record) error {
	start := time.Now()
	err := s.next.Upsert(ctx, key, rec)
	s.obs.ObserveStoreCall(OpUpsert, time.Since(start), err)
	return err
}
