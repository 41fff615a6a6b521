package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/threatwatch/threatwatch/pkg/types"
	"github.com/threatwatch/threatwatch/server/internal/cache"
	"github.com/threatwatch/threatwatch/server/internal/remote"
	"github.com/threatwatch/threatwatch/server/internal/seed"
)

const (
	DefaultPageSize    = 10
	DefaultDetectLimit = 10

	// DefaultSource is attached to ingested records that name no source.
	DefaultSource = "https://sigint-intelligence.gov"

	FallbackMessage = "Using fallback data due to backend error"
)

// Source names the rung of the read chain that produced a page.
type Source string

const (
	SourceSeed     Source = "seed"     // demo mode
	SourceCache    Source = "cache"    // fresh snapshot
	SourceLive     Source = "live"     // remote read
	SourceStale    Source = "stale"    // expired snapshot after a remote failure
	SourceFallback Source = "fallback" // seed data after a remote failure with no snapshot
)

// Recorder receives feed events for metrics.
type Recorder interface {
	FeedRead(source string)
	Ingested(persisted bool)
}

// Config controls a Service. Zero values pick the defaults.
type Config struct {
	Capacity    int
	PageSize    int
	DetectLimit int

	// Demo serves seed data for reads and skips persistence for writes.
	Demo bool

	Seed     *seed.Dataset
	Rand     Rand
	Now      func() time.Time
	Recorder Recorder

	// OnRefresh is called with every snapshot a live read puts in the cache.
	// Calls are serialised and never go back to an older snapshot.
	OnRefresh func([]types.Record)
}

// Service is the ingestion and query facade. It is safe for concurrent use.
type Service struct {
	store remote.Store
	cache *cache.Cache
	alloc *Allocator
	cfg   Config

	lastSource atomic.Value // Source

	refreshSeq atomic.Uint64
	refreshMu  sync.Mutex
	applied    uint64 // seq of the newest snapshot put in the cache
}

// New builds a Service. st may be nil only in demo mode.
func New(st remote.Store, c *cache.Cache, cfg Config) *Service {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.DetectLimit < 1 {
		cfg.DetectLimit = DefaultDetectLimit
	}
	if cfg.Seed == nil {
		cfg.Seed = seed.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = NewRand(time.Now().UnixNano())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if c == nil {
		c = cache.New(cache.DefaultTTL)
	}
	s := &Service{store: st, cache: c, cfg: cfg}
	if st != nil {
		s.alloc = NewAllocator(st, cfg.Capacity, cfg.Rand)
	}
	return s
}

// Demo reports whether the service runs on seed data only.
func (s *Service) Demo() bool { return s.cfg.Demo || s.store == nil }

// Capacity returns the slot pool size.
func (s *Service) Capacity() int { return s.cfg.Capacity }

// --- reads ------------------------------------------------------------------

// Page is one page of the active feed.
type Page struct {
	Records  []types.Record `json:"threats"`
	HasMore  bool           `json:"hasMore"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	Source   Source         `json:"source"`
	Cached   bool           `json:"cached"`
	Degraded bool           `json:"degraded"`
	Message  string         `json:"message,omitempty"`
}

// GetActive returns one page of active records. It never fails: store
// errors degrade the source instead.
func (s *Service) GetActive(ctx context.Context, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.PageSize
	}
	recs, src := s.active(ctx)
	return paginate(recs, src, page, pageSize)
}

// active walks the read chain and returns the full active set.
func (s *Service) active(ctx context.Context) ([]types.Record, Source) {
	src, recs := s.read(ctx)
	s.lastSource.Store(src)
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.FeedRead(string(src))
	}
	return recs, src
}

func (s *Service) read(ctx context.Context) (Source, []types.Record) {
	if s.Demo() {
		return SourceSeed, s.cfg.Seed.Records(s.cfg.Now())
	}
	if recs, ok := s.cache.Get(); ok {
		return SourceCache, recs
	}

	seq := s.refreshSeq.Add(1)
	recs, err := s.store.QueryActive(ctx, s.cfg.Capacity)
	if err == nil {
		s.refreshed(seq, recs)
		return SourceLive, recs
	}

	if stale, ok := s.cache.Stale(); ok {
		slog.Warn("feed: remote read failed, serving stale snapshot",
			"err", err,
			"age", s.cache.Age(),
		)
		return SourceStale, stale
	}
	slog.Warn("feed: remote read failed, serving seed data", "err", err)
	return SourceFallback, s.cfg.Seed.Records(s.cfg.Now())
}

// refreshed stores a live result and notifies OnRefresh, in query start
// order. A query that started before the last applied one is still served to
// its caller but does not replace the newer snapshot.
func (s *Service) refreshed(seq uint64, recs []types.Record) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if seq < s.applied {
		slog.Debug("feed: dropping out-of-order refresh", "seq", seq, "applied", s.applied)
		return
	}
	s.applied = seq
	s.cache.Put(recs)
	slog.Debug("feed: refreshed from remote store", "count", len(recs))
	if s.cfg.OnRefresh != nil {
		s.cfg.OnRefresh(recs)
	}
}

func paginate(recs []types.Record, src Source, page, size int) Page {
	total := len(recs)
	// (page-1)*size only when it cannot pass total, so huge pages cannot overflow
	start := total
	if page-1 <= total/size {
		start = min((page-1)*size, total)
	}
	end := total
	if total-start > size {
		end = start + size
	}

	out := make([]types.Record, end-start)
	copy(out, recs[start:end])

	p := Page{
		Records: out,
		HasMore: total-start > size,
		Total:   total,
		Page:    page,
		Source:  src,
	}
	switch src {
	case SourceCache:
		p.Cached = true
	case SourceStale:
		p.Cached = true
		p.Degraded = true
	case SourceFallback:
		p.Degraded = true
		p.Message = FallbackMessage
	}
	return p
}

// LastSource returns the source of the most recent read, or "" before the
// first one.
func (s *Service) LastSource() Source {
	v, _ := s.lastSource.Load().(Source)
	return v
}

// CacheState describes the cache for health reporting.
type CacheState struct {
	Present bool
	Fresh   bool
	Age     time.Duration
	TTL     time.Duration
}

// Cache reports the current cache state.
func (s *Service) Cache() CacheState {
	_, present := s.cache.Stale()
	_, fresh := s.cache.Get()
	return CacheState{
		Present: present,
		Fresh:   fresh,
		Age:     s.cache.Age(),
		TTL:     s.cache.TTL(),
	}
}

// Invalidate drops the cached snapshot; the next read goes to the store.
func (s *Service) Invalidate() {
	s.cache.Invalidate()
	slog.Info("feed: cache invalidated")
}

// --- ingestion --------------------------------------------------------------

// ValidationError reports missing required ingestion fields.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "title, type, and severity are required"
}

// IngestResult is the outcome of Ingest. Record is always the constructed
// record; Persisted says whether the store write succeeded.
type IngestResult struct {
	Record    types.Record
	Persisted bool
	Slot      string
	Warning   string
}

// Ingest validates in, builds a normalised record and writes it to a slot.
// Only validation failures are returned as errors; store failures are
// reported through IngestResult.Warning.
func (s *Service) Ingest(ctx context.Context, in types.IngestInput) (IngestResult, error) {
	if err := validate(in); err != nil {
		return IngestResult{}, err
	}

	rec := s.build(in)
	res := IngestResult{Record: rec}

	switch {
	case s.Demo():
		res.Warning = "demo mode: record not persisted"
	default:
		key, reclaimed := s.alloc.Next(ctx)
		stored := rec
		stored.ID = key
		if err := s.store.Upsert(ctx, key, stored); err != nil {
			slog.Warn("feed: ingestion not persisted",
				"slot", key,
				"title", rec.Title,
				"err", err,
			)
			res.Warning = fmt.Sprintf("record not persisted: %v", err)
			break
		}
		res.Persisted = true
		res.Slot = key
		s.cache.Expire()
		slog.Info("feed: threat ingested",
			"slot", key,
			"reclaimed", reclaimed,
			"title", rec.Title,
		)
	}

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Ingested(res.Persisted)
	}
	return res, nil
}

func validate(in types.IngestInput) error {
	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "type")
	}
	if in.Severity == nil {
		missing = append(missing, "severity")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func (s *Service) build(in types.IngestInput) types.Record {
	now := s.cfg.Now().UTC()
	rec := types.Record{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Category:   in.Category,
		Severity:   *in.Severity,
		Summary:    in.Summary,
		Regions:    in.Regions,
		Sources:    in.Sources,
		Location:   in.Location,
		Tags:       in.Tags,
		SignalType: in.SignalType,
		Status:     types.StatusActive,
		Confidence: 70 + s.cfg.Rand.Intn(30),
		Votes:      types.Votes{},
		Timestamp:  now,
		UpdatedAt:  now,
	}
	if rec.Summary == "" {
		rec.Summary = "No summary provided"
	}
	if len(rec.Regions) == 0 {
		rec.Regions = []string{"Global"}
	}
	if len(rec.Sources) == 0 {
		rec.Sources = []string{DefaultSource}
	}
	rec.SourceURL = rec.Sources[0]
	if rec.Location == "" {
		rec.Location = "Global"
	}
	if len(rec.Tags) == 0 {
		rec.Tags = []string{strings.ToLower(in.Category)}
	}
	if rec.SignalType == "" {
		rec.SignalType = in.Category
	}
	return rec
}

// --- detection --------------------------------------------------------------

// DetectRequest carries the caller's detection parameters. They are echoed
// back but do not influence the result.
type DetectRequest struct {
	Sources      []string `json:"sources"`
	AnalysisType string   `json:"analysisType"`
}

// DetectResult is the first DetectLimit active records plus the full count.
type DetectResult struct {
	Records      []types.Record
	Count        int
	Source       Source
	AnalysisType string
}

// Detect runs the read chain and returns its head.
func (s *Service) Detect(ctx context.Context, req DetectRequest) DetectResult {
	analysis := req.AnalysisType
	if analysis == "" {
		analysis = "comprehensive"
	}
	recs, src := s.active(ctx)
	n := min(len(recs), s.cfg.DetectLimit)
	head := make([]types.Record, n)
	copy(head, recs[:n])

	slog.Debug("feed: detection run",
		"analysis", analysis,
		"sources", len(req.Sources),
		"count", len(recs),
	)
	return DetectResult{
		Records:      head,
		Count:        len(recs),
		Source:       src,
		AnalysisType: analysis,
	}
}

// --- preloading -------------------------------------------------------------

// ErrDemo is returned by operations that need a store when none is configured.
var ErrDemo = errors.New("feed: demo mode has no store")

// Preload writes the seed dataset into slots 1..n, where n is the dataset
// size capped at the capacity. Existing records in those slots are
// overwritten. It returns the number of records written.
func (s *Service) Preload(ctx context.Context) (int, error) {
	if s.Demo() {
		return 0, ErrDemo
	}
	recs := s.cfg.Seed.Records(s.cfg.Now())
	if len(recs) > s.cfg.Capacity {
		recs = recs[:s.cfg.Capacity]
	}
	for i, rec := range recs {
		key := SlotKey(i + 1)
		rec.ID = key
		if err := s.store.Upsert(ctx, key, rec); err != nil {
			return i, fmt.Errorf("feed: preload %s: %w", key, err)
		}
	}
	s.cache.Expire()
	slog.Info("feed: seed data preloaded", "count", len(recs))
	return len(recs), nil
}
