package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/threatwatch/threatwatch/pkg/types"
	"github.com/threatwatch/threatwatch/server/internal/cache"
	"github.com/threatwatch/threatwatch/server/internal/remote"
)

// clock is a settable time source shared by the service and its cache.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *remote.MemoryStore
	clk   *clock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := newClock()
	st := remote.NewMemoryStore()
	if cfg.Rand == nil {
		cfg.Rand = NewRand(1)
	}
	cfg.Now = clk.Now
	c := cache.New(cache.DefaultTTL).WithClock(clk.Now)
	return &fixture{svc: New(st, c, cfg), store: st, clk: clk}
}

// fill stores n active records, the i-th one updated i seconds after the
// fixture's start time.
func (f *fixture) fill(t *testing.T, n int) {
	t.Helper()
	base := f.clk.Now()
	for i := 1; i <= n; i++ {
		key := SlotKey(i)
		rec := types.Record{
			ID:        key,
			Title:     "seeded " + key,
			Category:  "Cyber",
			Status:    types.StatusActive,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := f.store.Upsert(context.Background(), key, rec); err != nil {
			t.Fatalf("fill %s: %v", key, err)
		}
	}
}

func severity(n int) *int { return &n }

func validInput(title string) types.IngestInput {
	return types.IngestInput{Title: title, Category: "Cyber", Severity: severity(80)}
}

func TestGetActive_CacheHitSkipsStore(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 3)
	ctx := context.Background()

	first := f.svc.GetActive(ctx, 1, 10)
	f.clk.Advance(4 * time.Minute)
	second := f.svc.GetActive(ctx, 1, 10)

	if first.Source != SourceLive {
		t.Errorf("first Source: got %q, want live", first.Source)
	}
	if second.Source != SourceCache || !second.Cached {
		t.Errorf("second: got source=%q cached=%v, want cache/true", second.Source, second.Cached)
	}
	if n := f.store.Calls(remote.OpQueryActive); n != 1 {
		t.Errorf("QueryActive calls: got %d, want 1", n)
	}

	a, _ := json.Marshal(first.Records)
	b, _ := json.Marshal(second.Records)
	if string(a) != string(b) {
		t.Errorf("cached page differs from live page:\n%s\n%s", a, b)
	}
}

func TestGetActive_RefreshAfterTTL(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 3)
	ctx := context.Background()

	f.svc.GetActive(ctx, 1, 10)
	f.clk.Advance(cache.DefaultTTL)
	p := f.svc.GetActive(ctx, 1, 10)
	f.svc.GetActive(ctx, 1, 10)

	if p.Source != SourceLive {
		t.Errorf("Source after TTL: got %q, want live", p.Source)
	}
	if n := f.store.Calls(remote.OpQueryActive); n != 2 {
		t.Errorf("QueryActive calls: got %d, want 2", n)
	}
}

func TestGetActive_StaleOnStoreFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 4)
	ctx := context.Background()

	f.svc.GetActive(ctx, 1, 10)
	f.clk.Advance(24 * time.Hour)
	f.store.Fail(true)

	p := f.svc.GetActive(ctx, 1, 10)
	if p.Source != SourceStale {
		t.Fatalf("Source: got %q, want stale", p.Source)
	}
	if !p.Cached || !p.Degraded {
		t.Errorf("markers: got cached=%v degraded=%v, want true/true", p.Cached, p.Degraded)
	}
	if p.Total != 4 {
		t.Errorf("Total: got %d, want 4", p.Total)
	}
	if p.Records[0].Title != "seeded threat_004" {
		t.Errorf("Records[0]: got %q, want newest stored record", p.Records[0].Title)
	}
}

func TestGetActive_SeedFallback(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Fail(true)
	ctx := context.Background()

	p := f.svc.GetActive(ctx, 1, 2)
	if p.Source != SourceFallback {
		t.Fatalf("Source: got %q, want fallback", p.Source)
	}
	if !p.Degraded || p.Cached {
		t.Errorf("markers: got degraded=%v cached=%v, want true/false", p.Degraded, p.Cached)
	}
	if p.Message != FallbackMessage {
		t.Errorf("Message: got %q, want %q", p.Message, FallbackMessage)
	}
	if p.Total != 6 || len(p.Records) != 2 || !p.HasMore {
		t.Errorf("page 1: got total=%d len=%d hasMore=%v, want 6/2/true", p.Total, len(p.Records), p.HasMore)
	}

	p = f.svc.GetActive(ctx, 3, 2)
	if len(p.Records) != 2 || p.HasMore {
		t.Errorf("page 3: got len=%d hasMore=%v, want 2/false", len(p.Records), p.HasMore)
	}
	if p.Records[0].ID != "threat_economic_005" {
		t.Errorf("page 3 first id: got %q, want threat_economic_005", p.Records[0].ID)
	}
	if _, ok := f.svc.cache.Stale(); ok {
		t.Error("seed data must not be cached")
	}
}

func TestGetActive_Pagination(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 5)
	ctx := context.Background()

	tests := []struct {
		page, size int
		wantLen    int
		wantMore   bool
		wantPage   int
	}{
		{1, 2, 2, true, 1},
		{2, 2, 2, true, 2},
		{3, 2, 1, false, 3},
		{4, 2, 0, false, 4},
		{0, 2, 2, true, 1},
		{1, 0, 5, false, 1},
		{1, 5, 5, false, 1},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("page=%d,size=%d", tc.page, tc.size), func(t *testing.T) {
			p := f.svc.GetActive(ctx, tc.page, tc.size)
			if len(p.Records) != tc.wantLen {
				t.Errorf("len: got %d, want %d", len(p.Records), tc.wantLen)
			}
			if p.HasMore != tc.wantMore {
				t.Errorf("hasMore: got %v, want %v", p.HasMore, tc.wantMore)
			}
			if p.Page != tc.wantPage {
				t.Errorf("page: got %d, want %d", p.Page, tc.wantPage)
			}
			if p.Total != 5 {
				t.Errorf("total: got %d, want 5", p.Total)
			}
		})
	}
}

func TestGetActive_HugePageDoesNotOverflow(t *testing.T) {
	svc := New(nil, nil, Config{})
	ctx := context.Background()

	tests := []struct {
		page, size int
		wantLen    int
	}{
		{math.MaxInt, 10, 0},
		{math.MaxInt, math.MaxInt, 0},
		{math.MaxInt / 2, 3, 0},
		{1, math.MaxInt, 6},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("page=%d,size=%d", tc.page, tc.size), func(t *testing.T) {
			p := svc.GetActive(ctx, tc.page, tc.size)
			if len(p.Records) != tc.wantLen {
				t.Errorf("len: got %d, want %d", len(p.Records), tc.wantLen)
			}
			if p.HasMore {
				t.Error("hasMore: got true, want false")
			}
			if p.Total != 6 {
				t.Errorf("total: got %d, want 6", p.Total)
			}
		})
	}
}

func TestGetActive_DemoModeNeverTouchesStore(t *testing.T) {
	f := newFixture(t, Config{Demo: true})
	f.fill(t, 3)

	p := f.svc.GetActive(context.Background(), 1, 10)
	if p.Source != SourceSeed {
		t.Errorf("Source: got %q, want seed", p.Source)
	}
	if p.Total != 6 || p.Degraded {
		t.Errorf("got total=%d degraded=%v, want 6/false", p.Total, p.Degraded)
	}
	if n := f.store.Calls(remote.OpQueryActive); n != 0 {
		t.Errorf("QueryActive calls: got %d, want 0", n)
	}
	if _, ok := f.svc.cache.Stale(); ok {
		t.Error("demo read must not populate the cache")
	}
}

func TestNew_NilStoreIsDemo(t *testing.T) {
	svc := New(nil, nil, Config{})
	if !svc.Demo() {
		t.Fatal("Demo: got false for a service without a store")
	}
	p := svc.GetActive(context.Background(), 1, 0)
	if p.Source != SourceSeed || len(p.Records) != 6 {
		t.Errorf("got source=%q len=%d", p.Source, len(p.Records))
	}
	res, err := svc.Ingest(context.Background(), validInput("demo"))
	if err != nil || res.Persisted {
		t.Errorf("Ingest: got persisted=%v err=%v, want false/nil", res.Persisted, err)
	}
}

func TestGetActive_ReturnedPageIsACopy(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 2)
	ctx := context.Background()

	p := f.svc.GetActive(ctx, 1, 10)
	p.Records[0].Title = "mutated"

	again := f.svc.GetActive(ctx, 1, 10)
	if again.Records[0].Title == "mutated" {
		t.Error("mutating a page leaked into the cache")
	}
}

func TestIngest_MissingSeverity(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.Ingest(context.Background(), types.IngestInput{Title: "x", Category: "Cyber"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err: got %v, want *ValidationError", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "severity" {
		t.Errorf("Missing: got %v, want [severity]", verr.Missing)
	}
	if verr.Error() != "title, type, and severity are required" {
		t.Errorf("Error(): got %q", verr.Error())
	}
	for _, op := range []remote.Op{remote.OpQueryOldest, remote.OpUpsert, remote.OpQueryActive} {
		if n := f.store.Calls(op); n != 0 {
			t.Errorf("%s calls: got %d, want 0", op, n)
		}
	}
}

func TestIngest_MissingEverything(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.Ingest(context.Background(), types.IngestInput{Title: "  "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err: got %v, want *ValidationError", err)
	}
	if len(verr.Missing) != 3 {
		t.Errorf("Missing: got %v, want title, type and severity", verr.Missing)
	}
}

func TestIngest_ZeroSeverityIsValid(t *testing.T) {
	f := newFixture(t, Config{})
	in := validInput("calm")
	in.Severity = severity(0)

	res, err := f.svc.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Record.Severity != 0 {
		t.Errorf("Severity: got %d, want 0", res.Record.Severity)
	}
}

func TestIngest_Defaults(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.svc.Ingest(context.Background(), validInput("Botnet"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	r := res.Record
	if r.Summary != "No summary provided" {
		t.Errorf("Summary: got %q", r.Summary)
	}
	if len(r.Regions) != 1 || r.Regions[0] != "Global" {
		t.Errorf("Regions: got %v, want [Global]", r.Regions)
	}
	if len(r.Sources) != 1 || r.Sources[0] != DefaultSource || r.SourceURL != DefaultSource {
		t.Errorf("Sources: got %v / %q, want [%s]", r.Sources, r.SourceURL, DefaultSource)
	}
	if r.Location != "Global" {
		t.Errorf("Location: got %q, want Global", r.Location)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "cyber" {
		t.Errorf("Tags: got %v, want [cyber]", r.Tags)
	}
	if r.SignalType != "Cyber" {
		t.Errorf("SignalType: got %q, want Cyber", r.SignalType)
	}
	if r.Status != types.StatusActive {
		t.Errorf("Status: got %q, want active", r.Status)
	}
	if !r.Timestamp.Equal(f.clk.Now()) || !r.UpdatedAt.Equal(f.clk.Now()) {
		t.Errorf("timestamps: got %v / %v, want %v", r.Timestamp, r.UpdatedAt, f.clk.Now())
	}
	if len(r.ID) != 36 {
		t.Errorf("ID: got %q, want a uuid", r.ID)
	}
}

func TestIngest_KeepsSuppliedFields(t *testing.T) {
	f := newFixture(t, Config{})
	in := types.IngestInput{
		Title:      "Phishing wave",
		Category:   "Cyber",
		Severity:   severity(55),
		Summary:    "Credential harvesting",
		Regions:    []string{"Europe"},
		Sources:    []string{"https://cert.org/a", "https://cert.org/b"},
		Location:   "Berlin",
		Tags:       []string{"phishing"},
		SignalType: "email",
	}
	res, err := f.svc.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	r := res.Record
	if r.SourceURL != "https://cert.org/a" {
		t.Errorf("SourceURL: got %q, want first source", r.SourceURL)
	}
	if r.Location != "Berlin" || r.SignalType != "email" || r.Tags[0] != "phishing" {
		t.Errorf("got location=%q signal=%q tags=%v", r.Location, r.SignalType, r.Tags)
	}
}

func TestIngest_ConfidenceAndVotes(t *testing.T) {
	for _, failing := range []bool{false, true} {
		t.Run(fmt.Sprintf("store_failing=%v", failing), func(t *testing.T) {
			f := newFixture(t, Config{Rand: NewRand(time.Now().UnixNano())})
			f.store.Fail(failing)
			for i := 0; i < 300; i++ {
				res, err := f.svc.Ingest(context.Background(), validInput(fmt.Sprintf("t%d", i)))
				if err != nil {
					t.Fatalf("Ingest %d: %v", i, err)
				}
				if c := res.Record.Confidence; c < 70 || c >= 100 {
					t.Fatalf("Confidence: got %d, want [70,100)", c)
				}
				if res.Record.Votes != (types.Votes{}) {
					t.Fatalf("Votes: got %+v, want zero", res.Record.Votes)
				}
				if res.Persisted == failing {
					t.Fatalf("Persisted: got %v with store failing=%v", res.Persisted, failing)
				}
			}
		})
	}
}

func TestIngest_StoreFailureIsReported(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Fail(true, remote.OpUpsert)

	res, err := f.svc.Ingest(context.Background(), validInput("lost"))
	if err != nil {
		t.Fatalf("Ingest: got err %v, want nil", err)
	}
	if res.Persisted || res.Slot != "" {
		t.Errorf("got persisted=%v slot=%q, want false/empty", res.Persisted, res.Slot)
	}
	if res.Warning == "" {
		t.Error("Warning: got empty, want a persistence warning")
	}
	if res.Record.Title != "lost" {
		t.Errorf("Record.Title: got %q, want lost", res.Record.Title)
	}
}

func TestIngest_PersistsUnderSlotKey(t *testing.T) {
	f := newFixture(t, Config{Rand: fixedRand{n: 4}})

	res, err := f.svc.Ingest(context.Background(), validInput("first"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Persisted || res.Slot != "threat_005" {
		t.Fatalf("got persisted=%v slot=%q, want true/threat_005", res.Persisted, res.Slot)
	}
	stored, ok := f.store.Get("threat_005")
	if !ok {
		t.Fatal("slot threat_005 not written")
	}
	if stored.ID != "threat_005" {
		t.Errorf("stored ID: got %q, want slot key", stored.ID)
	}
	if res.Record.ID == "threat_005" {
		t.Error("returned record should keep its generated id")
	}
}

func TestIngest_CapacityRotation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	c := f.svc.Capacity()

	for i := 0; i < c; i++ {
		f.clk.Advance(time.Second)
		if res, _ := f.svc.Ingest(ctx, validInput(fmt.Sprintf("t%02d", i))); !res.Persisted {
			t.Fatalf("ingest %d not persisted: %s", i, res.Warning)
		}
	}
	if n := f.store.Len(); n != c {
		t.Fatalf("live set after %d ingests: got %d, want %d", c, n, c)
	}

	oldest, err := f.store.QueryOldest(ctx, 1)
	if err != nil || len(oldest) != 1 {
		t.Fatalf("QueryOldest: %v %v", oldest, err)
	}

	f.clk.Advance(time.Second)
	res, _ := f.svc.Ingest(ctx, validInput("overflow"))
	if res.Slot != oldest[0].Key {
		t.Errorf("overwritten slot: got %q, want %q", res.Slot, oldest[0].Key)
	}
	if n := f.store.Len(); n != c {
		t.Errorf("live set after %d ingests: got %d, want %d", c+1, n, c)
	}
	if got, _ := f.store.Get(oldest[0].Key); got.Title != "overflow" {
		t.Errorf("slot %s title: got %q, want overflow", oldest[0].Key, got.Title)
	}
}

func TestIngest_ExpiresCache(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 2)
	ctx := context.Background()

	f.svc.GetActive(ctx, 1, 10)
	f.clk.Advance(time.Minute)
	if _, err := f.svc.Ingest(ctx, validInput("fresh")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	p := f.svc.GetActive(ctx, 1, 10)
	if p.Source != SourceLive || p.Total != 3 {
		t.Errorf("after ingest: got source=%q total=%d, want live/3", p.Source, p.Total)
	}

	// the expired snapshot still backs a failed read
	f.svc.Ingest(ctx, validInput("second"))
	f.store.Fail(true)
	p = f.svc.GetActive(ctx, 1, 10)
	if p.Source != SourceStale {
		t.Errorf("after failing read: got %q, want stale", p.Source)
	}
}

func TestIngest_DemoModeSkipsStore(t *testing.T) {
	f := newFixture(t, Config{Demo: true})

	res, err := f.svc.Ingest(context.Background(), validInput("demo"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Persisted || res.Warning == "" {
		t.Errorf("got persisted=%v warning=%q, want false and a warning", res.Persisted, res.Warning)
	}
	if n := f.store.Calls(remote.OpUpsert) + f.store.Calls(remote.OpQueryOldest); n != 0 {
		t.Errorf("store calls: got %d, want 0", n)
	}
}

// barrierStore holds every QueryOldest caller until n of them have arrived,
// so concurrent ingestions all observe the same oldest slot.
type barrierStore struct {
	*remote.MemoryStore
	wg *sync.WaitGroup
}

func (b *barrierStore) QueryOldest(ctx context.Context, limit int) ([]remote.Slot, error) {
	slots, err := b.MemoryStore.QueryOldest(ctx, limit)
	b.wg.Done()
	b.wg.Wait()
	return slots, err
}

func TestIngest_ConcurrentIngestionsShareOldestSlot(t *testing.T) {
	clk := newClock()
	mem := remote.NewMemoryStore()
	var barrier sync.WaitGroup
	barrier.Add(2)
	st := &barrierStore{MemoryStore: mem, wg: &barrier}

	svc := New(st, cache.New(0).WithClock(clk.Now), Config{Capacity: 3, Rand: NewRand(1), Now: clk.Now})
	for i := 1; i <= 3; i++ {
		put(t, mem, SlotKey(i), clk.Now().Add(time.Duration(i)*time.Second))
	}

	var wg sync.WaitGroup
	results := make([]IngestResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Ingest(context.Background(), validInput(fmt.Sprintf("racer%d", i)))
		}(i)
	}
	wg.Wait()

	if results[0].Slot != "threat_001" || results[1].Slot != "threat_001" {
		t.Fatalf("slots: got %q and %q, want both threat_001", results[0].Slot, results[1].Slot)
	}
	if n := mem.Len(); n != 3 {
		t.Errorf("live set: got %d, want 3", n)
	}
	got, _ := mem.Get("threat_001")
	if got.Title != "racer0" && got.Title != "racer1" {
		t.Errorf("threat_001 title: got %q, want one of the racers", got.Title)
	}
	// one of the two updates is lost: only one racer is stored anywhere
	recs, _ := mem.QueryActive(context.Background(), 10)
	racers := 0
	for _, r := range recs {
		if r.Title == "racer0" || r.Title == "racer1" {
			racers++
		}
	}
	if racers != 1 {
		t.Errorf("stored racers: got %d, want 1 (last writer wins)", racers)
	}
}

func TestIngest_DegradedLookupCollides(t *testing.T) {
	f := newFixture(t, Config{Rand: fixedRand{n: 6}})
	f.store.Fail(true, remote.OpQueryOldest)
	ctx := context.Background()

	a, _ := f.svc.Ingest(ctx, validInput("a"))
	b, _ := f.svc.Ingest(ctx, validInput("b"))
	if a.Slot != "threat_007" || b.Slot != a.Slot {
		t.Errorf("slots: got %q and %q, want both threat_007", a.Slot, b.Slot)
	}
	if n := f.store.Len(); n != 1 {
		t.Errorf("live set: got %d, want 1", n)
	}
}

func TestDetect(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 25)

	res := f.svc.Detect(context.Background(), DetectRequest{Sources: []string{"x"}})
	if len(res.Records) != DefaultDetectLimit {
		t.Errorf("len: got %d, want %d", len(res.Records), DefaultDetectLimit)
	}
	if res.Count != 25 {
		t.Errorf("Count: got %d, want 25", res.Count)
	}
	if res.AnalysisType != "comprehensive" {
		t.Errorf("AnalysisType: got %q, want comprehensive", res.AnalysisType)
	}
	if res.Source != SourceLive {
		t.Errorf("Source: got %q, want live", res.Source)
	}
	if res.Records[0].ID != SlotKey(25) {
		t.Errorf("first: got %q, want newest %s", res.Records[0].ID, SlotKey(25))
	}
}

func TestDetect_Fallback(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Fail(true)

	res := f.svc.Detect(context.Background(), DetectRequest{AnalysisType: "quick"})
	if res.Count != 6 || len(res.Records) != 6 {
		t.Errorf("got count=%d len=%d, want 6/6", res.Count, len(res.Records))
	}
	if res.Source != SourceFallback || res.AnalysisType != "quick" {
		t.Errorf("got source=%q analysis=%q", res.Source, res.AnalysisType)
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	reads     map[string]int
	persisted int
	dropped   int
}

func (r *countingRecorder) FeedRead(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reads == nil {
		r.reads = map[string]int{}
	}
	r.reads[source]++
}

func (r *countingRecorder) Ingested(persisted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if persisted {
		r.persisted++
	} else {
		r.dropped++
	}
}

func TestHooks(t *testing.T) {
	rec := &countingRecorder{}
	var refreshed [][]types.Record
	f := newFixture(t, Config{
		Recorder:  rec,
		OnRefresh: func(r []types.Record) { refreshed = append(refreshed, r) },
	})
	f.fill(t, 2)
	ctx := context.Background()

	f.svc.GetActive(ctx, 1, 10)
	f.svc.GetActive(ctx, 1, 10)
	f.svc.Ingest(ctx, validInput("ok"))
	f.store.Fail(true)
	f.svc.Ingest(ctx, validInput("dropped"))
	f.svc.GetActive(ctx, 1, 10)

	if rec.reads["live"] != 1 || rec.reads["cache"] != 1 || rec.reads["stale"] != 1 {
		t.Errorf("reads: got %v, want live=1 cache=1 stale=1", rec.reads)
	}
	if rec.persisted != 1 || rec.dropped != 1 {
		t.Errorf("ingests: got persisted=%d dropped=%d, want 1/1", rec.persisted, rec.dropped)
	}
	if len(refreshed) != 1 || len(refreshed[0]) != 2 {
		t.Errorf("OnRefresh: got %d calls, want 1 with 2 records", len(refreshed))
	}
	if f.svc.LastSource() != SourceStale {
		t.Errorf("LastSource: got %q, want stale", f.svc.LastSource())
	}
}

func TestInvalidateAndCacheState(t *testing.T) {
	f := newFixture(t, Config{})
	f.fill(t, 1)
	ctx := context.Background()

	if st := f.svc.Cache(); st.Present {
		t.Errorf("Cache before read: got %+v, want absent", st)
	}
	f.svc.GetActive(ctx, 1, 10)
	f.clk.Advance(30 * time.Second)
	st := f.svc.Cache()
	if !st.Present || !st.Fresh || st.Age != 30*time.Second || st.TTL != cache.DefaultTTL {
		t.Errorf("Cache after read: got %+v", st)
	}

	f.svc.Invalidate()
	if st := f.svc.Cache(); st.Present {
		t.Errorf("Cache after Invalidate: got %+v, want absent", st)
	}
	f.svc.GetActive(ctx, 1, 10)
	if n := f.store.Calls(remote.OpQueryActive); n != 2 {
		t.Errorf("QueryActive calls: got %d, want 2", n)
	}
}

func TestPreload_WritesSeedIntoSlots(t *testing.T) {
	f := newFixture(t, Config{})
	n, err := f.svc.Preload(context.Background())
	if err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if n != 6 || f.store.Len() != 6 {
		t.Fatalf("Preload: wrote %d, store holds %d, want 6", n, f.store.Len())
	}
	rec, ok := f.store.Get("threat_001")
	if !ok || rec.ID != "threat_001" {
		t.Errorf("threat_001: got %+v (ok=%v), want record keyed by slot", rec, ok)
	}

	p := f.svc.GetActive(context.Background(), 1, 10)
	if p.Source != SourceLive || p.Total != 6 {
		t.Errorf("GetActive after Preload: source=%s total=%d, want live 6", p.Source, p.Total)
	}
}

func TestPreload_CappedAtCapacity(t *testing.T) {
	f := newFixture(t, Config{Capacity: 4})
	n, err := f.svc.Preload(context.Background())
	if err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if n != 4 || f.store.Len() != 4 {
		t.Errorf("Preload: wrote %d, store holds %d, want 4", n, f.store.Len())
	}
}

func TestPreload_DemoMode(t *testing.T) {
	svc := New(nil, nil, Config{})
	if _, err := svc.Preload(context.Background()); !errors.Is(err, ErrDemo) {
		t.Errorf("Preload in demo mode: got %v, want ErrDemo", err)
	}
}

func TestPreload_StoreFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Fail(true, remote.OpUpsert)

	n, err := f.svc.Preload(context.Background())
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("Preload: got %v, want ErrUnavailable", err)
	}
	if n != 0 {
		t.Errorf("Preload: wrote %d, want 0", n)
	}
}

// gatedStore parks the first QueryActive call, after it has read the store,
// until release is closed.
type gatedStore struct {
	*remote.MemoryStore
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) QueryActive(ctx context.Context, limit int) ([]types.Record, error) {
	recs, err := g.MemoryStore.QueryActive(ctx, limit)
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return recs, err
}

func TestGetActive_OutOfOrderRefreshDropped(t *testing.T) {
	clk := newClock()
	mem := remote.NewMemoryStore()
	st := &gatedStore{MemoryStore: mem, entered: make(chan struct{}), release: make(chan struct{})}
	put(t, mem, SlotKey(1), clk.Now())

	var (
		mu        sync.Mutex
		refreshes []int
	)
	svc := New(st, cache.New(0).WithClock(clk.Now), Config{
		Now: clk.Now,
		OnRefresh: func(recs []types.Record) {
			mu.Lock()
			refreshes = append(refreshes, len(recs))
			mu.Unlock()
		},
	})

	slow := make(chan Page, 1)
	go func() { slow <- svc.GetActive(context.Background(), 1, 10) }()
	<-st.entered

	put(t, mem, SlotKey(2), clk.Now().Add(time.Second))
	if p := svc.GetActive(context.Background(), 1, 10); p.Total != 2 {
		t.Fatalf("newer read: got %d records, want 2", p.Total)
	}

	close(st.release)
	if p := <-slow; p.Source != SourceLive || p.Total != 1 {
		t.Errorf("older read: got %s with %d records, want live with 1", p.Source, p.Total)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(refreshes) != 1 || refreshes[0] != 2 {
		t.Errorf("OnRefresh calls: got %v, want [2]", refreshes)
	}
	p := svc.GetActive(context.Background(), 1, 10)
	if p.Source != SourceCache || p.Total != 2 {
		t.Errorf("cache after both reads: got %s with %d records, want cache with 2", p.Source, p.Total)
	}
}
