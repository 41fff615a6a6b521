package api

import (
	"fmt"
	"time"

	"github.com/threatwatch/threatwatch/server/internal/feed"
)

// DiagnosticHint is one human-readable insight about the feed's health.
// Detail explains the situation in plain English for an operator.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint (e.g. cache age).
	Value *float64 `json:"value,omitempty"`
}

// feedState is what computeDiagnostics looks at.
type feedState struct {
	demo       bool
	lastSource feed.Source
	cache      feed.CacheState
	capacity   int
}

// computeDiagnostics derives diagnostic hints from the feed state.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(st feedState) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Demo mode ────────────────────────────────────────────────────────────
	if st.demo {
		hints = append(hints, DiagnosticHint{
			Key:   "demo_mode",
			Level: "info",
			Title: "Demo mode",
			Detail: "No remote store is configured, so every read is served from the built-in " +
				"seed dataset and ingested threats are not saved. Set store.backend and its " +
				"url/dsn (or REDIS_URL / DATABASE_URL) to serve live data.",
		})
		return hints
	}

	age := st.cache.Age.Seconds()

	switch st.lastSource {
	case feed.SourceFallback:
		hints = append(hints, DiagnosticHint{
			Key:   "store_unreachable",
			Level: "critical",
			Title: "Serving seed data",
			Detail: "The last read could not reach the remote store and there was no earlier " +
				"snapshot to fall back on, so clients received the seed dataset. Check that the " +
				"store is up, reachable from this host and not rate limiting us.",
		})

	case feed.SourceStale:
		hints = append(hints, DiagnosticHint{
			Key:   "store_degraded",
			Level: "warning",
			Title: "Serving stale snapshot",
			Detail: fmt.Sprintf(
				"The last read failed against the remote store, so clients received the "+
					"previous snapshot, fetched %s ago. New threats ingested since then are "+
					"not visible until the store answers again.",
				st.cache.Age.Round(time.Second),
			),
			Value: &age,
		})

	case "":
		hints = append(hints, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "No reads yet",
			Detail: "Nobody has asked for the feed since the service started. The first read " +
				"fetches from the remote store and fills the cache.",
		})
	}

	if st.cache.Present && !st.cache.Fresh && st.lastSource != feed.SourceStale {
		hints = append(hints, DiagnosticHint{
			Key:   "cache_expired",
			Level: "info",
			Title: "Cache expired",
			Detail: fmt.Sprintf(
				"The cached snapshot is %s old, past its %s lifetime. The next read "+
					"refreshes it from the remote store.",
				st.cache.Age.Round(time.Second), st.cache.TTL,
			),
			Value: &age,
		})
	}

	// ── All clear ─────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"Reads are served from the remote store with a %s cache in front. "+
					"The feed holds at most %d threats; new ones replace the least "+
					"recently updated.",
				st.cache.TTL, st.capacity,
			),
		})
	}

	return hints
}

// degraded reports whether any hint is a warning or worse.
func degraded(hints []DiagnosticHint) bool {
	for _, h := range hints {
		if h.Level == "warning" || h.Level == "critical" {
			return true
		}
	}
	return false
}
