package api

import (
	"encoding/json"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// ThreatsResponse is the payload for GET /api/v1/threats.
type ThreatsResponse struct {
	Success  bool           `json:"success"`
	Threats  []types.Record `json:"threats"`
	HasMore  bool           `json:"hasMore"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	Cached   bool           `json:"cached"`
	Degraded bool           `json:"degraded"`
	Source   string         `json:"source"`
	Error    bool           `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// ingestRequest is the body of POST /api/v1/threats. Severity accepts a JSON
// number or a numeric string.
type ingestRequest struct {
	Title      string      `json:"title"`
	Type       string      `json:"type"`
	Severity   json.Number `json:"severity"`
	Summary    string      `json:"summary"`
	Regions    []string    `json:"regions"`
	Sources    []string    `json:"sources"`
	Location   string      `json:"location"`
	Tags       []string    `json:"tags"`
	SignalType string      `json:"signal_type"`
}

// IngestResponse is the payload for a successful POST /api/v1/threats.
type IngestResponse struct {
	Success   bool         `json:"success"`
	Threat    types.Record `json:"threat"`
	Persisted bool         `json:"persisted"`
	Slot      string       `json:"slot,omitempty"`
	Warning   string       `json:"warning,omitempty"`
	Message   string       `json:"message"`
}

// DetectResponse is the payload for POST /api/v1/detect.
type DetectResponse struct {
	Success      bool           `json:"success"`
	Threats      []types.Record `json:"threats"`
	Count        int            `json:"count"`
	Source       string         `json:"source"`
	AnalysisType string         `json:"analysisType"`
	Message      string         `json:"message"`
}

// CacheResponse describes the feed cache in GET /api/v1/health.
type CacheResponse struct {
	Present    bool    `json:"present"`
	Fresh      bool    `json:"fresh"`
	AgeSeconds float64 `json:"age_seconds"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string           `json:"status"` // "ok" | "degraded"
	Mode        string           `json:"mode"`   // "demo" | "live"
	LastSource  string           `json:"last_source,omitempty"`
	Capacity    int              `json:"capacity"`
	Cache       CacheResponse    `json:"cache"`
	AlertCount  int              `json:"alert_count"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// successResponse is the body of endpoints that only acknowledge.
type successResponse struct {
	Success bool `json:"success"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
