package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/threatwatch/threatwatch/pkg/types"
	"github.com/threatwatch/threatwatch/server/internal/alerts"
	"github.com/threatwatch/threatwatch/server/internal/feed"
)

const (
	defaultMaxPageSize = 100
	maxBodyBytes       = 1 << 20
)

// AlertSource lists current alerts. *alerts.Engine implements it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Options configures a Handler. Zero values are valid.
type Options struct {
	Alerts      AlertSource
	MaxPageSize int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads and writes threats through the feed service and returns JSON.
type Handler struct {
	feed        *feed.Service
	alerts      AlertSource
	maxPageSize int
	mux         *http.ServeMux
}

// New creates a Handler wired to the feed service and registers all routes.
func New(svc *feed.Service, opts Options) http.Handler {
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	h := &Handler{
		feed:        svc,
		alerts:      opts.Alerts,
		maxPageSize: opts.MaxPageSize,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("/api/v1/threats", h.threats)
	h.mux.HandleFunc("/api/v1/detect", h.detect)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/cache/invalidate", h.invalidate)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// threats dispatches /api/v1/threats by method.
func (h *Handler) threats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listThreats(w, r)
	case http.MethodPost:
		h.ingest(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// listThreats returns GET /api/v1/threats?page=&limit=: one page of the feed.
func (h *Handler) listThreats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), 0)
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}

	p := h.feed.GetActive(r.Context(), page, limit)
	jsonResp(w, http.StatusOK, ThreatsResponse{
		Success:  true,
		Threats:  p.Records,
		HasMore:  p.HasMore,
		Total:    p.Total,
		Page:     p.Page,
		Cached:   p.Cached,
		Degraded: p.Degraded,
		Source:   string(p.Source),
		Error:    p.Source == feed.SourceFallback,
		Message:  p.Message,
	})
}

// ingest handles POST /api/v1/threats: validate, normalise and store one threat.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	in := types.IngestInput{
		Title:      req.Title,
		Category:   req.Type,
		Summary:    req.Summary,
		Regions:    req.Regions,
		Sources:    req.Sources,
		Location:   req.Location,
		Tags:       req.Tags,
		SignalType: req.SignalType,
	}
	if req.Severity != "" {
		f, err := req.Severity.Float64()
		if err != nil || math.IsNaN(f) || f < math.MinInt || f >= math.MaxInt {
			jsonErr(w, http.StatusBadRequest, "severity must be a number")
			return
		}
		sev := int(f)
		in.Severity = &sev
	}

	res, err := h.feed.Ingest(r.Context(), in)
	var verr *feed.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonErr(w, http.StatusBadRequest, verr.Error())
		return
	case err != nil:
		slog.Error("api: ingest failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to ingest threat")
		return
	}

	jsonResp(w, http.StatusOK, IngestResponse{
		Success:   true,
		Threat:    res.Record,
		Persisted: res.Persisted,
		Slot:      res.Slot,
		Warning:   res.Warning,
		Message:   "Threat ingested successfully",
	})
}

// detect handles POST /api/v1/detect: the head of the active feed plus a count.
func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// an empty body means the defaults
	var req feed.DetectRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := h.feed.Detect(r.Context(), req)
	jsonResp(w, http.StatusOK, DetectResponse{
		Success:      true,
		Threats:      res.Records,
		Count:        res.Count,
		Source:       string(res.Source),
		AnalysisType: res.AnalysisType,
		Message:      "Threat detection completed successfully",
	})
}

// health returns GET /api/v1/health: mode, cache state and diagnostic hints.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cs := h.feed.Cache()
	hints := computeDiagnostics(feedState{
		demo:       h.feed.Demo(),
		lastSource: h.feed.LastSource(),
		cache:      cs,
		capacity:   h.feed.Capacity(),
	})

	resp := HealthResponse{
		Status:     "ok",
		Mode:       "live",
		LastSource: string(h.feed.LastSource()),
		Capacity:   h.feed.Capacity(),
		Cache: CacheResponse{
			Present:    cs.Present,
			Fresh:      cs.Fresh,
			AgeSeconds: cs.Age.Seconds(),
			TTLSeconds: cs.TTL.Seconds(),
		},
		Diagnostics: hints,
	}
	if h.feed.Demo() {
		resp.Mode = "demo"
	}
	if degraded(hints) {
		resp.Status = "degraded"
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// invalidate handles POST /api/v1/cache/invalidate: drop the cached snapshot.
func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.feed.Invalidate()
	jsonResp(w, http.StatusOK, successResponse{Success: true})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Success: false, Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// queryInt parses a positive integer query value, returning def when it is
// missing or malformed.
func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
