package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/threatwatch/threatwatch/pkg/types"
	"github.com/threatwatch/threatwatch/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	ThreatID   string     `json:"threat_id"`
	Title      string     `json:"title"`
	ThreatType string     `json:"threat_type"`
	Score      int        `json:"threat_severity"` // record severity, 0-100
	Regions    []string   `json:"regions,omitempty"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against feed snapshots and delivers webhook
// notifications when rules fire or resolve. An alert is keyed by rule and
// record id: it fires when a record starts matching and resolves when the
// record stops matching or leaves the feed (its slot was reclaimed).
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:threatID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
}

// New creates an Engine from the alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps in new rules and webhooks. Rules with a condition that
// does not parse are dropped with a warning. Alerts of rules that no longer
// exist are resolved on the next Evaluate.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	rules := make([]config.AlertRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if !validCondition(r.Condition) {
			slog.Warn("alerts: ignoring rule with invalid condition",
				"rule", r.Name,
				"condition", r.Condition,
			)
			continue
		}
		rules = append(rules, r)
	}

	e.mu.Lock()
	e.rules = rules
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	e.mu.Unlock()

	slog.Info("alerts: rules loaded", "rules", len(rules), "webhooks", len(cfg.Webhooks))
}

// Evaluate tests all rules against every active record in recs.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose record no longer matches are resolved.
func (e *Engine) Evaluate(recs []types.Record) {
	now := e.now()

	e.mu.Lock()
	matching := make(map[string]bool)
	var outbox []Alert

	for _, rule := range e.rules {
		for _, rec := range recs {
			if !rec.Active() {
				continue
			}
			fires, value := evalCondition(rule.Condition, rec)
			if !fires {
				continue
			}
			key := rule.Name + ":" + rec.ID
			matching[key] = true
			if _, firing := e.active[key]; firing {
				continue
			}

			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
				continue
			}

			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &Alert{
				ID:         fmt.Sprintf("%s:%s:%d", rule.Name, rec.ID, now.UnixNano()),
				RuleName:   rule.Name,
				ThreatID:   rec.ID,
				Title:      rec.Title,
				ThreatType: rec.Category,
				Score:      rec.Severity,
				Regions:    append([]string(nil), rec.Regions...),
				Severity:   sev,
				Value:      value,
				Message: fmt.Sprintf("[%s] %s fired on %q (%s): %s",
					sev, rule.Name, rec.Title, rec.ID, rule.Condition),
				FiredAt: now,
				State:   "firing",
			}
			e.active[key] = a
			e.lastFire[key] = now
			outbox = append(outbox, *a)

			slog.Warn("alerts: alert fired",
				"rule", rule.Name,
				"threat", rec.ID,
				"value", value,
				"severity", sev,
			)
		}
	}

	for key, a := range e.active {
		if matching[key] {
			continue
		}
		resolved := now
		a.State = "resolved"
		a.ResolvedAt = &resolved
		delete(e.active, key)

		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		outbox = append(outbox, *a)

		slog.Info("alerts: alert resolved",
			"rule", a.RuleName,
			"threat", a.ThreatID,
		)
	}

	webhooks := e.webhooks
	e.mu.Unlock()

	if len(outbox) > 0 && len(webhooks) > 0 {
		go e.deliver(webhooks, outbox)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
