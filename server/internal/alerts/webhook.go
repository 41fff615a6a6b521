package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/threatwatch/threatwatch/server/internal/config"
)

// level is how an alert severity renders in chat payloads.
type level struct {
	label string
	color string
}

var levels = map[string]level{
	"critical": {label: "CRITICAL", color: "#FF4F6A"},
	"warning":  {label: "WARNING", color: "#FFAB40"},
	"info":     {label: "INFO", color: "#00D4FF"},
}

func levelOf(severity string) level {
	if l, ok := levels[severity]; ok {
		return l
	}
	return levels["info"]
}

// deliver sends every alert in batch to each webhook target, in order.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(webhooks []config.WebhookConfig, batch []Alert) {
	for i := range batch {
		a := &batch[i]
		for _, wh := range webhooks {
			url := wh.URL()
			if url == "" {
				continue
			}

			body, err := payload(wh.Type, a)
			if err == nil {
				err = e.post(url, body)
			}
			if err != nil {
				slog.Error("alerts: webhook delivery failed",
					"type", wh.Type,
					"rule", a.RuleName,
					"threat", a.ThreatID,
					"err", err,
				)
				continue
			}
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"threat", a.ThreatID,
				"state", a.State,
			)
		}
	}
}

// payload renders a for the given webhook type.
func payload(kind string, a *Alert) ([]byte, error) {
	switch kind {
	case "slack":
		return json.Marshal(slackPayload(a))
	case "teams":
		return json.Marshal(teamsPayload(a))
	case "http":
		return json.Marshal(map[string]interface{}{
			"event": "threat_alert." + a.State,
			"alert": a,
		})
	default:
		return nil, fmt.Errorf("unknown webhook type %q", kind)
	}
}

// headline is the one-line summary shared by the chat payloads.
func headline(a *Alert) string {
	verb := "fired"
	if a.State == "resolved" {
		verb = "resolved"
	}
	return fmt.Sprintf("[%s] %s %s: %s", levelOf(a.Severity).label, a.RuleName, verb, a.Title)
}

// facts are the threat details listed under the headline.
func facts(a *Alert) [][2]string {
	regions := "Global"
	if len(a.Regions) > 0 {
		regions = strings.Join(a.Regions, ", ")
	}
	return [][2]string{
		{"Threat", a.ThreatID},
		{"Type", a.ThreatType},
		{"Severity", fmt.Sprintf("%d", a.Score)},
		{"Regions", regions},
		{"Fired", a.FiredAt.UTC().Format("2006-01-02 15:04:05 UTC")},
	}
}

func slackPayload(a *Alert) map[string]interface{} {
	fields := make([]map[string]interface{}, 0, 5)
	for _, f := range facts(a) {
		fields = append(fields, map[string]interface{}{"title": f[0], "value": f[1], "short": true})
	}
	return map[string]interface{}{
		"text": headline(a),
		"attachments": []map[string]interface{}{{
			"color":  levelOf(a.Severity).color,
			"fields": fields,
			"footer": a.Message,
		}},
	}
}

func teamsPayload(a *Alert) map[string]interface{} {
	list := make([]map[string]string, 0, 5)
	for _, f := range facts(a) {
		list = append(list, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": strings.TrimPrefix(levelOf(a.Severity).color, "#"),
		"summary":    headline(a),
		"title":      "Threatwatch: " + headline(a),
		"sections": []map[string]interface{}{{
			"activityTitle": a.Title,
			"facts":         list,
			"text":          a.Message,
		}},
	}
}

func (e *Engine) post(url string, body []byte) error {
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
