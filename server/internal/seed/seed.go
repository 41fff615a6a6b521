// Package seed holds the hand-curated records served when neither the remote
// store nor the cache can supply data, and in demo mode.
package seed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// entry is one seed record. Age is how long before "now" the record's
// timestamp is placed, so the dataset always looks recent.
type entry struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	Category    string        `yaml:"type"`
	Severity    int           `yaml:"severity"`
	Summary     string        `yaml:"summary"`
	Regions     []string      `yaml:"regions"`
	Sources     []string      `yaml:"sources"`
	Age         time.Duration `yaml:"age"`
	Confidence  int           `yaml:"confidence"`
	Credible    int           `yaml:"credible"`
	NotCredible int           `yaml:"not_credible"`
}

// Dataset is an immutable list of seed entries.
type Dataset struct {
	entries []entry
}

// Default returns the built-in dataset.
func Default() *Dataset {
	return &Dataset{entries: builtin}
}

// Load reads a YAML seed file of the form `threats: [...]`. An empty file
// or one without threats is rejected so a typo never empties the fallback.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %q: %w", path, err)
	}
	var doc struct {
		Threats []entry `yaml:"threats"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("seed: parse yaml: %w", err)
	}
	if len(doc.Threats) == 0 {
		return nil, fmt.Errorf("seed: %q has no threats", path)
	}
	for i, e := range doc.Threats {
		if e.ID == "" || e.Title == "" || e.Category == "" {
			return nil, fmt.Errorf("seed: threats[%d]: id, title and type are required", i)
		}
	}
	return &Dataset{entries: doc.Threats}, nil
}

// Len returns the number of records in the dataset.
func (d *Dataset) Len() int { return len(d.entries) }

// Records materialises the dataset relative to now. Each call returns a
// fresh slice, so callers may modify it.
func (d *Dataset) Records(now time.Time) []types.Record {
	out := make([]types.Record, 0, len(d.entries))
	for _, e := range d.entries {
		ts := now.Add(-e.Age).UTC()
		regions := e.Regions
		if len(regions) == 0 {
			regions = []string{"Global"}
		}
		out = append(out, types.Record{
			ID:         e.ID,
			Title:      e.Title,
			Category:   e.Category,
			Severity:   e.Severity,
			Summary:    e.Summary,
			Regions:    append([]string(nil), regions...),
			Sources:    append([]string(nil), e.Sources...),
			Status:     types.StatusActive,
			Confidence: e.Confidence,
			Votes:      types.Votes{Credible: e.Credible, NotCredible: e.NotCredible},
			Timestamp:  ts,
			UpdatedAt:  ts,
		})
	}
	return out
}
