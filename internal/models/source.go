// Package models defines the core domain entities: data sources, symbol state, rules and alerts.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DataSource is one periodically refreshed snapshot feed, identified by algorithm, group
// and interval.
type DataSource struct {
	ID          int64     `json:"id"`
	Algorithm   string    `json:"algorithm"`
	Group       string    `json:"group"`
	Interval    string    `json:"interval"`
	PriceField  string    `json:"price_field,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Headers     []string  `json:"headers,omitempty"`
	DataVersion int64     `json:"data_version"`
	LastFetched time.Time `json:"last_fetched,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	GlobalRules []UserRule `json:"-"`
	CustomRules []UserRule `json:"-"`
}

// FileName returns the snapshot file name, "{algorithm}{group}{interval}.csv" with spaces removed.
func (s *DataSource) FileName() string {
	strip := func(v string) string { return strings.ReplaceAll(v, " ", "") }
	return fmt.Sprintf("%s%s%s.csv", strip(s.Algorithm), strip(s.Group), strip(s.Interval))
}

// Baseline reports whether no snapshot has been evaluated yet; such rows only seed state.
func (s *DataSource) Baseline() bool {
	return s.DataVersion == 0
}

// Rules returns the global rules followed by the custom rules, each stamped with its scope.
func (s *DataSource) Rules() []UserRule {
	out := make([]UserRule, 0, len(s.GlobalRules)+len(s.CustomRules))
	for _, r := range s.GlobalRules {
		r.Scope = OriginGlobal
		out = append(out, r)
	}
	for _, r := range s.CustomRules {
		r.Scope = OriginCustom
		out = append(out, r)
	}
	return out
}

// Validate checks data source field constraints.
func (s *DataSource) Validate() error {
	if strings.TrimSpace(s.Algorithm) == "" {
		return errors.New("data source algorithm must not be empty")
	}
	if strings.TrimSpace(s.Interval) == "" {
		return errors.New("data source interval must not be empty")
	}
	if s.DataVersion < 0 {
		return errors.New("data version must not be negative")
	}
	for _, r := range s.Rules() {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s rule %q: %w", r.Scope, r.ID, err)
		}
	}
	return nil
}
