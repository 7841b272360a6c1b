// Package rules loads the system alert rule catalog.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a single alert rule of an algorithm.
type Definition struct {
	Field        string `yaml:"field"`
	Message      string `yaml:"message"`
	TriggerAbove *bool  `yaml:"trigger_above,omitempty"`
}

// Above reports the crossing direction; rules without an explicit setting trigger upwards.
func (d Definition) Above() bool {
	return d.TriggerAbove == nil || *d.TriggerAbove
}

// Algorithm is the catalog entry of one algorithm.
type Algorithm struct {
	Name        string       `yaml:"-"`
	Family      string       `yaml:"family,omitempty"`
	TriggerType string       `yaml:"trigger_type,omitempty"`
	PriceField  string       `yaml:"price_field,omitempty"`
	Fields      []string     `yaml:"fields,omitempty"`
	Alerts      []Definition `yaml:"alerts"`
}

// Definition returns the alert definition watching field, matched case-insensitively.
func (a *Algorithm) Definition(field string) (Definition, bool) {
	if a == nil {
		return Definition{}, false
	}
	want := strings.ToLower(strings.TrimSpace(field))
	for _, d := range a.Alerts {
		if strings.ToLower(strings.TrimSpace(d.Field)) == want {
			return d, true
		}
	}
	return Definition{}, false
}

// Catalog is the read-only set of algorithm rules. Build one with Load or Parse and pass
// it to whatever needs it.
type Catalog struct {
	algorithms map[string]*Algorithm
}

// Load reads and parses the catalog document at path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule catalog: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from a YAML (or JSON) document keyed by algorithm name.
func Parse(b []byte) (*Catalog, error) {
	var doc map[string]*Algorithm
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return New(doc), nil
}

// New builds a catalog from already decoded entries.
func New(entries map[string]*Algorithm) *Catalog {
	c := &Catalog{algorithms: make(map[string]*Algorithm, len(entries)*2)}
	for name, a := range entries {
		if a == nil {
			a = &Algorithm{}
		}
		a.Name = name
		c.algorithms[name] = a
		if compact := stripSpaces(name); compact != name {
			if _, exists := c.algorithms[compact]; !exists {
				c.algorithms[compact] = a
			}
		}
	}
	return c
}

// Algorithm looks up the entry for name, first verbatim, then with spaces removed.
func (c *Catalog) Algorithm(name string) (*Algorithm, bool) {
	if c == nil || name == "" {
		return nil, false
	}
	if a, ok := c.algorithms[name]; ok {
		return a, true
	}
	if a, ok := c.algorithms[stripSpaces(name)]; ok {
		return a, true
	}
	return nil, false
}

// RulesFor returns the alert definitions of an algorithm. The second result is false when
// the catalog has no entry, which callers treat as nothing to evaluate.
func (c *Catalog) RulesFor(name string) ([]Definition, bool) {
	a, ok := c.Algorithm(name)
	if !ok {
		return nil, false
	}
	return a.Alerts, true
}

// Names lists the catalog keys as written in the document.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	seen := make(map[*Algorithm]bool, len(c.algorithms))
	var names []string
	for _, a := range c.algorithms {
		if seen[a] {
			continue
		}
		seen[a] = true
		names = append(names, a.Name)
	}
	return names
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}
