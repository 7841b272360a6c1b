// Package triggers holds the evaluation strategies, one per algorithm family.
//
// An evaluator sees the current row, the previous row and a working copy of the symbol's
// state. It mutates the working copy (crossing flags, target hits, position counter) and
// returns the conditions that became true. Deduplication against already fired keys is the
// caller's job.
package triggers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/scanalert/internal/fields"
	"github.com/rewired-gh/scanalert/internal/models"
	"github.com/rewired-gh/scanalert/internal/rules"
)

// Family names an evaluation strategy.
type Family string

const (
	FamilyThreshold Family = "threshold"
	FamilyTrendZone Family = "trendzone"
	FamilyPosition  Family = "position"
	FamilyFieldRule Family = "fieldrule"
)

// Input is everything an evaluator may look at for one row.
type Input struct {
	Symbol   string
	Row      fields.Row
	Prev     fields.Row
	State    *models.SymbolState
	Rules    *rules.Algorithm
	Price    float64
	HasPrice bool
	Context  Context
	Now      time.Time
}

func (in *Input) event(typ models.AlertType, key, message string) models.RawAlertEvent {
	return models.RawAlertEvent{
		Symbol:    in.Symbol,
		Message:   message,
		Type:      typ,
		Key:       key,
		Origin:    models.OriginSystem,
		Timestamp: in.Now,
	}
}

// template returns the catalog message for field, or fallback.
func (in *Input) template(field, fallback string) string {
	if d, ok := in.Rules.Definition(field); ok && strings.TrimSpace(d.Message) != "" {
		return d.Message
	}
	return fallback
}

// Evaluator is one algorithm family's strategy.
type Evaluator interface {
	Family() Family
	Evaluate(in *Input) []models.RawAlertEvent
}

// builtinFamilies maps known algorithms (lowercased, spaces removed) to their family.
var builtinFamilies = map[string]Family{
	"fsoptions": FamilyThreshold,
	"mentfib":   FamilyTrendZone,
	"ttscanner": FamilyPosition,
}

// Registry selects the evaluator for an algorithm.
type Registry struct {
	evaluators map[Family]Evaluator
}

// NewRegistry returns a registry with every built-in family.
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[Family]Evaluator)}
	for _, e := range []Evaluator{Threshold{}, TrendZone{}, Position{}, FieldRule{}} {
		r.evaluators[e.Family()] = e
	}
	return r
}

// Resolve picks the evaluator for algorithm. A catalog family wins over the built-in table;
// an entry with only a trigger type falls back to the generic field rules. The boolean is
// false when nothing applies.
func (r *Registry) Resolve(algorithm string, a *rules.Algorithm) (Evaluator, bool) {
	if a != nil && a.Family != "" {
		e, ok := r.evaluators[Family(strings.ToLower(a.Family))]
		return e, ok
	}
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(algorithm), " ", ""))
	if f, ok := builtinFamilies[key]; ok {
		return r.evaluators[f], true
	}
	if a != nil && a.TriggerType != "" {
		return r.evaluators[FamilyFieldRule], true
	}
	return nil, false
}

// flagName derives a state flag from a prefix and a column name.
func flagName(prefix, field string) string {
	return prefix + "_" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(field)), " ", "_")
}

// keyPrefix is the fired-key prefix of a crossing flag. The "|" terminator keeps flags that
// share a leading name, such as "Call Level" and "Call Level 2", from matching each other.
func keyPrefix(symbol, flag string) string {
	return symbol + "_" + flag + "|"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// crossed reports whether price sits at or beyond level in the rule's direction.
func crossed(price, level float64, above bool) bool {
	if above {
		return price >= level
	}
	return price <= level
}

// crossing applies the fire-once, re-arm-on-retreat logic shared by the level families.
// It returns true when the crossing should be reported.
func crossing(st *models.SymbolState, flag, prefix string, condition bool) bool {
	if !condition {
		st.Rearm(flag, prefix)
		return false
	}
	if st.Flag(flag) {
		return false
	}
	st.SetFlag(flag, true)
	return true
}

func targetKey(symbol string, n, position int) string {
	return fmt.Sprintf("%s_target%d_%d", symbol, n, position)
}
