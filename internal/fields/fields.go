// Package fields resolves loosely named CSV columns and parses their values.
//
// Snapshot headers are untrusted: the same logical column arrives as "Symbol/Interval",
// "Sym Int" or "SYMBOL_INTERVAL" depending on the exporter. Every lookup in the engine goes
// through Normalize so that all of these spellings resolve to the same key.
package fields

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolCandidates are the accepted spellings of the row identifier column.
var SymbolCandidates = []string{"symbol/interval", "symbol", "sym/int", "sym", "ticker"}

// abbreviations expands short header tokens to their canonical word. "int" is only read as
// "interval" right after a symbol token, so "Int" or "Int Rate" keep their own meaning.
// Standalone "dir" and "tgt" always mean direction and target.
var abbreviations = map[string]string{
	"sym": "symbol",
	"dir": "direction",
	"tgt": "target",
}

// Normalize folds a column name to its lookup key: lowercased, split on whitespace,
// underscores, hyphens and slashes, abbreviations expanded, joined without separators.
func Normalize(name string) string {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '_', '-', '/':
			return true
		}
		return false
	})
	var b strings.Builder
	b.Grow(len(name))
	prev := ""
	for _, tok := range tokens {
		if full, ok := abbreviations[tok]; ok {
			tok = full
		} else if tok == "int" && prev == "symbol" {
			tok = "interval"
		}
		b.WriteString(tok)
		prev = tok
	}
	return b.String()
}

// Field is a single named value of a row.
type Field struct {
	Name  string `msgpack:"n" json:"name"`
	Value string `msgpack:"v" json:"value"`
}

// Row is an ordered set of fields with normalized lookup keys.
// The zero value is an empty row ready to use.
type Row struct {
	fields []Field
	keys   []string
}

// NewRow builds a row from alternating name/value pairs. A trailing name without a value
// gets an empty value.
func NewRow(kv ...string) Row {
	var r Row
	for i := 0; i < len(kv); i += 2 {
		v := ""
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		r.Set(kv[i], v)
	}
	return r
}

// RowFromFields rebuilds a row from its exported fields.
func RowFromFields(fs []Field) Row {
	var r Row
	for _, f := range fs {
		r.Set(f.Name, f.Value)
	}
	return r
}

// RowFromMap converts a decoded mapping into a row. Keys are sorted since map order carries
// no meaning.
func RowFromMap(m map[string]any) Row {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	var r Row
	for _, k := range names {
		r.Set(k, FormatValue(m[k]))
	}
	return r
}

// Set replaces the value of the field matching name, or appends a new field.
func (r *Row) Set(name, value string) {
	key := Normalize(name)
	if key == "" {
		return
	}
	for i, k := range r.keys {
		if k == key {
			r.fields[i].Value = value
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: value})
	r.keys = append(r.keys, key)
}

// Get returns the value of the first candidate present in the row. Candidates are tried in
// order, so earlier spellings take priority.
func (r Row) Get(candidates ...string) (string, bool) {
	for _, c := range candidates {
		key := Normalize(c)
		for i, k := range r.keys {
			if k == key {
				return r.fields[i].Value, true
			}
		}
	}
	return "", false
}

// Value is Get without the presence flag.
func (r Row) Value(candidates ...string) string {
	v, _ := r.Get(candidates...)
	return v
}

// Has reports whether any candidate is present with a non-blank value.
func (r Row) Has(candidates ...string) bool {
	v, ok := r.Get(candidates...)
	return ok && strings.TrimSpace(v) != ""
}

// Number returns the first candidate whose value parses as a number.
func (r Row) Number(candidates ...string) (float64, bool) {
	_, f, ok := r.NumberText(candidates...)
	return f, ok
}

// NumberText is Number that also returns the value as written in the row.
func (r Row) NumberText(candidates ...string) (string, float64, bool) {
	for _, c := range candidates {
		v, ok := r.Get(c)
		if !ok {
			continue
		}
		if f, ok := SafeFloat(v); ok {
			return strings.TrimSpace(v), f, true
		}
	}
	return "", 0, false
}

// Fields returns a copy of the row's fields in insertion order.
func (r Row) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r Row) Len() int { return len(r.fields) }

// Empty reports whether the row has no fields.
func (r Row) Empty() bool { return len(r.fields) == 0 }

// Clone returns an independent deep copy.
func (r Row) Clone() Row {
	out := Row{
		fields: make([]Field, len(r.fields)),
		keys:   make([]string, len(r.keys)),
	}
	copy(out.fields, r.fields)
	copy(out.keys, r.keys)
	return out
}

// SafeFloat parses v as a decimal number after removing thousands separators.
// It reports false for nil, blank or unparseable input and never panics.
func SafeFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		return parseNumber(x)
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return SafeFloat(float64(x))
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		return parseNumber(x.String())
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	case *decimal.Decimal:
		if x == nil {
			return 0, false
		}
		f, _ := x.Float64()
		return f, true
	default:
		return parseNumber(fmt.Sprint(x))
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// FormatValue renders a decoded value the way it would appear in a CSV cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
