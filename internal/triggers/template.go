package triggers

import (
	"strconv"
	"strings"

	"github.com/rewired-gh/scanalert/internal/fields"
)

// Context supplies placeholder values for message templates. Names missing from the
// explicit values are looked up in the row itself.
type Context struct {
	vals map[string]string
	row  fields.Row
}

// NewContext builds the standard context of a row: symbol, direction, entry price, targets
// and the current value.
func NewContext(symbol string, row fields.Row, value string) Context {
	return Context{
		vals: map[string]string{
			"symbol":      symbol,
			"direction":   CanonicalDirection(row.Value(DirectionCandidates...)),
			"entry_price": row.Value("entry price", "entry"),
			"target1":     row.Value("target #1", "target1"),
			"target2":     row.Value("target #2", "target2"),
			"target3":     row.Value("target #3", "target3"),
			"value":       value,
		},
		row: row,
	}
}

// With returns a copy of c with extra name/value pairs.
func (c Context) With(kv ...string) Context {
	out := Context{vals: make(map[string]string, len(c.vals)+len(kv)/2), row: c.row}
	for k, v := range c.vals {
		out.vals[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out.vals[kv[i]] = kv[i+1]
	}
	return out
}

// Lookup resolves a placeholder by exact name, then by normalized alias, then from the row.
func (c Context) Lookup(name string) (string, bool) {
	if v, ok := c.vals[name]; ok {
		return v, true
	}
	norm := fields.Normalize(name)
	if norm == "" {
		return "", false
	}
	for k, v := range c.vals {
		if fields.Normalize(k) == norm {
			return v, true
		}
	}
	return c.row.Get(name)
}

// Render fills {name} and {name:.Nf} placeholders from ctx. Unknown names render as an
// empty string, "{{" and "}}" are literal braces and an unterminated brace is copied as is.
func Render(tmpl string, ctx Context) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				b.WriteString(tmpl[i:])
				return b.String()
			}
			b.WriteString(placeholder(tmpl[i+1:i+1+end], ctx))
			i += end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func placeholder(expr string, ctx Context) string {
	name, spec, _ := strings.Cut(expr, ":")
	v, ok := ctx.Lookup(strings.TrimSpace(name))
	if !ok {
		return ""
	}
	if prec, ok := precision(spec); ok {
		if f, ok := fields.SafeFloat(v); ok {
			return strconv.FormatFloat(f, 'f', prec, 64)
		}
	}
	return v
}

// precision parses a ".Nf" format spec.
func precision(spec string) (int, bool) {
	if len(spec) < 3 || spec[0] != '.' || spec[len(spec)-1] != 'f' {
		return 0, false
	}
	n, err := strconv.Atoi(spec[1 : len(spec)-1])
	if err != nil || n < 0 || n > 12 {
		return 0, false
	}
	return n, true
}
