package triggers

import (
	"strings"

	"github.com/rewired-gh/scanalert/internal/fields"
	"github.com/rewired-gh/scanalert/internal/models"
)

const defaultRuleMessage = "{field} {condition} for {symbol}: {old_value} → {value}"

// UserRules evaluates operator-defined global and custom rules against a row. The last seen
// value of every rule is kept in the state so the next row can compare against it.
func UserRules(in *Input, rs []models.UserRule) []models.RawAlertEvent {
	var events []models.RawAlertEvent
	for _, r := range rs {
		if !r.Active {
			continue
		}
		raw, ok := in.Row.Get(r.Field)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		prev, hadPrev := in.State.RuleValues[r.ID]
		in.State.RuleValues[r.ID] = raw

		flag := flagName("rule", r.ID)
		prefix := keyPrefix(in.Symbol, flag)
		if !Holds(r, raw) {
			in.State.Rearm(flag, prefix)
		}
		if raw == "" || !ShouldTrigger(r, raw, prev, hadPrev) {
			continue
		}
		in.State.SetFlag(flag, true)

		origin := r.Scope
		if origin == "" {
			origin = models.OriginGlobal
		}
		tmpl := r.Message
		if strings.TrimSpace(tmpl) == "" {
			tmpl = defaultRuleMessage
		}
		ctx := in.Context.With(
			"field", r.Field,
			"value", raw,
			"old_value", prev,
			"condition", r.Condition,
			"compare_value", r.CompareValue,
		)
		ev := in.event(models.TypeField, prefix+raw, Render(tmpl, ctx))
		ev.Origin = origin
		ev.Owner = r.Owner
		events = append(events, ev)
	}
	return events
}

// Holds reports whether a level condition (equals, threshold_cross) is currently true.
// Transition conditions never hold between rows, so their fired keys are forgotten on every
// pass and a repeated transition fires again.
func Holds(r models.UserRule, raw string) bool {
	switch r.Condition {
	case models.ConditionEquals:
		return equalsCompare(r, raw)
	case models.ConditionThresholdCross:
		cur, curOK := fields.SafeFloat(raw)
		cmp, cmpOK := fields.SafeFloat(r.CompareValue)
		return curOK && cmpOK && cur > cmp
	default:
		return false
	}
}

func equalsCompare(r models.UserRule, v string) bool {
	n, nOK := fields.SafeFloat(v)
	cmp, cmpOK := fields.SafeFloat(r.CompareValue)
	if r.FieldType != "text" && nOK && cmpOK {
		return n == cmp
	}
	return strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(r.CompareValue))
}

// ShouldTrigger decides whether a rule's condition became true for the current value,
// given the previously seen value.
func ShouldTrigger(r models.UserRule, raw, prev string, hadPrev bool) bool {
	numeric := r.FieldType != "text"
	cur, curOK := fields.SafeFloat(raw)
	old, oldOK := fields.SafeFloat(prev)

	switch r.Condition {
	case models.ConditionEquals:
		return equalsCompare(r, raw) && !(hadPrev && equalsCompare(r, prev))
	case models.ConditionThresholdCross:
		return Holds(r, raw) && !(hadPrev && Holds(r, prev))
	case models.ConditionIncrease:
		return hadPrev && curOK && oldOK && cur > old
	case models.ConditionDecrease:
		return hadPrev && curOK && oldOK && cur < old
	case models.ConditionChange:
		if !hadPrev {
			return false
		}
		if numeric && curOK && oldOK {
			return cur != old
		}
		return raw != prev
	default:
		return false
	}
}
