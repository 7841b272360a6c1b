package triggers

import (
	"fmt"
	"strings"

	"github.com/rewired-gh/scanalert/internal/models"
)

// Trigger types of generic catalog entries.
const (
	TriggerPriceZone       = "price_zone"
	TriggerDirectionChange = "direction_change"
)

// FieldRule is the catch-all family for catalog entries that declare a trigger type
// instead of a dedicated family.
type FieldRule struct{}

func (FieldRule) Family() Family { return FamilyFieldRule }

func (f FieldRule) Evaluate(in *Input) []models.RawAlertEvent {
	if in.Rules == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(in.Rules.TriggerType)) {
	case TriggerPriceZone:
		return f.priceZone(in)
	case TriggerDirectionChange:
		return f.directionChange(in)
	default:
		return nil
	}
}

func (FieldRule) priceZone(in *Input) []models.RawAlertEvent {
	if !in.HasPrice {
		return nil
	}
	var events []models.RawAlertEvent
	for _, field := range in.Rules.Fields {
		raw, _ := in.Row.Get(field)
		level, ok := in.Row.Number(field)
		if !ok {
			continue
		}
		flag := flagName("zone", field)
		prefix := keyPrefix(in.Symbol, flag)
		if !crossing(in.State, flag, prefix, in.Price >= level) {
			continue
		}
		ctx := in.Context.With("field", field, "level", raw)
		msg := Render(in.template(field, "{field} triggered for {symbol}"), ctx)
		events = append(events, in.event(models.TypeZone, prefix+formatNumber(level), msg))
	}
	return events
}

// directionChange fires on any change of the direction value, flat included. A symbol
// without a stored direction has nothing to change from.
func (FieldRule) directionChange(in *Input) []models.RawAlertEvent {
	st := in.State
	cur := CanonicalDirection(in.Row.Value(DirectionCandidates...))
	prev := st.LastDirection
	if prev == "" {
		prev = CanonicalDirection(in.Prev.Value(DirectionCandidates...))
	}
	if cur == "" || prev == "" || cur == prev {
		return nil
	}
	st.OpenPosition()

	field := "Direction"
	if len(in.Rules.Fields) > 0 {
		field = in.Rules.Fields[0]
	}
	ctx := in.Context.With("field", field, "old_value", prev)
	msg := Render(in.template(field, "{symbol} direction changed from {old_value} to {direction}"), ctx)
	ev := in.event(models.TypeDirection, fmt.Sprintf("%s_dirchange_%s_%d", in.Symbol, cur, st.PositionID), msg)
	ev.Direction = cur
	return []models.RawAlertEvent{ev}
}
