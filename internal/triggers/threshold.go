package triggers

import (
	"github.com/rewired-gh/scanalert/internal/models"
)

// Threshold reports the price crossing each configured level column (options call/put
// levels). A level fires once per crossing and re-arms when price retreats.
type Threshold struct{}

func (Threshold) Family() Family { return FamilyThreshold }

func (Threshold) Evaluate(in *Input) []models.RawAlertEvent {
	if in.Rules == nil || !in.HasPrice {
		return nil
	}
	var events []models.RawAlertEvent
	for _, def := range in.Rules.Alerts {
		raw, _ := in.Row.Get(def.Field)
		level, ok := in.Row.Number(def.Field)
		if !ok {
			continue
		}
		flag := flagName("level", def.Field)
		prefix := keyPrefix(in.Symbol, flag)
		if !crossing(in.State, flag, prefix, crossed(in.Price, level, def.Above())) {
			continue
		}
		word := "above"
		if !def.Above() {
			word = "below"
		}
		ctx := in.Context.With("level", raw, "field", def.Field)
		msg := Render(in.template(def.Field, "{symbol}: price {value} crossed "+word+" {field} {level}"), ctx)
		events = append(events, in.event(models.TypeLevel, prefix+formatNumber(level), msg))
	}
	return events
}
