package triggers

import (
	"fmt"

	"github.com/rewired-gh/scanalert/internal/models"
)

// TrendFieldCandidates are the accepted spellings of the pivot trend column.
var TrendFieldCandidates = []string{"fib pivot trend", "pivot trend", "trend"}

const zoneCount = 3

type trendSide struct {
	name    string
	label   string
	above   bool
	trigger string
}

var (
	bullSide = trendSide{name: "bull", label: "Bull", above: true, trigger: "Bull Fib Trigger Level"}
	bearSide = trendSide{name: "bear", label: "Bear", above: false, trigger: "Bear Fib Trigger Level"}
)

// TrendZone reports crossings of the fibonacci trigger level and zones on the side that
// matches the current pivot trend. The opposite side's flags are left alone.
type TrendZone struct{}

func (TrendZone) Family() Family { return FamilyTrendZone }

func (TrendZone) Evaluate(in *Input) []models.RawAlertEvent {
	if !in.HasPrice {
		return nil
	}
	var side trendSide
	switch ParseSide(in.Row.Value(TrendFieldCandidates...)) {
	case SideLong:
		side = bullSide
	case SideShort:
		side = bearSide
	default:
		return nil
	}

	word := "above"
	if !side.above {
		word = "below"
	}

	var events []models.RawAlertEvent
	check := func(field, flag, fallback string) {
		raw, _ := in.Row.Get(field)
		level, ok := in.Row.Number(field)
		prefix := keyPrefix(in.Symbol, flag)
		if !crossing(in.State, flag, prefix, ok && crossed(in.Price, level, side.above)) {
			return
		}
		ctx := in.Context.With("level", raw, "zone", raw, "field", field, "trend", side.label)
		msg := Render(in.template(field, fallback), ctx)
		events = append(events, in.event(models.TypeZone, prefix+formatNumber(level), msg))
	}

	check(side.trigger, side.name+"_trigger",
		"{symbol}: "+side.trigger+" crossed "+word+" {level}")
	for i := 1; i <= zoneCount; i++ {
		field := fmt.Sprintf("%s Zone %d", side.label, i)
		check(field, fmt.Sprintf("%s_zone%d", side.name, i), "{symbol}: "+field+" crossed {level}")
	}
	return events
}
