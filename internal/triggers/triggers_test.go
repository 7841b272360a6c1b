package triggers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/scanalert/internal/fields"
	"github.com/rewired-gh/scanalert/internal/models"
	"github.com/rewired-gh/scanalert/internal/rules"
)

var testNow = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

// run evaluates one row and then advances the state the way the engine does after a pass.
func run(t *testing.T, e Evaluator, st *models.SymbolState, a *rules.Algorithm, row fields.Row, price *float64) []models.RawAlertEvent {
	t.Helper()
	in := &Input{
		Symbol: st.Symbol,
		Row:    row,
		Prev:   st.PreviousRow,
		State:  st,
		Rules:  a,
		Now:    testNow,
	}
	value := ""
	if price != nil {
		in.Price, in.HasPrice = *price, true
		value = formatNumber(*price)
	}
	in.Context = NewContext(st.Symbol, row, value)

	events := e.Evaluate(in)
	st.PreviousRow = row.Clone()
	st.LastDirection = CanonicalDirection(row.Value(DirectionCandidates...))
	return events
}

func price(v float64) *float64 { return &v }

func TestThreshold_CrossingRearm(t *testing.T) {
	a := &rules.Algorithm{Alerts: []rules.Definition{{Field: "Call Level", TriggerAbove: boolPtr(true)}}}
	st := models.NewSymbolState(1, "SPY")

	var fired []int
	for i, p := range []float64{99, 101, 99, 101} {
		row := fields.NewRow("Symbol", "SPY", "Call Level", "100", "Entry Price", formatNumber(p))
		if len(run(t, Threshold{}, st, a, row, price(p))) > 0 {
			fired = append(fired, i)
		}
	}
	assert.Equal(t, []int{1, 3}, fired)
}

func TestThreshold_TriggerBelow(t *testing.T) {
	a := &rules.Algorithm{Alerts: []rules.Definition{{
		Field:        "Put Level",
		Message:      "{symbol} fell below {put_level} ({value})",
		TriggerAbove: boolPtr(false),
	}}}
	st := models.NewSymbolState(1, "SPY")

	events := run(t, Threshold{}, st, a, fields.NewRow("Symbol", "SPY", "Put Level", "90"), price(89.5))
	require.Len(t, events, 1)
	assert.Equal(t, "SPY fell below 90 (89.5)", events[0].Message)
	assert.Equal(t, models.TypeLevel, events[0].Type)
	assert.Equal(t, models.OriginSystem, events[0].Origin)
	assert.Equal(t, "SPY_level_put_level|90", events[0].Key)

	assert.Empty(t, run(t, Threshold{}, st, a, fields.NewRow("Symbol", "SPY", "Put Level", "90"), price(88)))
}

func TestThreshold_RearmKeepsSimilarlyNamedLevels(t *testing.T) {
	a := &rules.Algorithm{Alerts: []rules.Definition{{Field: "Call Level"}, {Field: "Call Level 2"}}}
	st := models.NewSymbolState(1, "SPY")
	row := fields.NewRow("Symbol", "SPY", "Call Level", "100", "Call Level 2", "90")

	events := run(t, Threshold{}, st, a, row, price(101))
	require.Len(t, events, 2)
	for _, ev := range events {
		st.RecordFired(ev.Key, testNow)
	}

	// Retreating below Call Level only re-arms that level.
	assert.Empty(t, run(t, Threshold{}, st, a, row, price(95)))
	assert.False(t, st.Fired("SPY_level_call_level|100"))
	assert.True(t, st.Fired("SPY_level_call_level_2|90"))
	assert.True(t, st.Flag("level_call_level_2"))
}

func TestThreshold_MissingLevelOrPrice(t *testing.T) {
	a := &rules.Algorithm{Alerts: []rules.Definition{{Field: "Call Level"}}}
	st := models.NewSymbolState(1, "SPY")

	assert.Empty(t, run(t, Threshold{}, st, a, fields.NewRow("Symbol", "SPY", "Call Level", "n/a"), price(150)))
	assert.Empty(t, run(t, Threshold{}, st, a, fields.NewRow("Symbol", "SPY", "Call Level", "100"), nil))
	assert.Empty(t, run(t, Threshold{}, st, nil, fields.NewRow("Symbol", "SPY", "Call Level", "100"), price(150)))
}

func fibRow(trend string) fields.Row {
	return fields.NewRow(
		"Symbol", "ES",
		"Fib Pivot Trend", trend,
		"Bull Fib Trigger Level", "100",
		"Bull Zone 1", "105",
		"Bear Fib Trigger Level", "90",
		"Bear Zone 1", "85",
	)
}

func TestTrendZone_SideIsolation(t *testing.T) {
	st := models.NewSymbolState(1, "ES")

	events := run(t, TrendZone{}, st, nil, fibRow("Bullish"), price(101))
	require.Len(t, events, 1)
	assert.Equal(t, "ES_bull_trigger|100", events[0].Key)
	assert.Equal(t, models.TypeZone, events[0].Type)

	// Switching trend evaluates only the bear side; price is above every bear level.
	assert.Empty(t, run(t, TrendZone{}, st, nil, fibRow("Bearish"), price(101)))
	assert.True(t, st.Flag("bull_trigger"))

	// Back to bullish: the bull trigger is still flagged, so nothing fires again.
	assert.Empty(t, run(t, TrendZone{}, st, nil, fibRow("Bullish"), price(101)))

	events = run(t, TrendZone{}, st, nil, fibRow("Bullish"), price(106))
	require.Len(t, events, 1)
	assert.Equal(t, "ES_bull_zone1|105", events[0].Key)
}

func TestTrendZone_BearSide(t *testing.T) {
	st := models.NewSymbolState(1, "ES")

	events := run(t, TrendZone{}, st, nil, fibRow("Bearish"), price(84))
	require.Len(t, events, 2)
	assert.Equal(t, "ES_bear_trigger|90", events[0].Key)
	assert.Equal(t, "ES_bear_zone1|85", events[1].Key)

	assert.Empty(t, run(t, TrendZone{}, st, nil, fibRow("Neutral"), price(70)))
}

func TestPosition_Lifecycle(t *testing.T) {
	st := models.NewSymbolState(1, "XYZ")

	events := run(t, Position{}, st, nil, fields.NewRow("Symbol", "XYZ", "Direction", "LONG", "Target #1", "55"), price(60))
	assert.Empty(t, events, "first observation is a baseline")
	assert.Equal(t, 1, st.PositionID)
	assert.True(t, st.TargetHits[1], "target already reached at baseline is marked")

	events = run(t, Position{}, st, nil, fields.NewRow("Symbol", "XYZ", "Direction", "FLAT"), nil)
	require.Len(t, events, 1)
	assert.Equal(t, "XYZ_closed_1", events[0].Key)
	assert.Equal(t, "FLAT", events[0].Direction)

	assert.Empty(t, run(t, Position{}, st, nil, fields.NewRow("Symbol", "XYZ", "Direction", "FLAT"), nil))

	events = run(t, Position{}, st, nil, fields.NewRow("Symbol", "XYZ", "Direction", "SHORT", "Entry Price", "58"), nil)
	require.Len(t, events, 1)
	assert.Equal(t, "XYZ_direction_SHORT_2", events[0].Key)
	assert.Equal(t, "📌 New SHORT position opened for XYZ at 58", events[0].Message)

	events = run(t, Position{}, st, nil, fields.NewRow("Symbol", "XYZ", "Direction", "LONG", "Entry Price", "59"), nil)
	require.Len(t, events, 1)
	assert.Equal(t, "XYZ_reversal_SHORT_LONG_3", events[0].Key)
	assert.Equal(t, "LONG", events[0].Direction)
}

func TestPosition_NewPositionResetsTargets(t *testing.T) {
	st := models.NewSymbolState(1, "XYZ")
	st.PreviousRow = fields.NewRow("Symbol", "XYZ", "Direction", "LONG")
	st.LastDirection = "LONG"
	st.PositionID = 1
	st.TargetHits[1] = true

	events := run(t, Position{}, st, nil, fields.NewRow("Symbol", "XYZ", "Direction", "SHORT"), nil)
	require.Len(t, events, 1)
	assert.False(t, st.TargetHits[1])
	assert.Equal(t, 2, st.PositionID)
}

func TestPosition_NumericTargetOneShot(t *testing.T) {
	st := models.NewSymbolState(1, "XYZ")
	row := fields.NewRow("Symbol", "XYZ", "Direction", "LONG", "Target #1", "105.50")
	st.PreviousRow = row.Clone()
	st.LastDirection = "LONG"
	st.PositionID = 4

	events := run(t, Position{}, st, nil, row, price(106))
	require.Len(t, events, 1)
	assert.Equal(t, "XYZ_target1_4", events[0].Key)
	assert.Equal(t, 1, events[0].Target)
	assert.Equal(t, "🎯 Target #1 hit for XYZ at 105.50", events[0].Message)

	assert.Empty(t, run(t, Position{}, st, nil, row, price(104)), "retrace does not re-arm")
	assert.Empty(t, run(t, Position{}, st, nil, row, price(107)))
	assert.True(t, st.TargetHits[1])
}

func TestPosition_TargetDatetimeTransition(t *testing.T) {
	st := models.NewSymbolState(1, "XYZ")
	st.PreviousRow = fields.NewRow("Symbol", "XYZ", "Direction", "SHORT", "Target #2", "40")
	st.LastDirection = "SHORT"
	st.PositionID = 1

	row := fields.NewRow("Symbol", "XYZ", "Direction", "SHORT", "Target #2", "40", "Target #2 DateTime", "2024-01-02 10:00")
	events := run(t, Position{}, st, nil, row, nil)
	require.Len(t, events, 1)
	assert.Equal(t, "XYZ_target2_1", events[0].Key)

	assert.Empty(t, run(t, Position{}, st, nil, row, nil))
}

func TestFieldRule_PriceZone(t *testing.T) {
	a := &rules.Algorithm{TriggerType: TriggerPriceZone, Fields: []string{"Zone High"}}
	st := models.NewSymbolState(1, "NQ")

	var fired []int
	for i, p := range []float64{99, 101, 102, 98, 101} {
		row := fields.NewRow("Symbol", "NQ", "Zone High", "100")
		if len(run(t, FieldRule{}, st, a, row, price(p))) > 0 {
			fired = append(fired, i)
		}
	}
	assert.Equal(t, []int{1, 4}, fired)
}

func TestFieldRule_DirectionChange(t *testing.T) {
	a := &rules.Algorithm{
		TriggerType: TriggerDirectionChange,
		Alerts:      []rules.Definition{{Field: "Direction", Message: "{symbol}: {old_value} → {direction}"}},
	}
	st := models.NewSymbolState(1, "NQ")

	assert.Empty(t, run(t, FieldRule{}, st, a, fields.NewRow("Symbol", "NQ", "Direction", "LONG"), nil))

	events := run(t, FieldRule{}, st, a, fields.NewRow("Symbol", "NQ", "Direction", "FLAT"), nil)
	require.Len(t, events, 1)
	assert.Equal(t, "NQ: LONG → FLAT", events[0].Message)
	assert.Equal(t, "FLAT", events[0].Direction)

	assert.Empty(t, run(t, FieldRule{}, st, a, fields.NewRow("Symbol", "NQ", "Direction", "flat"), nil))
}

func TestFieldRule_UnknownTriggerType(t *testing.T) {
	a := &rules.Algorithm{TriggerType: "volume_spike", Fields: []string{"Volume"}}
	st := models.NewSymbolState(1, "NQ")
	assert.Empty(t, run(t, FieldRule{}, st, a, fields.NewRow("Symbol", "NQ", "Volume", "1000"), price(1)))
}

func TestUserRules(t *testing.T) {
	rs := []models.UserRule{
		{ID: "rsi", Field: "RSI", FieldType: "numeric", Condition: models.ConditionThresholdCross, CompareValue: "70", Active: true},
		{ID: "sig", Scope: models.OriginCustom, Owner: "alice", Field: "Signal", FieldType: "text",
			Condition: models.ConditionEquals, CompareValue: "buy", Message: "{symbol} signal {value}", Active: true},
		{ID: "off", Field: "RSI", Condition: models.ConditionChange, Active: false},
	}
	st := models.NewSymbolState(1, "AAPL")

	step := func(rsi, signal string) []models.RawAlertEvent {
		row := fields.NewRow("Symbol", "AAPL", "RSI", rsi, "Signal", signal)
		in := &Input{Symbol: "AAPL", Row: row, Prev: st.PreviousRow, State: st, Now: testNow,
			Context: NewContext("AAPL", row, "")}
		st.PreviousRow = row
		return UserRules(in, rs)
	}

	assert.Empty(t, step("65", "hold"))

	events := step("72", "BUY")
	require.Len(t, events, 2)
	assert.Equal(t, models.OriginGlobal, events[0].Origin)
	assert.Equal(t, "AAPL_rule_rsi|72", events[0].Key)
	assert.Equal(t, "RSI threshold_cross for AAPL: 65 → 72", events[0].Message)
	assert.Equal(t, models.OriginCustom, events[1].Origin)
	assert.Equal(t, "alice", events[1].Owner)
	assert.Equal(t, "AAPL signal BUY", events[1].Message)

	assert.Empty(t, step("75", "buy"))
	assert.Empty(t, step("60", "hold"))
	require.Len(t, step("71", "hold"), 1)
	assert.NotContains(t, st.RuleValues, "off")
}

func TestUserRules_ThresholdCrossRefires(t *testing.T) {
	rs := []models.UserRule{{ID: "rsi", Field: "RSI", Condition: models.ConditionThresholdCross, CompareValue: "100", Active: true}}
	st := models.NewSymbolState(1, "AAPL")

	var fired []int
	for i, v := range []string{"90", "110", "90", "110"} {
		row := fields.NewRow("Symbol", "AAPL", "RSI", v)
		in := &Input{Symbol: "AAPL", Row: row, Prev: st.PreviousRow, State: st, Now: testNow,
			Context: NewContext("AAPL", row, "")}
		st.PreviousRow = row
		for _, ev := range UserRules(in, rs) {
			if st.Fired(ev.Key) {
				continue
			}
			st.RecordFired(ev.Key, testNow)
			fired = append(fired, i)
		}
	}
	assert.Equal(t, []int{1, 3}, fired)
}

func TestUserRules_RepeatedTransitionsRefire(t *testing.T) {
	rs := []models.UserRule{
		{ID: "sig", Field: "Signal", FieldType: "text", Condition: models.ConditionEquals, CompareValue: "buy", Message: "sig", Active: true},
		{ID: "state", Field: "State", FieldType: "text", Condition: models.ConditionChange, Message: "state", Active: true},
	}
	st := models.NewSymbolState(1, "AAPL")

	counts := map[string]int{}
	for _, v := range []string{"hold", "buy", "hold", "buy"} {
		row := fields.NewRow("Symbol", "AAPL", "Signal", v, "State", v)
		in := &Input{Symbol: "AAPL", Row: row, Prev: st.PreviousRow, State: st, Now: testNow,
			Context: NewContext("AAPL", row, "")}
		st.PreviousRow = row
		for _, ev := range UserRules(in, rs) {
			if st.Fired(ev.Key) {
				continue
			}
			st.RecordFired(ev.Key, testNow)
			counts[ev.Message]++
		}
	}
	assert.Equal(t, 2, counts["sig"])
	assert.Equal(t, 3, counts["state"])
}

func TestShouldTrigger(t *testing.T) {
	tests := []struct {
		name    string
		rule    models.UserRule
		raw     string
		prev    string
		hadPrev bool
		want    bool
	}{
		{"change needs previous", models.UserRule{Condition: models.ConditionChange}, "1", "", false, false},
		{"numeric change ignores formatting", models.UserRule{Condition: models.ConditionChange}, "1,000", "1000", true, false},
		{"text change", models.UserRule{Condition: models.ConditionChange, FieldType: "text"}, "B", "A", true, true},
		{"increase", models.UserRule{Condition: models.ConditionIncrease}, "11", "10", true, true},
		{"increase unparseable", models.UserRule{Condition: models.ConditionIncrease}, "x", "10", true, false},
		{"decrease", models.UserRule{Condition: models.ConditionDecrease}, "9", "10", true, true},
		{"equals numeric", models.UserRule{Condition: models.ConditionEquals, CompareValue: "5"}, "5.0", "4", true, true},
		{"equals already equal", models.UserRule{Condition: models.ConditionEquals, CompareValue: "5"}, "5", "5", true, false},
		{"threshold first value above", models.UserRule{Condition: models.ConditionThresholdCross, CompareValue: "70"}, "71", "", false, true},
		{"unknown condition", models.UserRule{Condition: "sometimes"}, "1", "2", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTrigger(tt.rule, tt.raw, tt.prev, tt.hadPrev))
		})
	}
}

func TestRender(t *testing.T) {
	row := fields.NewRow("Symbol", "AAPL", "Direction", "long", "Entry Price", "101.5", "RSI", "71.234")
	ctx := NewContext("AAPL", row, "105.5")

	tests := []struct {
		tmpl string
		want string
	}{
		{"{symbol} at {value:.2f}", "AAPL at 105.50"},
		{"{direction} from {Entry Price}", "LONG from 101.5"},
		{"rsi {RSI:.1f}", "rsi 71.2"},
		{"missing [{nope}]", "missing []"},
		{"{{literal}}", "{literal}"},
		{"unterminated {symbol", "unterminated {symbol"},
		{"{symbol:.2f}", "AAPL"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, ctx))
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name      string
		algorithm string
		rules     *rules.Algorithm
		want      Family
		ok        bool
	}{
		{"builtin threshold", "FSOptions", nil, FamilyThreshold, true},
		{"builtin with spaces", "TT Scanner", nil, FamilyPosition, true},
		{"builtin trendzone", "MENTFib", &rules.Algorithm{}, FamilyTrendZone, true},
		{"catalog family wins", "MENTFib", &rules.Algorithm{Family: "position"}, FamilyPosition, true},
		{"trigger type", "Zones", &rules.Algorithm{TriggerType: "price_zone"}, FamilyFieldRule, true},
		{"unknown", "Mystery", nil, "", false},
		{"unknown family", "Mystery", &rules.Algorithm{Family: "astrology"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := r.Resolve(tt.algorithm, tt.rules)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, e.Family())
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideLong, ParseSide(" buy "))
	assert.Equal(t, SideShort, ParseSide("Bearish"))
	assert.Equal(t, SideFlat, ParseSide("FLAT"))
	assert.Equal(t, SideFlat, ParseSide(""))
	assert.False(t, SideFlat.Real())
}
