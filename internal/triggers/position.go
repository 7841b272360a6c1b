package triggers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rewired-gh/scanalert/internal/models"
)

// maxTargets is the highest "Target #N" column inspected.
const maxTargets = 3

const (
	defaultOpenMessage     = "📌 New {direction} position opened for {symbol} at {entry_price}"
	defaultClosedMessage   = "🏁 {symbol} position closed ({old_value} → {direction})"
	defaultReversalMessage = "🔄 {symbol} reversed from {old_value} to {direction} at {entry_price}"
	defaultTargetMessage   = "🎯 Target #{target_number} hit for {symbol} at {target}"
)

func targetCandidates(n int) []string {
	return []string{fmt.Sprintf("target #%d", n), fmt.Sprintf("target%d", n), fmt.Sprintf("target %d", n)}
}

func targetTimeCandidates(n int) []string {
	return []string{
		fmt.Sprintf("target #%d datetime", n),
		fmt.Sprintf("target #%d date time", n),
		fmt.Sprintf("target #%d time", n),
		fmt.Sprintf("target%d datetime", n),
	}
}

// Position follows a trading position through its lifecycle: opening, reversal, closing
// and target hits. Target hits are one-shot per position; only a new position clears them.
type Position struct{}

func (Position) Family() Family { return FamilyPosition }

func (p Position) Evaluate(in *Input) []models.RawAlertEvent {
	st := in.State
	curRaw, hasDir := in.Row.Get(DirectionCandidates...)
	cur := CanonicalDirection(curRaw)
	curSide := ParseSide(cur)

	if st.FirstObservation() {
		p.baseline(in, hasDir, curSide)
		return nil
	}

	prev := st.LastDirection
	if prev == "" {
		prev = CanonicalDirection(in.Prev.Value(DirectionCandidates...))
	}
	prevSide := ParseSide(prev)

	var events []models.RawAlertEvent
	if hasDir && cur != prev {
		ctx := in.Context.With("old_value", prev)
		switch {
		case curSide.Real() && !prevSide.Real():
			st.OpenPosition()
			ev := in.event(models.TypeDirection,
				fmt.Sprintf("%s_direction_%s_%d", in.Symbol, cur, st.PositionID),
				Render(in.template("Direction", defaultOpenMessage), ctx))
			ev.Direction = cur
			events = append(events, ev)
		case curSide.Real() && prevSide.Real() && curSide != prevSide:
			st.OpenPosition()
			ev := in.event(models.TypeDirection,
				fmt.Sprintf("%s_reversal_%s_%s_%d", in.Symbol, prev, cur, st.PositionID),
				Render(in.template("Reversal", defaultReversalMessage), ctx))
			ev.Direction = cur
			events = append(events, ev)
		case !curSide.Real() && prevSide.Real():
			ev := in.event(models.TypeDirection,
				fmt.Sprintf("%s_closed_%d", in.Symbol, st.PositionID),
				Render(in.template("Closed", defaultClosedMessage), ctx))
			ev.Direction = cur
			if ev.Direction == "" {
				ev.Direction = "FLAT"
			}
			events = append(events, ev)
		}
	}

	side := prevSide
	if hasDir {
		side = curSide
	}
	if !side.Real() {
		return events
	}
	for n := 1; n <= maxTargets; n++ {
		if ev, ok := p.target(in, side, n); ok {
			events = append(events, ev)
		}
	}
	return events
}

// baseline seeds a first observation: an open position gets a position number and targets
// already reached are marked so they do not fire late.
func (Position) baseline(in *Input, hasDir bool, side Side) {
	if !hasDir || !side.Real() {
		return
	}
	in.State.OpenPosition()
	for n := 1; n <= maxTargets; n++ {
		target, ok := in.Row.Number(targetCandidates(n)...)
		if !ok {
			continue
		}
		if in.Row.Has(targetTimeCandidates(n)...) || (in.HasPrice && reached(side, in.Price, target)) {
			in.State.TargetHits[n] = true
		}
	}
}

// target checks target n. A hit is either the target's datetime column filling in, or the
// current price reaching the target price.
func (Position) target(in *Input, side Side, n int) (models.RawAlertEvent, bool) {
	st := in.State
	if st.TargetHits[n] {
		return models.RawAlertEvent{}, false
	}
	raw, _ := in.Row.Get(targetCandidates(n)...)
	target, ok := in.Row.Number(targetCandidates(n)...)
	if !ok {
		return models.RawAlertEvent{}, false
	}

	hit := in.Row.Has(targetTimeCandidates(n)...) && !in.Prev.Has(targetTimeCandidates(n)...)
	if !hit && in.HasPrice {
		hit = reached(side, in.Price, target)
	}
	if !hit {
		return models.RawAlertEvent{}, false
	}

	st.TargetHits[n] = true
	label := "Target #" + strconv.Itoa(n)
	ctx := in.Context.With("target", strings.TrimSpace(raw), "target_number", strconv.Itoa(n), "field", label)
	ev := in.event(models.TypeTarget, targetKey(in.Symbol, n, st.PositionID),
		Render(in.template(label, defaultTargetMessage), ctx))
	ev.Target = n
	return ev, true
}

func reached(side Side, price, target float64) bool {
	if side == SideShort {
		return price <= target
	}
	return price >= target
}
