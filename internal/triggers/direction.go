package triggers

import "strings"

// DirectionCandidates are the accepted spellings of the direction column.
var DirectionCandidates = []string{"direction", "dir", "trend dir", "position"}

// Side is the stance a direction value represents.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// Real reports whether the side is an open position.
func (s Side) Real() bool { return s != SideFlat }

// CanonicalDirection trims and upper-cases a direction value.
func CanonicalDirection(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// ParseSide classifies a direction value. Anything that is not recognisably long or short
// counts as flat.
func ParseSide(v string) Side {
	switch CanonicalDirection(v) {
	case "LONG", "BUY", "BULLISH", "BULL":
		return SideLong
	case "SHORT", "SELL", "BEARISH", "BEAR":
		return SideShort
	default:
		return SideFlat
	}
}
