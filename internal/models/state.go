package models

import (
	"strings"
	"time"

	"github.com/rewired-gh/scanalert/internal/fields"
)

// SymbolState is the engine's memory for one (data source, symbol) pair.
type SymbolState struct {
	SourceID int64
	Symbol   string

	PreviousRow fields.Row
	FiredKeys   map[string]time.Time
	Flags       map[string]bool
	TargetHits  map[int]bool
	RuleValues  map[string]string

	// PositionID increments whenever a new position opens; per-position alert keys embed it.
	PositionID int

	LastPrice     *float64
	LastDirection string

	UpdatedAt time.Time
}

// NewSymbolState returns an empty state with initialized maps.
func NewSymbolState(sourceID int64, symbol string) *SymbolState {
	s := &SymbolState{SourceID: sourceID, Symbol: symbol}
	s.ensure()
	return s
}

func (s *SymbolState) ensure() {
	if s.FiredKeys == nil {
		s.FiredKeys = make(map[string]time.Time)
	}
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	if s.TargetHits == nil {
		s.TargetHits = make(map[int]bool)
	}
	if s.RuleValues == nil {
		s.RuleValues = make(map[string]string)
	}
}

// Clone returns a deep copy so evaluators can work on it without touching the stored state.
func (s *SymbolState) Clone() *SymbolState {
	out := &SymbolState{
		SourceID:      s.SourceID,
		Symbol:        s.Symbol,
		PreviousRow:   s.PreviousRow.Clone(),
		FiredKeys:     make(map[string]time.Time, len(s.FiredKeys)),
		Flags:         make(map[string]bool, len(s.Flags)),
		TargetHits:    make(map[int]bool, len(s.TargetHits)),
		RuleValues:    make(map[string]string, len(s.RuleValues)),
		PositionID:    s.PositionID,
		LastDirection: s.LastDirection,
		UpdatedAt:     s.UpdatedAt,
	}
	for k, v := range s.FiredKeys {
		out.FiredKeys[k] = v
	}
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	for k, v := range s.TargetHits {
		out.TargetHits[k] = v
	}
	for k, v := range s.RuleValues {
		out.RuleValues[k] = v
	}
	if s.LastPrice != nil {
		p := *s.LastPrice
		out.LastPrice = &p
	}
	return out
}

// FirstObservation reports whether the state has never seen a row.
func (s *SymbolState) FirstObservation() bool {
	return s.PreviousRow.Empty()
}

// Flag returns a named boolean flag.
func (s *SymbolState) Flag(name string) bool {
	return s.Flags[name]
}

// SetFlag sets a named boolean flag.
func (s *SymbolState) SetFlag(name string, v bool) {
	s.ensure()
	if !v {
		delete(s.Flags, name)
		return
	}
	s.Flags[name] = true
}

// Rearm clears a crossing flag and forgets the alert keys recorded under it, so the next
// crossing fires again.
func (s *SymbolState) Rearm(flag, keyPrefix string) {
	s.SetFlag(flag, false)
	for k := range s.FiredKeys {
		if strings.HasPrefix(k, keyPrefix) {
			delete(s.FiredKeys, k)
		}
	}
}

// OpenPosition starts a new position: the position counter advances and every
// per-position flag is reset.
func (s *SymbolState) OpenPosition() {
	s.ensure()
	s.PositionID++
	for k := range s.TargetHits {
		delete(s.TargetHits, k)
	}
}

// Fired reports whether key has already been emitted.
func (s *SymbolState) Fired(key string) bool {
	_, ok := s.FiredKeys[key]
	return ok
}

// RecordFired remembers key as emitted at t.
func (s *SymbolState) RecordFired(key string, t time.Time) {
	s.ensure()
	s.FiredKeys[key] = t
}
