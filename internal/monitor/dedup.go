package monitor

import (
	"time"

	"github.com/rewired-gh/scanalert/internal/models"
)

// DefaultRetention is how long a fired key is remembered.
const DefaultRetention = 24 * time.Hour

// PruneFired forgets fired keys older than retention and returns how many were removed.
func PruneFired(st *models.SymbolState, now time.Time, retention time.Duration) int {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)
	var n int
	for k, at := range st.FiredKeys {
		if at.Before(cutoff) {
			delete(st.FiredKeys, k)
			n++
		}
	}
	return n
}

// FilterFired drops events whose key already fired and records the keys of the rest.
// Duplicate keys within one pass are collapsed to the first occurrence.
func FilterFired(st *models.SymbolState, events []models.RawAlertEvent, now time.Time) (kept []models.RawAlertEvent, dropped int) {
	for _, ev := range events {
		if ev.Key != "" && st.Fired(ev.Key) {
			dropped++
			continue
		}
		if ev.Key != "" {
			st.RecordFired(ev.Key, now)
		}
		kept = append(kept, ev)
	}
	return kept, dropped
}
