package monitor

import (
	"testing"
	"time"

	"github.com/rewired-gh/scanalert/internal/models"
)

func TestPruneFired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := models.NewSymbolState(1, "X")
	st.RecordFired("old", now.Add(-25*time.Hour))
	st.RecordFired("fresh", now.Add(-time.Hour))

	if n := PruneFired(st, now, 0); n != 1 {
		t.Errorf("pruned %d keys, want 1", n)
	}
	if st.Fired("old") || !st.Fired("fresh") {
		t.Errorf("unexpected fired keys: %v", st.FiredKeys)
	}

	if n := PruneFired(st, now, 30*time.Minute); n != 1 {
		t.Errorf("pruned %d keys with short retention, want 1", n)
	}
}

func TestFilterFired(t *testing.T) {
	now := time.Now()
	st := models.NewSymbolState(1, "X")
	st.RecordFired("seen", now.Add(-time.Minute))

	events := []models.RawAlertEvent{
		{Key: "seen"},
		{Key: "new"},
		{Key: "new"},
		{Key: ""},
	}
	kept, dropped := FilterFired(st, events, now)
	if len(kept) != 2 || dropped != 2 {
		t.Fatalf("kept %d dropped %d, want 2 and 2", len(kept), dropped)
	}
	if kept[0].Key != "new" {
		t.Errorf("kept[0].Key = %q", kept[0].Key)
	}
	if !st.FiredKeys["new"].Equal(now) {
		t.Errorf("new key recorded at %v, want %v", st.FiredKeys["new"], now)
	}
}
