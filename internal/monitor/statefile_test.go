package monitor

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	id := SeriesID{Node: "mq01", VHost: "/", Queue: "orders"}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	st := NewStore()
	st.Upsert(id, Sample{ID: id, Value: 42, Time: at})
	st.Open(id, KindThreshold, 42, at)

	if err := SaveState(path, st); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	// A restart with the state file keeps the
	// drift baseline and the open episode.
	restored := NewStore()
	if err := LoadState(path, restored); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	state, ok := restored.Get(id)
	if !ok {
		t.Fatal("Expected restored state for series")
	}

	if state.LastValue != 42 || !state.HasValue {
		t.Errorf("Expected last value 42, got %g", state.LastValue)
	}

	if !state.LastSampleTime.Equal(at) {
		t.Errorf("Expected sample time %s, got %s", at, state.LastSampleTime)
	}

	if !state.OpenEpisode(KindThreshold) {
		t.Error("Expected threshold episode restored open")
	}

	if state.OpenEpisode(KindDrift) {
		t.Error("Expected no drift episode")
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	st := NewStore()

	// Cold start: no state file is fine.
	if err := LoadState(filepath.Join(t.TempDir(), "state.json"), st); err != nil {
		t.Errorf("Unexpected error: %s", err)
	}

	if len(st.Snapshot()) != 0 {
		t.Error("Expected empty store")
	}
}
