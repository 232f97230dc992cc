package monitor

import (
	"testing"
	"time"
)

func testSample(id SeriesID, value float64) Sample {
	return Sample{
		ID:      id,
		Value:   value,
		Running: true,
		Time:    time.Now(),
	}
}

func TestEvaluateFirstObservation(t *testing.T) {
	id := SeriesID{Node: "mq01", VHost: "/", Queue: "orders"}

	// No baseline: drift can never fire, but
	// threshold can.
	ev := Evaluate(SeriesState{}, false, testSample(id, 20), 15)

	if len(ev.Anomalies) != 1 {
		t.Fatalf("Expected 1 anomaly, got %d", len(ev.Anomalies))
	}

	if ev.Anomalies[0].Kind != KindThreshold {
		t.Errorf("Expected threshold anomaly, got %s", ev.Anomalies[0].Kind)
	}

	ev = Evaluate(SeriesState{}, false, testSample(id, 10), 15)
	if len(ev.Anomalies) != 0 {
		t.Errorf("Expected no anomalies, got %d", len(ev.Anomalies))
	}
}

func TestEvaluateDriftPredicate(t *testing.T) {
	id := SeriesID{Node: "mq01", VHost: "/", Queue: "orders"}

	tests := []struct {
		previous float64
		current  float64
		fires    bool
	}{
		{10, 12, true},
		{10, 10, false}, // flat never drifts
		{10, 8, false},  // shrinking never drifts
		{0, 1, true},
	}

	for _, test := range tests {
		prev := SeriesState{ID: id, LastValue: test.previous, HasValue: true}
		ev := Evaluate(prev, true, testSample(id, test.current), 100)

		fired := false
		for _, a := range ev.Anomalies {
			if a.Kind == KindDrift {
				fired = true
				if a.Previous != test.previous {
					t.Errorf("Expected previous %g, got %g", test.previous, a.Previous)
				}
			}
		}

		if fired != test.fires {
			t.Errorf("prev=%g cur=%g: expected drift=%t, got %t",
				test.previous, test.current, test.fires, fired)
		}
	}
}

func TestEvaluateBothPredicates(t *testing.T) {
	id := SeriesID{Node: "mq01", VHost: "/", Queue: "orders"}
	prev := SeriesState{ID: id, LastValue: 14, HasValue: true}

	ev := Evaluate(prev, true, testSample(id, 20), 15)

	if len(ev.Anomalies) != 2 {
		t.Fatalf("Expected 2 anomalies, got %d", len(ev.Anomalies))
	}
}

func TestEvaluateAlreadyOpen(t *testing.T) {
	id := SeriesID{Node: "mq01", VHost: "/", Queue: "orders"}
	prev := SeriesState{
		ID:        id,
		LastValue: 10,
		HasValue:  true,
		Episodes: map[AnomalyKind]Episode{
			KindDrift: {Kind: KindDrift, OpenedAt: time.Now()},
		},
	}

	// Condition persists on an open episode:
	// reported, but marked already open.
	ev := Evaluate(prev, true, testSample(id, 12), 100)

	if len(ev.Anomalies) != 1 {
		t.Fatalf("Expected 1 anomaly, got %d", len(ev.Anomalies))
	}

	if !ev.Anomalies[0].AlreadyOpen {
		t.Error("Expected anomaly marked already open")
	}

	// Condition stops: closure is signaled.
	ev = Evaluate(prev, true, testSample(id, 10), 100)

	if len(ev.Anomalies) != 0 {
		t.Errorf("Expected no anomalies, got %d", len(ev.Anomalies))
	}

	if len(ev.Closed) != 1 || ev.Closed[0] != KindDrift {
		t.Errorf("Expected drift closure, got %v", ev.Closed)
	}
}

func TestDeduperOncePerEpisode(t *testing.T) {
	st := NewStore()
	d := NewDeduper(st)
	id := SeriesID{Node: "mq01", VHost: "/", Queue: "orders"}
	a := Anomaly{Kind: KindDrift, ID: id, Value: 12}

	if !d.ShouldNotify(id, a) {
		t.Error("Expected first notification to be allowed")
	}

	d.Record(id, a)

	// Open episode: no repeats, no matter how
	// many cycles the condition persists.
	for i := 0; i < 3; i++ {
		if d.ShouldNotify(id, a) {
			t.Error("Expected notification to be suppressed while episode is open")
		}
	}

	// Closure re-arms.
	d.Clear(id, KindDrift)

	if !d.ShouldNotify(id, a) {
		t.Error("Expected notification to be re-armed after closure")
	}
}
