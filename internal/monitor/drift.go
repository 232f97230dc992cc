package monitor

import "time"

// Anomaly is one predicate firing for one
// series in one cycle.
type Anomaly struct {
	Kind     AnomalyKind
	ID       SeriesID
	Value    float64
	Previous float64 // drift only
	Limit    float64 // threshold only
	Time     time.Time
	// AlreadyOpen marks a condition that
	// persists on an episode that was
	// already notified; the caller logs it
	// but must not notify again.
	AlreadyOpen bool
}

// Evaluation is the outcome of checking one
// sample against the previous state.
type Evaluation struct {
	Anomalies []Anomaly
	// Closed lists the kinds whose predicate
	// stopped firing while an episode was
	// open; the caller clears those episodes.
	Closed []AnomalyKind
}

// Evaluate runs the two anomaly predicates
// for a series:
//
//   - drift: the value grew strictly since
//     the previous observation. The first
//     observation of a series never drifts;
//     there is no baseline.
//   - threshold: the value exceeds the
//     configured limit, independent of trend.
//
// Both may fire in the same cycle. A
// predicate firing on an already open
// episode is reported with AlreadyOpen set;
// a predicate no longer firing on an open
// episode is reported in Closed.
func Evaluate(prev SeriesState, prevOK bool, cur Sample, threshold float64) Evaluation {
	var ev Evaluation

	driftFired := prevOK && prev.HasValue && cur.Value > prev.LastValue
	thresholdFired := cur.Value > threshold

	if driftFired {
		ev.Anomalies = append(ev.Anomalies, Anomaly{
			Kind:        KindDrift,
			ID:          cur.ID,
			Value:       cur.Value,
			Previous:    prev.LastValue,
			Time:        cur.Time,
			AlreadyOpen: prevOK && prev.OpenEpisode(KindDrift),
		})
	} else if prevOK && prev.OpenEpisode(KindDrift) {
		ev.Closed = append(ev.Closed, KindDrift)
	}

	if thresholdFired {
		ev.Anomalies = append(ev.Anomalies, Anomaly{
			Kind:        KindThreshold,
			ID:          cur.ID,
			Value:       cur.Value,
			Limit:       threshold,
			Time:        cur.Time,
			AlreadyOpen: prevOK && prev.OpenEpisode(KindThreshold),
		})
	} else if prevOK && prev.OpenEpisode(KindThreshold) {
		ev.Closed = append(ev.Closed, KindThreshold)
	}

	return ev
}

// Deduper guarantees at most one
// notification per open anomaly episode per
// series. It's bookkeeping over the episode
// state held in the Store.
type Deduper struct {
	store *Store
}

// NewDeduper returns a Deduper over st.
func NewDeduper(st *Store) *Deduper {
	return &Deduper{store: st}
}

// ShouldNotify returns true exactly when no
// open episode of the anomaly's kind exists
// for the series.
func (d *Deduper) ShouldNotify(id SeriesID, a Anomaly) bool {
	return !d.store.IsOpen(id, a.Kind)
}

// Record marks the anomaly's episode open
// following a successful notification.
func (d *Deduper) Record(id SeriesID, a Anomaly) {
	at := a.Time
	if at.IsZero() {
		at = time.Now()
	}
	d.store.Open(id, a.Kind, a.Value, at)
}

// Clear closes an episode of the given kind,
// re-arming notification for the series.
func (d *Deduper) Clear(id SeriesID, kind AnomalyKind) {
	d.store.Close(id, kind)
}
