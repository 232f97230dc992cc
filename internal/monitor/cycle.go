package monitor

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/achenlv/rabbitmq-zabbix-monitor/brokermetrics"
	"github.com/achenlv/rabbitmq-zabbix-monitor/zabbix"
)

// MetricBackend is the monitoring backend
// the cycle provisions items on and submits
// samples to.
type MetricBackend interface {
	EnsureItem(ctx context.Context, host, key, name string) error
	Submit(ctx context.Context, points []zabbix.Datapoint) (zabbix.SubmitResult, error)
}

// Notification carries the context of one
// anomaly to the notifier.
type Notification struct {
	Kind        AnomalyKind
	ID          SeriesID
	Value       float64
	Previous    float64
	HasPrevious bool
	Threshold   float64
	Time        time.Time
}

// Notifier dispatches one notification per
// newly opened anomaly episode.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NodeTarget names a broker node to discover
// queues on in "all queues" mode, and the
// monitoring host its items belong to.
type NodeTarget struct {
	Node       string
	ZabbixHost string
}

// Request is the input to one cycle: either
// an explicit series set, or a set of nodes
// to discover every queue on. In discovery
// mode, Series entries act as per-series
// overrides (threshold, monitoring host).
type Request struct {
	Series   []Series
	Discover []NodeTarget
}

// Summary is the aggregate outcome of one
// cycle, returned to the control surface.
type Summary struct {
	SeriesObserved    int               `json:"series_observed"`
	SamplesSubmitted  int               `json:"samples_submitted"`
	AnomaliesDetected int               `json:"anomalies_detected"`
	NotificationsSent int               `json:"notifications_sent"`
	Failures          map[string]string `json:"per_series_failures,omitempty"`
}

// RunnerConfig holds Runner
// configuration parameters.
type RunnerConfig struct {
	Broker   brokermetrics.Reader
	Backend  MetricBackend
	Notifier Notifier
	Store    *Store
	// Workers bounds the per-series worker
	// pool for one cycle.
	Workers int
	// DefaultThreshold applies where a series
	// carries no override.
	DefaultThreshold float64
	// CallTimeout is applied to each backend
	// and notifier call.
	CallTimeout time.Duration
	// ProvisionTTL is the item cache TTL;
	// should exceed the polling interval by
	// one cycle.
	ProvisionTTL time.Duration
	// Retention is how long state for a
	// no-longer-configured series is kept
	// before garbage collection.
	Retention time.Duration
}

// Runner executes reconciliation cycles. At
// most one cycle runs at a time; overlapping
// triggers are rejected.
type Runner struct {
	broker      brokermetrics.Reader
	backend     MetricBackend
	notifier    Notifier
	store       *Store
	prov        *Provisioner
	dedupe      *Deduper
	workers     int
	callTimeout time.Duration
	retention   time.Duration

	thMu             sync.Mutex
	defaultThreshold float64

	runMu sync.Mutex
}

// NewRunner takes a *RunnerConfig and
// returns a *Runner.
func NewRunner(c *RunnerConfig) *Runner {
	workers := c.Workers
	if workers < 1 {
		workers = 4
	}

	callTimeout := c.CallTimeout
	if callTimeout == 0 {
		callTimeout = 10 * time.Second
	}

	retention := c.Retention
	if retention == 0 {
		retention = 24 * time.Hour
	}

	threshold := c.DefaultThreshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	ttl := c.ProvisionTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	return &Runner{
		broker:           c.Broker,
		backend:          c.Backend,
		notifier:         c.Notifier,
		store:            c.Store,
		prov:             NewProvisioner(c.Backend, ttl),
		dedupe:           NewDeduper(c.Store),
		workers:          workers,
		callTimeout:      callTimeout,
		retention:        retention,
		defaultThreshold: threshold,
	}
}

// Threshold returns the current default
// breach threshold.
func (r *Runner) Threshold() float64 {
	r.thMu.Lock()
	defer r.thMu.Unlock()

	return r.defaultThreshold
}

// SetThreshold replaces the default breach
// threshold. Takes effect on the next cycle.
func (r *Runner) SetThreshold(v float64) {
	r.thMu.Lock()
	defer r.thMu.Unlock()

	r.defaultThreshold = v
}

// Store exposes the series store for the
// control surface and persistence.
func (r *Runner) Store() *Store {
	return r.store
}

type job struct {
	series Series
	sample Sample
}

// Run executes one reconciliation cycle:
// fetch current samples, then per series
// provision, submit, evaluate, notify and
// commit, then aggregate. A fetch or
// processing failure is scoped to its node
// or series and never aborts the remainder
// of the cycle. Run returns ErrCycleRunning
// if another cycle is in flight and
// ErrNoSeries on an empty input.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	if !r.runMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer r.runMu.Unlock()

	discovery := len(req.Discover) > 0
	if !discovery && len(req.Series) == 0 {
		return nil, ErrNoSeries
	}

	start := time.Now()
	acc := &accumulator{failures: make(map[string]string)}

	var work []job
	if discovery {
		work = r.discoverWork(ctx, req, acc)
	} else {
		work = r.fetchWork(ctx, req.Series, acc)
	}

	// A duplicated series definition must not
	// dispatch two workers on the same
	// identity; the first entry wins.
	seen := make(map[SeriesID]struct{}, len(work))
	deduped := work[:0]
	for _, j := range work {
		if _, ok := seen[j.series.ID]; ok {
			continue
		}
		seen[j.series.ID] = struct{}{}
		deduped = append(deduped, j)
	}
	work = deduped

	acc.observed = len(work)

	// Per-series work is independent; run it
	// on a bounded pool. The store locks per
	// series identity so unrelated series
	// never block each other.
	workers := r.workers
	if workers > len(work) {
		workers = len(work)
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r.process(ctx, j, acc)
			}
		}()
	}

	for _, j := range work {
		jobs <- j
	}
	close(jobs)
	wg.Wait()

	// Garbage-collect state for series that
	// fell out of configuration.
	configured := make(map[SeriesID]struct{}, len(work))
	for _, j := range work {
		configured[j.series.ID] = struct{}{}
	}

	if pruned := r.store.Prune(configured, r.retention); pruned > 0 {
		log.Printf("Pruned state for %d unconfigured series\n", pruned)
	}

	s := acc.summary()
	log.Printf("Cycle done in %s: %d series observed, %d submitted, %d anomalies, %d notifications, %d failures\n",
		time.Since(start).Round(time.Millisecond), s.SeriesObserved, s.SamplesSubmitted,
		s.AnomaliesDetected, s.NotificationsSent, len(s.Failures))

	return s, nil
}

// fetchWork lists queues once per distinct
// node in the configured series set and
// pairs each series with its sample. A node
// listing failure marks every series on that
// node failed; the others proceed.
func (r *Runner) fetchWork(ctx context.Context, series []Series, acc *accumulator) []job {
	byNode := make(map[string][]Series)
	for _, s := range series {
		byNode[s.ID.Node] = append(byNode[s.ID.Node], s)
	}

	var work []job
	for node, list := range byNode {
		queues, err := r.broker.ListQueues(ctx, node)
		if err != nil {
			log.Printf("Error fetching queues from %s: %s\n", node, err)
			for _, s := range list {
				acc.fail(s.ID, err.Error())
			}
			continue
		}

		index := make(map[[2]string]brokermetrics.Queue, len(queues))
		for _, q := range queues {
			index[[2]string{q.VHost, q.Name}] = q
		}

		now := time.Now()
		for _, s := range list {
			q, ok := index[[2]string{s.ID.VHost, s.ID.Queue}]
			if !ok {
				acc.fail(s.ID, fmt.Sprintf("queue not found on node %s", node))
				continue
			}

			work = append(work, job{series: s, sample: sampleFromQueue(s.ID, q, now)})
		}
	}

	return work
}

// discoverWork lists every queue on every
// target node and builds the series set from
// what it finds, applying any configured
// per-series overrides.
func (r *Runner) discoverWork(ctx context.Context, req Request, acc *accumulator) []job {
	overrides := make(map[SeriesID]Series, len(req.Series))
	for _, s := range req.Series {
		overrides[s.ID] = s
	}

	var work []job
	for _, tgt := range req.Discover {
		queues, err := r.broker.ListQueues(ctx, tgt.Node)
		if err != nil {
			log.Printf("Error discovering queues on %s: %s\n", tgt.Node, err)
			acc.failNode(tgt.Node, err.Error())
			continue
		}

		now := time.Now()
		for _, q := range queues {
			id := SeriesID{Node: tgt.Node, VHost: q.VHost, Queue: q.Name}
			s := Series{ID: id, ZabbixHost: tgt.ZabbixHost}
			if o, ok := overrides[id]; ok {
				s.Threshold = o.Threshold
				if o.ZabbixHost != "" {
					s.ZabbixHost = o.ZabbixHost
				}
			}

			work = append(work, job{series: s, sample: sampleFromQueue(id, q, now)})
		}
	}

	return work
}

// process runs the provision, submit,
// evaluate, notify and commit steps for one
// series. Any failure is recorded and scoped
// to the series; the commit is skipped so
// the next cycle re-evaluates from the last
// fully committed state.
func (r *Runner) process(ctx context.Context, j job, acc *accumulator) {
	s := j.series
	smp := j.sample

	// Provision all item keys up front.
	items := []struct{ key, name string }{
		{s.MessagesKey(), s.DisplayName("messages")},
		{s.ConsumersKey(), s.DisplayName("consumers")},
		{s.StateKey(), s.DisplayName("state")},
	}

	for _, item := range items {
		cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := r.prov.Ensure(cctx, s.ZabbixHost, item.key, item.name)
		cancel()

		if err != nil {
			log.Printf("Skipping %s this cycle: %s\n", s.ID, err)
			acc.fail(s.ID, err.Error())
			return
		}
	}

	// Submit the sample batch.
	running := "0"
	if smp.Running {
		running = "1"
	}

	points := []zabbix.Datapoint{
		{Host: s.ZabbixHost, Key: s.MessagesKey(), Value: strconv.FormatFloat(smp.Value, 'f', -1, 64)},
		{Host: s.ZabbixHost, Key: s.ConsumersKey(), Value: strconv.Itoa(smp.Consumers)},
		{Host: s.ZabbixHost, Key: s.StateKey(), Value: running},
	}

	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	res, err := r.backend.Submit(cctx, points)
	cancel()

	if err != nil {
		log.Printf("Error submitting samples for %s: %s\n", s.ID, err)
		acc.fail(s.ID, err.Error())
		return
	}

	if res.Failed > 0 {
		// Partial acceptance; the backend took
		// a subset. Recorded, not fatal to the
		// series.
		acc.fail(s.ID, fmt.Sprintf("backend accepted %d of %d values", res.Processed, res.Processed+res.Failed))
	}
	acc.submitted()

	// Evaluate against the last committed
	// state.
	prev, prevOK := r.store.Get(s.ID)
	threshold := s.EffectiveThreshold(r.Threshold())
	ev := Evaluate(prev, prevOK, smp, threshold)

	for _, a := range ev.Anomalies {
		if a.AlreadyOpen {
			// Condition persists on an open
			// episode; no repeat notification.
			log.Printf("Warning: %s %s persists at %g\n", a.Kind, a.ID, a.Value)
			continue
		}

		acc.anomaly()
		log.Printf("Anomaly detected: %s on %s, value %g\n", a.Kind, a.ID, a.Value)

		if !r.dedupe.ShouldNotify(s.ID, a) {
			continue
		}

		n := Notification{
			Kind:        a.Kind,
			ID:          a.ID,
			Value:       a.Value,
			Previous:    prev.LastValue,
			HasPrevious: prevOK && prev.HasValue,
			Threshold:   threshold,
			Time:        smp.Time,
		}

		cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := r.notifier.Send(cctx, n)
		cancel()

		if err != nil {
			// Leave the episode unopened so the
			// next cycle can retry the send.
			log.Printf("Error sending %s notification for %s: %s\n", a.Kind, a.ID, err)
			acc.fail(s.ID, fmt.Sprintf("notification failed: %s", err))
			continue
		}

		r.dedupe.Record(s.ID, a)
		acc.notified()
	}

	for _, kind := range ev.Closed {
		r.dedupe.Clear(s.ID, kind)
		log.Printf("%s episode on %s closed\n", kind, s.ID)
	}

	// Don't commit on a cancelled cycle; the
	// next run must re-evaluate from the last
	// committed state.
	if ctx.Err() != nil {
		acc.fail(s.ID, ctx.Err().Error())
		return
	}

	r.store.Upsert(s.ID, smp)
}

func sampleFromQueue(id SeriesID, q brokermetrics.Queue, at time.Time) Sample {
	return Sample{
		ID:        id,
		Value:     q.Messages,
		Consumers: q.Consumers,
		Running:   q.Running(),
		Time:      at,
	}
}

// accumulator gathers cycle counters from
// the worker pool.
type accumulator struct {
	mu        sync.Mutex
	observed  int
	samples   int
	anomalies int
	sent      int
	failures  map[string]string
}

func (a *accumulator) fail(id SeriesID, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[id.String()] = reason
}

func (a *accumulator) failNode(node, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[node] = reason
}

func (a *accumulator) submitted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples++
}

func (a *accumulator) anomaly() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anomalies++
}

func (a *accumulator) notified() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent++
}

func (a *accumulator) summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Summary{
		SeriesObserved:    a.observed,
		SamplesSubmitted:  a.samples,
		AnomaliesDetected: a.anomalies,
		NotificationsSent: a.sent,
	}

	if len(a.failures) > 0 {
		s.Failures = make(map[string]string, len(a.failures))
		for k, v := range a.failures {
			s.Failures[k] = v
		}
	}

	return s
}
