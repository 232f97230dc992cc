// Package monitor implements the queue
// metric reconciliation and drift
// detection engine: it decides what value
// to report for each monitored queue,
// provisions backend items ahead of
// submission, and raises one notification
// per anomaly episode.
package monitor

import (
	"fmt"
	"time"
)

// DefaultThreshold is the queue depth above
// which a threshold breach is raised when no
// per-series override is configured.
const DefaultThreshold = 15

// SeriesID identifies one monitored queue:
// the cluster node it lives on, its virtual
// host, and its name.
type SeriesID struct {
	Node  string `json:"node"`
	VHost string `json:"vhost"`
	Queue string `json:"queue"`
}

func (id SeriesID) String() string {
	return fmt.Sprintf("%s:%s/%s", id.Node, id.VHost, id.Queue)
}

// Series is one monitored queue as loaded
// from configuration: its identity, the
// monitoring host its items are attached to,
// and an optional threshold override.
type Series struct {
	ID SeriesID
	// ZabbixHost is the monitoring backend
	// host the series items belong to.
	ZabbixHost string
	// Threshold overrides the default breach
	// threshold when non-zero.
	Threshold float64
}

// MessagesKey returns the item key tracking
// the series queue depth. Keys are derived
// deterministically from the vhost and queue
// so repeated provisioning converges on the
// same item.
func (s Series) MessagesKey() string {
	return fmt.Sprintf("rabbitmq.queue.messages[%s,%s]", s.ID.VHost, s.ID.Queue)
}

// ConsumersKey returns the item key tracking
// the series consumer count.
func (s Series) ConsumersKey() string {
	return fmt.Sprintf("rabbitmq.queue.consumers[%s,%s]", s.ID.VHost, s.ID.Queue)
}

// StateKey returns the item key tracking
// whether the queue is running.
func (s Series) StateKey() string {
	return fmt.Sprintf("rabbitmq.queue.state[%s,%s]", s.ID.VHost, s.ID.Queue)
}

// DisplayName returns the human readable
// item name used at provisioning time.
func (s Series) DisplayName(metric string) string {
	return fmt.Sprintf("RabbitMQ queue %s %s/%s", metric, s.ID.VHost, s.ID.Queue)
}

// EffectiveThreshold returns the series
// threshold override, or def when unset.
func (s Series) EffectiveThreshold(def float64) float64 {
	if s.Threshold > 0 {
		return s.Threshold
	}

	return def
}

// Sample is one measurement of one series at
// one instant, as reported by the broker.
// Samples are never mutated.
type Sample struct {
	ID        SeriesID
	Value     float64
	Consumers int
	Running   bool
	Time      time.Time
}
