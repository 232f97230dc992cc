// Package brokermetrics reads queue
// depth metrics from supported
// message broker backends.
package brokermetrics

import "context"

// Reader requests queue metrics
// from a broker node.
type Reader interface {
	ListQueues(ctx context.Context, node string) ([]Queue, error)
}

// Queue holds the metrics and state
// reported by a broker for a single
// queue on a single node.
type Queue struct {
	VHost     string
	Name      string
	Messages  float64
	Consumers int
	State     string
}

// Running returns whether the broker
// reported the queue in a running state.
func (q Queue) Running() bool {
	return q.State == "running"
}
