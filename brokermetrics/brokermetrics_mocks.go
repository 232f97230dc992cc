package brokermetrics

import (
	"context"
	"fmt"
)

// Stub stubs the Reader interface.
type Stub struct{}

// ListQueues stubs the ListQueues function.
func (s *Stub) ListQueues(_ context.Context, node string) ([]Queue, error) {
	qs := []Queue{}
	for i := 0; i < 3; i++ {
		qs = append(qs, Queue{
			VHost:     "/",
			Name:      fmt.Sprintf("queue%d", i),
			Messages:  float64(10 * i),
			Consumers: 1,
			State:     "running",
		})
	}

	return qs, nil
}
