// Package rabbitmq implements
// a brokermetrics Reader.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/achenlv/rabbitmq-zabbix-monitor/brokermetrics"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
)

// Config holds Reader
// configuration parameters.
type Config struct {
	// Nodes maps a cluster node hostname to
	// the credentials used for its management
	// API endpoint.
	Nodes map[string]NodeConfig
	// Timeout is applied to every management
	// API call.
	Timeout time.Duration
}

// NodeConfig holds the management API
// endpoint parameters for one node.
type NodeConfig struct {
	Port     int
	User     string
	Password string
}

type rmqReader struct {
	nodes   map[string]NodeConfig
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*rabbithole.Client
}

// NewReader takes a *Config and returns a
// brokermetrics.Reader backed by the RabbitMQ
// management HTTP API. Clients are created
// lazily per node and cached.
func NewReader(c *Config) (brokermetrics.Reader, error) {
	if len(c.Nodes) == 0 {
		return nil, errors.New("no broker nodes configured")
	}

	t := c.Timeout
	if t == 0 {
		t = 10 * time.Second
	}

	return &rmqReader{
		nodes:   c.Nodes,
		timeout: t,
		clients: make(map[string]*rabbithole.Client),
	}, nil
}

// ListQueues requests all queues visible on
// the node's management API and returns them
// as []brokermetrics.Queue. Timeouts and
// connection errors are returned as
// *brokermetrics.Unreachable, rejected
// credentials as *brokermetrics.AuthFailed.
func (r *rmqReader) ListQueues(ctx context.Context, node string) ([]brokermetrics.Queue, error) {
	client, err := r.client(node)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The rabbit-hole client doesn't take a
	// context; run the call aside and honor
	// the deadline here.
	type listResult struct {
		qs  []rabbithole.QueueInfo
		err error
	}

	c := make(chan listResult, 1)
	go func() {
		qs, err := client.ListQueues()
		c <- listResult{qs: qs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &brokermetrics.Unreachable{
			Node:    node,
			Message: ctx.Err().Error(),
		}
	case res := <-c:
		if res.err != nil {
			return nil, classifyError(node, res.err)
		}

		return queuesFromInfo(res.qs), nil
	}
}

// client returns the cached management API
// client for a node, creating it on first use.
func (r *rmqReader) client(node string) (*rabbithole.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[node]; ok {
		return c, nil
	}

	nc, ok := r.nodes[node]
	if !ok {
		return nil, fmt.Errorf("node %s has no configured credentials", node)
	}

	uri := fmt.Sprintf("http://%s:%d", node, nc.Port)
	c, err := rabbithole.NewClient(uri, nc.User, nc.Password)
	if err != nil {
		return nil, fmt.Errorf("error creating client for node %s: %s", node, err)
	}

	c.SetTimeout(r.timeout)
	r.clients[node] = c

	return c, nil
}

// queuesFromInfo maps rabbit-hole queue info
// to []brokermetrics.Queue.
func queuesFromInfo(qs []rabbithole.QueueInfo) []brokermetrics.Queue {
	out := make([]brokermetrics.Queue, 0, len(qs))
	for _, q := range qs {
		out = append(out, brokermetrics.Queue{
			VHost:     q.Vhost,
			Name:      q.Name,
			Messages:  float64(q.Messages),
			Consumers: q.Consumers,
			State:     q.Status,
		})
	}

	return out
}

// classifyError translates a management API
// error into the brokermetrics taxonomy.
func classifyError(node string, err error) error {
	var er rabbithole.ErrorResponse
	if errors.As(err, &er) {
		if er.StatusCode == http.StatusUnauthorized || er.StatusCode == http.StatusForbidden {
			return &brokermetrics.AuthFailed{
				Node:    node,
				Message: err.Error(),
			}
		}
	}

	return &brokermetrics.Unreachable{
		Node:    node,
		Message: err.Error(),
	}
}
