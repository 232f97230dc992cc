// Package zabbix provisions trapper items
// through the Zabbix JSON-RPC API and
// submits values over the zabbix_sender
// wire protocol.
package zabbix

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sender "github.com/blacked/go-zabbix"
)

// Trapper item constants. Items are created
// as Zabbix trapper type with an unsigned
// numeric value type.
const (
	itemTypeTrapper      = 2
	valueTypeNumericUint = 3
)

// Config holds Client
// configuration parameters.
type Config struct {
	// APIURL is the Zabbix frontend JSON-RPC
	// endpoint, e.g. "http://zabbix.example.com/api_jsonrpc.php".
	APIURL string
	// API credentials.
	User     string
	Password string
	// SenderHost / SenderPort point at the
	// Zabbix trapper listener.
	SenderHost string
	SenderPort int
	// Timeout is applied to every API call.
	Timeout time.Duration
}

// Datapoint is a single trapper
// value for one item on one host.
type Datapoint struct {
	Host  string
	Key   string
	Value string
}

// SubmitResult holds the per-batch
// accounting returned by the trapper.
type SubmitResult struct {
	Processed int
	Failed    int
}

// Client talks to a Zabbix server. It
// holds an authenticated API session and
// a trapper sender.
type Client struct {
	cfg    Config
	httpc  *http.Client
	sender *sender.Sender

	mu      sync.Mutex
	auth    string
	hostIDs map[string]string
}

// NewClient takes a *Config, validates the
// credentials by logging in to the API, and
// returns a *Client.
func NewClient(c *Config) (*Client, error) {
	t := c.Timeout
	if t == 0 {
		t = 10 * time.Second
	}

	client := &Client{
		cfg:     *c,
		httpc:   &http.Client{Timeout: t},
		sender:  sender.NewSender(c.SenderHost, c.SenderPort),
		hostIDs: make(map[string]string),
	}

	if err := client.login(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// EnsureItem checks that a trapper item with
// the given key exists on the given host and
// creates it if absent. An "already exists"
// response from the API is treated as
// success; a concurrent creator or config
// drift can win the race at the network
// layer.
func (c *Client) EnsureItem(ctx context.Context, host, key, name string) error {
	items := []struct {
		ItemID string `json:"itemid"`
	}{}

	params := map[string]interface{}{
		"filter": map[string]string{"host": host, "key_": key},
	}

	if err := c.call(ctx, "item.get", params, &items); err != nil {
		return err
	}

	if len(items) > 0 {
		return nil
	}

	hostID, err := c.hostID(ctx, host)
	if err != nil {
		return err
	}

	create := map[string]interface{}{
		"name":       name,
		"key_":       key,
		"hostid":     hostID,
		"type":       itemTypeTrapper,
		"value_type": valueTypeNumericUint,
	}

	err = c.call(ctx, "item.create", create, nil)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	}

	return nil
}

// Submit sends a batch of datapoints to the
// trapper and returns the processed/failed
// accounting. Delivery is at-least-once:
// resubmitting an unchanged value is
// harmless on the backend.
func (c *Client) Submit(ctx context.Context, points []Datapoint) (SubmitResult, error) {
	if len(points) == 0 {
		return SubmitResult{}, nil
	}

	clock := time.Now().Unix()
	metrics := make([]*sender.Metric, 0, len(points))
	for _, p := range points {
		metrics = append(metrics, sender.NewMetric(p.Host, p.Key, p.Value, clock))
	}

	packet := sender.NewPacket(metrics, clock)

	// The sender has no context support; run
	// the exchange aside and honor ctx here.
	type sendResult struct {
		res []byte
		err error
	}

	done := make(chan sendResult, 1)
	go func() {
		res, err := c.sender.Send(packet)
		done <- sendResult{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return SubmitResult{}, &APIError{
			Request: "trapper send",
			Message: ctx.Err().Error(),
		}
	case r := <-done:
		if r.err != nil {
			return SubmitResult{}, &APIError{
				Request: "trapper send",
				Message: r.err.Error(),
			}
		}

		return parseSenderInfo(r.res)
	}
}

// hostID resolves a host name to its Zabbix
// host ID, caching the result.
func (c *Client) hostID(ctx context.Context, host string) (string, error) {
	c.mu.Lock()
	id, cached := c.hostIDs[host]
	c.mu.Unlock()

	if cached {
		return id, nil
	}

	hosts := []struct {
		HostID string `json:"hostid"`
	}{}

	params := map[string]interface{}{
		"filter": map[string]string{"host": host},
	}

	if err := c.call(ctx, "host.get", params, &hosts); err != nil {
		return "", err
	}

	if len(hosts) == 0 {
		return "", &APIError{
			Request: "host.get",
			Message: fmt.Sprintf("host %s not found", host),
		}
	}

	c.mu.Lock()
	c.hostIDs[host] = hosts[0].HostID
	c.mu.Unlock()

	return hosts[0].HostID, nil
}
