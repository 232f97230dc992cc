package monitor

import (
	"encoding/json"
	"fmt"
	"os"
)

// FileConfig is the on-disk configuration:
// broker clusters, the monitored series set,
// the monitoring backend, and notification
// recipients.
type FileConfig struct {
	RabbitMQ   RabbitMQConfig   `json:"rabbitmq"`
	Zabbix     ZabbixConfig     `json:"zabbix"`
	Monitoring MonitoringConfig `json:"monitoring"`
	SMTP       SMTPConfig       `json:"smtp"`
	Emails     EmailsConfig     `json:"emails"`
}

// RabbitMQConfig holds the broker clusters.
type RabbitMQConfig struct {
	Clusters []ClusterConfig `json:"clusters"`
}

// ClusterConfig holds one cluster's
// management API credentials and nodes.
type ClusterConfig struct {
	Name     string       `json:"name"`
	Port     int          `json:"port"`
	User     string       `json:"user"`
	Password string       `json:"password"`
	Nodes    []NodeConfig `json:"nodes"`
}

// NodeConfig maps one cluster node to the
// monitoring host its items are attached to.
type NodeConfig struct {
	Hostname   string `json:"hostname"`
	ZabbixHost string `json:"zabbix_host"`
}

// ZabbixConfig holds backend endpoints and
// credentials.
type ZabbixConfig struct {
	APIURL     string `json:"api_url"`
	User       string `json:"user"`
	Password   string `json:"password"`
	SenderHost string `json:"sender_host"`
	SenderPort int    `json:"sender_port"`
}

// MonitoringConfig holds the default breach
// threshold and the monitored queue set.
type MonitoringConfig struct {
	Threshold float64       `json:"threshold"`
	AllQueues bool          `json:"all_queues"`
	Queues    []QueueConfig `json:"queues"`
}

// QueueConfig is one monitored queue entry.
type QueueConfig struct {
	ClusterNode string  `json:"cluster_node"`
	VHost       string  `json:"vhost"`
	Queue       string  `json:"queue"`
	ZabbixHost  string  `json:"zabbix_host"`
	Threshold   float64 `json:"threshold"`
}

// SMTPConfig holds the outbound mail
// transport parameters.
type SMTPConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user"`
	Password      string `json:"password"`
	From          string `json:"from"`
	SubjectPrefix string `json:"subject_prefix"`
}

// EmailsConfig holds per-anomaly-kind
// recipient lists.
type EmailsConfig struct {
	Drift     RecipientsConfig `json:"drift"`
	Threshold RecipientsConfig `json:"threshold"`
}

// RecipientsConfig is one to/cc list.
type RecipientsConfig struct {
	To []string `json:"to"`
	CC []string `json:"cc"`
}

// LoadConfig reads and parses the config
// file at path.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %s", err)
	}

	c := &FileConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("error parsing config: %s", err)
	}

	return c, nil
}

// NodeZabbixHost resolves a cluster node to
// its configured monitoring host.
func (c *FileConfig) NodeZabbixHost(node string) (string, bool) {
	for _, cl := range c.RabbitMQ.Clusters {
		for _, n := range cl.Nodes {
			if n.Hostname == node {
				return n.ZabbixHost, true
			}
		}
	}

	return "", false
}

// Targets returns one NodeTarget per
// configured cluster node, for "all queues"
// discovery.
func (c *FileConfig) Targets() []NodeTarget {
	var out []NodeTarget
	for _, cl := range c.RabbitMQ.Clusters {
		for _, n := range cl.Nodes {
			out = append(out, NodeTarget{Node: n.Hostname, ZabbixHost: n.ZabbixHost})
		}
	}

	return out
}

// SeriesSet validates the monitored queue
// entries and returns the resulting series.
// A malformed entry excludes only itself;
// it is returned as a ConfigInvalid in the
// second return value.
func (c *FileConfig) SeriesSet() ([]Series, []error) {
	var series []Series
	var invalid []error

	for i, q := range c.Monitoring.Queues {
		field := fmt.Sprintf("monitoring.queues[%d]", i)

		if q.ClusterNode == "" || q.VHost == "" || q.Queue == "" {
			invalid = append(invalid, &ConfigInvalid{
				Field:   field,
				Message: "cluster_node, vhost and queue are required",
			})
			continue
		}

		host := q.ZabbixHost
		if host == "" {
			// Fall back to the node's mapping.
			var ok bool
			host, ok = c.NodeZabbixHost(q.ClusterNode)
			if !ok {
				invalid = append(invalid, &ConfigInvalid{
					Field:   field,
					Message: fmt.Sprintf("node %s has no zabbix host mapping", q.ClusterNode),
				})
				continue
			}
		}

		series = append(series, Series{
			ID: SeriesID{
				Node:  q.ClusterNode,
				VHost: q.VHost,
				Queue: q.Queue,
			},
			ZabbixHost: host,
			Threshold:  q.Threshold,
		})
	}

	return series, invalid
}
