package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achenlv/rabbitmq-zabbix-monitor/brokermetrics/rabbitmq"
	"github.com/achenlv/rabbitmq-zabbix-monitor/internal/monitor"
	"github.com/achenlv/rabbitmq-zabbix-monitor/mailer"
	"github.com/achenlv/rabbitmq-zabbix-monitor/zabbix"

	"github.com/jamiealquiza/envy"
)

var (
	// This can be set with -ldflags "-X main.version=x.x.x"
	version = "0.0.0"

	// Config holds configuration
	// parameters.
	Config struct {
		ConfigPath  string
		APIListen   string
		Interval    int
		Workers     int
		CallTimeout int
		StateFile   string
		AllQueues   bool
	}
)

func main() {
	v := flag.Bool("version", false, "version")
	flag.StringVar(&Config.ConfigPath, "config", "/etc/queuemon/config.json", "Path to the queue monitoring config file")
	flag.StringVar(&Config.APIListen, "api-listen", "localhost:8080", "Admin API listen address:port")
	flag.IntVar(&Config.Interval, "interval", 300, "Reconciliation cycle interval (seconds)")
	flag.IntVar(&Config.Workers, "workers", 4, "Per-series worker pool size")
	flag.IntVar(&Config.CallTimeout, "call-timeout", 10, "Timeout for each collaborator call (seconds)")
	flag.StringVar(&Config.StateFile, "state-file", "", "Path to the series state file (empty: in-memory only)")
	flag.BoolVar(&Config.AllQueues, "all-queues", false, "Discover and monitor every queue on every configured node")

	envy.Parse("QUEUEMON")
	flag.Parse()

	if *v {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Println("Queuemon Running")

	cfg, err := monitor.LoadConfig(Config.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	series, invalid := cfg.SeriesSet()
	for _, err := range invalid {
		log.Printf("Excluding series: %s\n", err)
	}

	if len(series) == 0 && !allQueues(cfg) {
		log.Fatal("No valid series configured")
	}

	callTimeout := time.Duration(Config.CallTimeout) * time.Second
	interval := time.Duration(Config.Interval) * time.Second

	// Init the broker reader.
	broker, err := rabbitmq.NewReader(&rabbitmq.Config{
		Nodes:   brokerNodes(cfg),
		Timeout: callTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Init the metrics backend.
	backend, err := zabbix.NewClient(&zabbix.Config{
		APIURL:     cfg.Zabbix.APIURL,
		User:       cfg.Zabbix.User,
		Password:   cfg.Zabbix.Password,
		SenderHost: cfg.Zabbix.SenderHost,
		SenderPort: cfg.Zabbix.SenderPort,
		Timeout:    callTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Init the notifier.
	mail := mailer.NewMailer(mailer.Config{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		User:          cfg.SMTP.User,
		Password:      cfg.SMTP.Password,
		From:          cfg.SMTP.From,
		SubjectPrefix: cfg.SMTP.SubjectPrefix,
		Drift: mailer.Recipients{
			To: cfg.Emails.Drift.To,
			CC: cfg.Emails.Drift.CC,
		},
		Threshold: mailer.Recipients{
			To: cfg.Emails.Threshold.To,
			CC: cfg.Emails.Threshold.CC,
		},
	})

	// Init the series store, seeding it from
	// the state file when one is configured.
	store := monitor.NewStore()
	if Config.StateFile != "" {
		if err := monitor.LoadState(Config.StateFile, store); err != nil {
			log.Printf("Error loading state: %s\n", err)
		}
	}

	runner := monitor.NewRunner(&monitor.RunnerConfig{
		Broker:           broker,
		Backend:          backend,
		Notifier:         &mailNotifier{m: mail},
		Store:            store,
		Workers:          Config.Workers,
		DefaultThreshold: cfg.Monitoring.Threshold,
		CallTimeout:      callTimeout,
		// One cycle longer than the polling
		// interval, so a backend-side item
		// deletion is recovered within two
		// cycles.
		ProvisionTTL: 2 * interval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := func(scope string) (*monitor.Summary, error) {
		req := monitor.Request{Series: series}
		if scope == "all" || (scope == "" && allQueues(cfg)) {
			req.Discover = cfg.Targets()
		}

		s, err := runner.Run(ctx, req)
		if err != nil {
			return nil, err
		}

		if Config.StateFile != "" {
			if err := monitor.SaveState(Config.StateFile, store); err != nil {
				log.Printf("Error saving state: %s\n", err)
			}
		}

		return s, nil
	}

	// Init the admin API.
	apiConfig := &APIConfig{
		Listen: Config.APIListen,
	}

	initAPI(apiConfig, runner, run)
	log.Printf("Admin API: %s\n", Config.APIListen)

	// Run.
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := run(""); err != nil {
			// A cycle triggered through the API
			// can hold the run lock when the
			// ticker fires; skip this interval.
			log.Println(err)
		}

		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return
		case <-ticker.C:
		}
	}
}

// allQueues reports whether discovery mode
// is on, from either the flag or the config
// file.
func allQueues(cfg *monitor.FileConfig) bool {
	return Config.AllQueues || cfg.Monitoring.AllQueues
}

// brokerNodes maps every configured cluster
// node to its management API credentials.
func brokerNodes(cfg *monitor.FileConfig) map[string]rabbitmq.NodeConfig {
	nodes := map[string]rabbitmq.NodeConfig{}
	for _, cl := range cfg.RabbitMQ.Clusters {
		for _, n := range cl.Nodes {
			nodes[n.Hostname] = rabbitmq.NodeConfig{
				Port:     cl.Port,
				User:     cl.User,
				Password: cl.Password,
			}
		}
	}

	return nodes
}
