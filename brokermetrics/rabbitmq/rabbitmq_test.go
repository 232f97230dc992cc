package rabbitmq

import (
	"errors"
	"net/http"
	"testing"

	"github.com/achenlv/rabbitmq-zabbix-monitor/brokermetrics"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
)

func TestQueuesFromInfo(t *testing.T) {
	in := []rabbithole.QueueInfo{
		{Vhost: "/", Name: "orders", Messages: 12, Consumers: 2, Status: "running"},
		{Vhost: "billing", Name: "invoices", Messages: 0, Consumers: 0, Status: "idle"},
	}

	qs := queuesFromInfo(in)

	if len(qs) != 2 {
		t.Fatalf("Expected 2 queues, got %d", len(qs))
	}

	if qs[0].VHost != "/" || qs[0].Name != "orders" {
		t.Errorf("Unexpected queue identity: %s/%s", qs[0].VHost, qs[0].Name)
	}

	if qs[0].Messages != 12 {
		t.Errorf("Expected 12 messages, got %f", qs[0].Messages)
	}

	if !qs[0].Running() {
		t.Error("Expected queue0 to be running")
	}

	if qs[1].Running() {
		t.Error("Expected queue1 to not be running")
	}
}

func TestClassifyError(t *testing.T) {
	err := classifyError("mq01", rabbithole.ErrorResponse{StatusCode: http.StatusUnauthorized})

	var auth *brokermetrics.AuthFailed
	if !errors.As(err, &auth) {
		t.Errorf("Expected AuthFailed, got %T", err)
	}

	err = classifyError("mq01", errors.New("connection refused"))

	var unreach *brokermetrics.Unreachable
	if !errors.As(err, &unreach) {
		t.Errorf("Expected Unreachable, got %T", err)
	}

	if unreach.Node != "mq01" {
		t.Errorf("Expected node mq01, got %s", unreach.Node)
	}
}
