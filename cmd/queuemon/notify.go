package main

import (
	"context"

	"github.com/achenlv/rabbitmq-zabbix-monitor/internal/monitor"
	"github.com/achenlv/rabbitmq-zabbix-monitor/mailer"
)

// mailNotifier adapts the mailer to the
// monitor.Notifier interface.
type mailNotifier struct {
	m *mailer.Mailer
}

// Send mails one anomaly notification.
func (n *mailNotifier) Send(ctx context.Context, not monitor.Notification) error {
	return n.m.Send(ctx, mailer.Alert{
		Kind:        string(not.Kind),
		Node:        not.ID.Node,
		VHost:       not.ID.VHost,
		Queue:       not.ID.Queue,
		Value:       not.Value,
		Previous:    not.Previous,
		HasPrevious: not.HasPrevious,
		Threshold:   not.Threshold,
		Time:        not.Time,
	})
}
