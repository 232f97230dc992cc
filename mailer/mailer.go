// Package mailer dispatches anomaly
// notifications over SMTP.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "gopkg.in/gomail.v2"
)

// Alert kinds. These select the recipient
// list and subject wording.
const (
	KindDrift     = "drift"
	KindThreshold = "threshold"
)

// Recipients is one to/cc list.
type Recipients struct {
	To []string
	CC []string
}

// Config holds Mailer
// configuration parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	// SubjectPrefix is prepended to every
	// subject line, bracketed.
	SubjectPrefix string
	// Per-kind recipient lists.
	Drift     Recipients
	Threshold Recipients
}

// Alert carries the context of one anomaly
// to be mailed out.
type Alert struct {
	Kind        string
	Node        string
	VHost       string
	Queue       string
	Value       float64
	Previous    float64
	HasPrevious bool
	Threshold   float64
	Time        time.Time
}

// Mailer sends alert mail through a single
// SMTP endpoint.
type Mailer struct {
	cfg    Config
	dialer *gomail.Dialer
}

// NewMailer takes a Config and
// returns a *Mailer.
func NewMailer(c Config) *Mailer {
	return &Mailer{
		cfg:    c,
		dialer: gomail.NewDialer(c.Host, c.Port, c.User, c.Password),
	}
}

// Send mails one alert to the recipient list
// configured for its kind. The SMTP exchange
// has no context support; the deadline is
// honored here.
func (m *Mailer) Send(ctx context.Context, a Alert) error {
	r := m.recipients(a.Kind)
	if len(r.To) == 0 {
		return fmt.Errorf("no recipients configured for %s alerts", a.Kind)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", r.To...)
	if len(r.CC) > 0 {
		msg.SetHeader("Cc", r.CC...)
	}
	msg.SetHeader("Subject", subject(m.cfg.SubjectPrefix, a))
	msg.SetBody("text/plain", body(a))

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (m *Mailer) recipients(kind string) Recipients {
	if kind == KindThreshold {
		return m.cfg.Threshold
	}

	return m.cfg.Drift
}

// subject builds the alert subject line.
func subject(prefix string, a Alert) string {
	var what string
	switch a.Kind {
	case KindThreshold:
		what = fmt.Sprintf("queue depth over threshold (%g > %g)", a.Value, a.Threshold)
	default:
		what = fmt.Sprintf("queue depth growing (%g -> %g)", a.Previous, a.Value)
	}

	s := fmt.Sprintf("%s %s/%s: %s", a.Node, a.VHost, a.Queue, what)
	if prefix != "" {
		s = fmt.Sprintf("[%s] %s", prefix, s)
	}

	return s
}

// body builds the plain-text alert body.
func body(a Alert) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Queue monitoring alert (%s)\n\n", a.Kind)
	fmt.Fprintf(&b, "Node:    %s\n", a.Node)
	fmt.Fprintf(&b, "VHost:   %s\n", a.VHost)
	fmt.Fprintf(&b, "Queue:   %s\n", a.Queue)
	fmt.Fprintf(&b, "Depth:   %g\n", a.Value)

	if a.HasPrevious {
		fmt.Fprintf(&b, "Previous: %g\n", a.Previous)
	}

	if a.Kind == KindThreshold {
		fmt.Fprintf(&b, "Threshold: %g\n", a.Threshold)
	}

	fmt.Fprintf(&b, "Observed: %s\n", a.Time.Format(time.RFC3339))
	b.WriteString("\nOne notification is sent per episode; no further mail follows while the condition persists.\n")

	return b.String()
}
