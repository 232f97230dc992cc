package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleRunning is returned when a cycle
	// trigger arrives while another cycle holds
	// the run lock. Triggers are rejected, not
	// queued, to bound staleness.
	ErrCycleRunning = errors.New("reconciliation cycle already running")

	// ErrNoSeries is returned when a cycle is
	// triggered with an empty series set.
	ErrNoSeries = errors.New("no series to reconcile")
)

// ProvisionFailed types are returned when a
// backend item could not be created or
// confirmed. The affected series' submission
// is skipped for the cycle.
type ProvisionFailed struct {
	Host   string
	Key    string
	Reason string
}

// Error implements the error
// interface for ProvisionFailed.
func (e *ProvisionFailed) Error() string {
	return fmt.Sprintf("provisioning %s on %s failed: %s", e.Key, e.Host, e.Reason)
}

// ConfigInvalid types are returned for a
// malformed series definition. Only the
// affected series is excluded from the run.
type ConfigInvalid struct {
	Field   string
	Message string
}

// Error implements the error
// interface for ConfigInvalid.
func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid series config [%s]: %s", e.Field, e.Message)
}
