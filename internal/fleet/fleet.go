// Package fleet defines the instance model and the interfaces to the
// external fleet-management and remote-execution operations.
package fleet

import (
	"context"
	"fmt"
	"strings"
)

// State is the lifecycle state reported by the fleet API for an instance.
type State string

const (
	StateReady      State = "READY"
	StateRunning    State = "RUNNING"
	StatePreempted  State = "PREEMPTED"
	StateTerminated State = "TERMINATED"
	StateCreating   State = "CREATING"
	StateDeleting   State = "DELETING"
	StateRepairing  State = "REPAIRING"
	StateStopped    State = "STOPPED"
)

// Instance is one accelerator VM, identified by name and zone. Records are
// built fresh each audit pass and never persisted.
type Instance struct {
	Name  string
	Zone  string
	State State
}

func (i Instance) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.Zone)
}

// Region derives the region from a zone identifier, tolerating fully
// qualified resource paths ("projects/p/locations/us-central1-a").
func Region(zone string) string {
	zone = zone[strings.LastIndex(zone, "/")+1:]
	if idx := strings.LastIndex(zone, "-"); idx > 0 {
		return zone[:idx]
	}
	return zone
}

// Lister enumerates the instances of one zone.
type Lister interface {
	List(ctx context.Context, zone string) ([]Instance, error)
}

// Deleter issues the external delete operation for one instance. The call
// is bounded by its own timeout; the engine never verifies the instance is
// actually gone.
type Deleter interface {
	Delete(ctx context.Context, name, zone string) error
}

// Commander runs one remote command on every worker node of an instance
// and returns the combined stdout. A non-zero remote exit is reported as
// *ExitError.
type Commander interface {
	Run(ctx context.Context, name, zone, command string) (string, error)
}

// ExitError reports a remote command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}
