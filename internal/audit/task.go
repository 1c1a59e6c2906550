package audit

import (
	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/probe"
)

// TaskKind discriminates the task union.
type TaskKind int

const (
	// TaskDelete reclaims a preempted instance.
	TaskDelete TaskKind = iota
	// TaskProbe checks the occupancy of an active instance.
	TaskProbe
)

// Task is one unit of work in the mixed per-pass batch. Built once per
// pass and consumed exactly once by the dispatcher.
type Task struct {
	Kind     TaskKind
	Instance fleet.Instance
	// Tag is the ownership tag, set for probe tasks only.
	Tag string
}

// DeleteStatus is the terminal outcome of one delete task.
type DeleteStatus string

const (
	DeleteSuccess DeleteStatus = "DELETE_SUCCESS"
	DeleteTimeout DeleteStatus = "DELETE_TIMEOUT"
	DeleteFail    DeleteStatus = "DELETE_FAIL"
)

// DeleteResult records one delete task's outcome. Fire-and-forget: success
// means the operation was accepted, not that the instance is gone.
type DeleteResult struct {
	Instance fleet.Instance
	Status   DeleteStatus
	Reason   string
}

// ProbeResult records one probe task's outcome plus the advisory
// annotations added during reconciliation.
type ProbeResult struct {
	Instance fleet.Instance
	Tag      string
	Verdict  probe.Verdict

	// ReservedBy is the valid lease holder, set for IDLE verdicts only.
	// Informational: a reservation never changes the verdict.
	ReservedBy string
	// Violation is the compliance failure reason, if any.
	Violation string
	// Reclaimed reports that the violation triggered a delete.
	Reclaimed bool
}

// result is the uniform record the worker pool returns for a mixed task.
type result struct {
	kind   TaskKind
	delete DeleteResult
	probe  ProbeResult
}
