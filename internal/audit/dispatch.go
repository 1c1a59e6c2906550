package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/logging"
	"github.com/qiaosungithub/tpu-master/internal/probe"
)

// OccupancyProber produces one verdict per active instance.
type OccupancyProber interface {
	Probe(ctx context.Context, inst fleet.Instance) probe.Verdict
}

// Dispatcher routes the mixed per-pass task batch through one shared
// worker pool, so deletes and probes compete for the same capacity, then
// re-splits the results by submission index.
type Dispatcher struct {
	Deleter    fleet.Deleter
	Prober     OccupancyProber
	Compliance probe.CompliancePolicy

	// Graced shields an instance from compliance-triggered deletion.
	Graced func(name string) bool

	// EnforceCompliance turns violations into delete operations; DryRun
	// downgrades those deletes to log lines.
	EnforceCompliance bool
	DryRun            bool

	Width  int
	Logger *slog.Logger
}

// Run executes the whole batch and returns delete and probe results in
// their original submission order.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task) ([]DeleteResult, []ProbeResult) {
	results := Map(ctx, d.Width, tasks, d.process)

	var (
		deletes []DeleteResult
		probes  []ProbeResult
	)
	for _, res := range results {
		switch res.kind {
		case TaskDelete:
			deletes = append(deletes, res.delete)
		case TaskProbe:
			probes = append(probes, res.probe)
		}
	}
	return deletes, probes
}

func (d *Dispatcher) process(ctx context.Context, task Task) result {
	switch task.Kind {
	case TaskDelete:
		return result{kind: TaskDelete, delete: d.runDelete(ctx, task.Instance)}
	default:
		return result{kind: TaskProbe, probe: d.runProbe(ctx, task)}
	}
}

func (d *Dispatcher) runDelete(ctx context.Context, inst fleet.Instance) DeleteResult {
	logger := logging.Ensure(d.Logger).With("instance", inst.Name, "zone", inst.Zone)

	res := DeleteResult{Instance: inst, Status: DeleteSuccess}
	err := d.Deleter.Delete(ctx, inst.Name, inst.Zone)
	switch {
	case err == nil:
		logger.Info("instance deleted")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("delete timed out")
		res.Status = DeleteTimeout
	default:
		logger.Error("delete failed", "error", err)
		res.Status = DeleteFail
		res.Reason = err.Error()
	}
	return res
}

func (d *Dispatcher) runProbe(ctx context.Context, task Task) ProbeResult {
	inst := task.Instance
	logger := logging.Ensure(d.Logger).With("instance", inst.Name, "zone", inst.Zone)

	res := ProbeResult{
		Instance: inst,
		Tag:      task.Tag,
		Verdict:  d.Prober.Probe(ctx, inst),
	}

	if d.Compliance == nil {
		return res
	}
	violation := d.Compliance.Check(inst, res.Verdict)
	if violation == nil {
		return res
	}
	res.Violation = violation.Reason
	logger.Error("compliance violation",
		"reason", violation.Reason, "users", res.Verdict.Users)

	if !d.EnforceCompliance {
		return res
	}
	if d.Graced != nil && d.Graced(inst.Name) {
		logger.Info("violation on graced instance, not deleting")
		return res
	}
	if d.DryRun {
		logger.Warn("dry run: would delete noncompliant instance")
		return res
	}

	if del := d.runDelete(ctx, inst); del.Status == DeleteSuccess {
		res.Reclaimed = true
	}
	return res
}
