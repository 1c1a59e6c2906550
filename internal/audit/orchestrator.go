package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/inventory"
	"github.com/qiaosungithub/tpu-master/internal/logging"
	"github.com/qiaosungithub/tpu-master/internal/probe"
	"github.com/qiaosungithub/tpu-master/internal/reserve"
)

// Options are the feature switches of a pass.
type Options struct {
	// ReclaimPreempted turns preempted records into delete tasks.
	ReclaimPreempted bool
	// HonorReservations annotates idle instances with their lease holder.
	HonorReservations bool
}

// Orchestrator runs one full audit pass: list, classify, dispatch,
// reconcile against reservations, summarize by ownership tag.
type Orchestrator struct {
	Collector  *inventory.Collector
	Dispatcher *Dispatcher
	Registry   reserve.Registry

	Zones       []string
	TagPriority []string
	Workers     int
	Options     Options

	Report Report
	Logger *slog.Logger
}

// Run executes the pass and writes the report to out. Instance- and
// zone-scoped failures surface only as data in the summary; Run itself
// fails only on malformed wiring.
func (o *Orchestrator) Run(ctx context.Context, out io.Writer) (*Summary, error) {
	if o.Collector == nil || o.Dispatcher == nil {
		return nil, fmt.Errorf("orchestrator: collector and dispatcher are required")
	}

	pass := uuid.NewString()[:8]
	logger := logging.Ensure(o.Logger).With("pass", pass)
	started := time.Now()
	logger.Info("audit pass started", "zones", len(o.Zones))

	inventories := Map(ctx, o.Workers, o.Zones, o.Collector.Collect)

	var active, preempted []fleet.Instance
	for _, inv := range inventories {
		active = append(active, inv.Active...)
		preempted = append(preempted, inv.Preempted...)
	}

	if len(active) == 0 && len(preempted) == 0 {
		logger.Info("no instances found in any zone")
		fmt.Fprintln(out, "no instances found in any zone")
		return &Summary{Pass: pass}, nil
	}

	var tasks []Task
	if o.Options.ReclaimPreempted {
		for _, inst := range preempted {
			tasks = append(tasks, Task{Kind: TaskDelete, Instance: inst})
		}
	}
	for _, inst := range active {
		tasks = append(tasks, Task{
			Kind:     TaskProbe,
			Instance: inst,
			Tag:      inventory.AssignTag(inst.Name, o.TagPriority),
		})
	}

	deletes, probes := o.Dispatcher.Run(ctx, tasks)

	o.annotateReservations(logger, probes)

	summary := buildSummary(pass, o.TagPriority, probes, deletes)
	logger.Info("audit pass finished",
		"duration", time.Since(started),
		"total", summary.Total,
		"idle", summary.Idle,
		"deleted", summary.DeleteSuccess,
		"delete_failed", summary.DeleteFailed)

	if err := o.Report.Write(out, summary); err != nil {
		return summary, fmt.Errorf("write report: %w", err)
	}
	return summary, nil
}

// annotateReservations consults the registry once per pass and marks idle
// instances held by a valid lease. Advisory only: the verdict stays IDLE
// and nothing is blocked. A registry failure means no reservations this
// pass.
func (o *Orchestrator) annotateReservations(logger *slog.Logger, probes []ProbeResult) {
	if !o.Options.HonorReservations || o.Registry == nil {
		return
	}

	holders, err := o.Registry.Valid()
	if err != nil {
		logger.Warn("reservation registry unavailable, assuming no reservations", "error", err)
		return
	}

	for i := range probes {
		if probes[i].Verdict.Status != probe.StatusIdle {
			continue
		}
		if owner, ok := holders[probes[i].Instance.Name]; ok {
			probes[i].ReservedBy = owner
			logger.Info("idle instance is reserved",
				"instance", probes[i].Instance.Name, "owner", owner)
		}
	}
}
