// Package daemon runs the audit pass on a fixed interval and exports
// pass-level metrics.
package daemon

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/qiaosungithub/tpu-master/internal/audit"
	"github.com/qiaosungithub/tpu-master/internal/logging"
)

// Runner executes one audit pass. Satisfied by *audit.Orchestrator.
type Runner interface {
	Run(ctx context.Context, out io.Writer) (*audit.Summary, error)
}

// Daemon repeats audit passes every Interval. A pass that overruns the
// interval is an operator error worth shouting about: the next pass
// starts immediately and the log tells them to widen the interval or the
// worker pool.
type Daemon struct {
	Runner   Runner
	Interval time.Duration
	Out      io.Writer
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Run loops until ctx is cancelled. The in-flight pass always completes;
// cancellation is only observed between passes.
func (d *Daemon) Run(ctx context.Context) error {
	logger := logging.Ensure(d.Logger)
	out := d.Out
	if out == nil {
		out = io.Discard
	}

	for {
		started := time.Now()
		summary, err := d.Runner.Run(ctx, out)
		elapsed := time.Since(started)
		if err != nil {
			logger.Error("audit pass failed", "error", err)
		}
		if d.Metrics != nil {
			d.Metrics.ObservePass(summary, elapsed, err)
		}

		if elapsed > d.Interval {
			logger.Error("audit pass overran the check interval",
				"elapsed", elapsed.Round(time.Second), "interval", d.Interval)
			logger.Error("increase check_interval or workers so a pass fits the interval")
		} else {
			wait := d.Interval - elapsed
			logger.Info("audit pass complete, sleeping",
				"elapsed", elapsed.Round(time.Second), "wait", wait.Round(time.Second))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
