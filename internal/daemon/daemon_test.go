package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qiaosungithub/tpu-master/internal/audit"
	"github.com/qiaosungithub/tpu-master/internal/probe"
)

type stubRunner struct {
	runs    atomic.Int64
	summary *audit.Summary
	err     error
	cancel  context.CancelFunc
	after   int64
}

func (s *stubRunner) Run(context.Context, io.Writer) (*audit.Summary, error) {
	if s.runs.Add(1) >= s.after && s.cancel != nil {
		s.cancel()
	}
	return s.summary, s.err
}

func TestDaemonStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{summary: &audit.Summary{}, cancel: cancel, after: 3}

	d := &Daemon{
		Runner:   runner,
		Interval: time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if n := runner.runs.Load(); n < 3 {
		t.Fatalf("runner ran %d times, want >= 3", n)
	}
}

func TestDaemonSurvivesFailingPasses(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{err: errors.New("boom"), cancel: cancel, after: 2}

	d := &Daemon{
		Runner:   runner,
		Interval: time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	if runner.runs.Load() < 2 {
		t.Fatal("daemon stopped after a failing pass")
	}
}

func TestMetricsObservePass(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	summary := &audit.Summary{
		Probes: []audit.ProbeResult{
			{Verdict: probe.Verdict{Status: probe.StatusIdle}},
			{Verdict: probe.Verdict{Status: probe.StatusIdle}},
			{Verdict: probe.Verdict{Status: probe.StatusBusy}},
		},
		Deletes: []audit.DeleteResult{
			{Status: audit.DeleteSuccess},
			{Status: audit.DeleteFail},
		},
	}
	metrics.ObservePass(summary, 3*time.Second, nil)
	metrics.ObservePass(nil, time.Second, errors.New("boom"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"tpu_audit_passes_total",
		"tpu_audit_pass_duration_seconds",
		"tpu_audit_verdicts_total",
		"tpu_audit_deletes_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s not registered (have %v)", name, found)
		}
	}
}
