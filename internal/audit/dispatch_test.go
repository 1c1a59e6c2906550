package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/probe"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubDeleter struct {
	mu      sync.Mutex
	deleted []string
	errs    map[string]error
}

func (s *stubDeleter) Delete(_ context.Context, name, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return s.errs[name]
}

func (s *stubDeleter) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type stubProber struct {
	verdicts map[string]probe.Verdict
}

func (s *stubProber) Probe(_ context.Context, inst fleet.Instance) probe.Verdict {
	if v, ok := s.verdicts[inst.Name]; ok {
		return v
	}
	return probe.Verdict{Status: probe.StatusIdle}
}

type stubCompliance struct {
	violations map[string]string
}

func (s *stubCompliance) Check(inst fleet.Instance, _ probe.Verdict) *probe.Violation {
	if reason, ok := s.violations[inst.Name]; ok {
		return &probe.Violation{Reason: reason}
	}
	return nil
}

func TestDispatcherSplitsResultsByKind(t *testing.T) {
	t.Parallel()

	deleter := &stubDeleter{errs: map[string]error{
		"dead-2": context.DeadlineExceeded,
		"dead-3": errors.New("permission denied"),
	}}
	d := &Dispatcher{
		Deleter: deleter,
		Prober: &stubProber{verdicts: map[string]probe.Verdict{
			"alive-1": {Status: probe.StatusBusy, Users: []string{"bob"}},
		}},
		Width:  4,
		Logger: discard(),
	}

	tasks := []Task{
		{Kind: TaskDelete, Instance: fleet.Instance{Name: "dead-1", Zone: "z1"}},
		{Kind: TaskDelete, Instance: fleet.Instance{Name: "dead-2", Zone: "z1"}},
		{Kind: TaskDelete, Instance: fleet.Instance{Name: "dead-3", Zone: "z2"}},
		{Kind: TaskProbe, Instance: fleet.Instance{Name: "alive-1", Zone: "z1"}, Tag: "llq"},
		{Kind: TaskProbe, Instance: fleet.Instance{Name: "alive-2", Zone: "z2"}, Tag: "OTHER"},
	}

	deletes, probes := d.Run(context.Background(), tasks)

	if len(deletes) != 3 || len(probes) != 2 {
		t.Fatalf("got %d deletes, %d probes", len(deletes), len(probes))
	}
	// Results stay in submission order within their kind.
	wantDelete := []struct {
		name   string
		status DeleteStatus
	}{
		{"dead-1", DeleteSuccess},
		{"dead-2", DeleteTimeout},
		{"dead-3", DeleteFail},
	}
	for i, want := range wantDelete {
		if deletes[i].Instance.Name != want.name || deletes[i].Status != want.status {
			t.Fatalf("deletes[%d] = %+v, want %s/%s", i, deletes[i], want.name, want.status)
		}
	}
	if probes[0].Instance.Name != "alive-1" || probes[0].Verdict.Status != probe.StatusBusy {
		t.Fatalf("probes[0] = %+v", probes[0])
	}
	if probes[1].Instance.Name != "alive-2" || probes[1].Verdict.Status != probe.StatusIdle {
		t.Fatalf("probes[1] = %+v", probes[1])
	}
}

func TestDispatcherEnforcesCompliance(t *testing.T) {
	t.Parallel()

	deleter := &stubDeleter{}
	d := &Dispatcher{
		Deleter: deleter,
		Prober: &stubProber{verdicts: map[string]probe.Verdict{
			"rogue": {Status: probe.StatusBusy, Users: []string{"mallory"}},
		}},
		Compliance:        &stubCompliance{violations: map[string]string{"rogue": "unauthorized accounts"}},
		EnforceCompliance: true,
		Width:             2,
		Logger:            discard(),
	}

	_, probes := d.Run(context.Background(), []Task{
		{Kind: TaskProbe, Instance: fleet.Instance{Name: "rogue", Zone: "z1"}},
	})

	if probes[0].Violation == "" {
		t.Fatal("violation not recorded")
	}
	if !probes[0].Reclaimed {
		t.Fatal("violation did not trigger reclamation")
	}
	if names := deleter.names(); len(names) != 1 || names[0] != "rogue" {
		t.Fatalf("deleted = %v", names)
	}
}

func TestDispatcherGraceAndDryRunBlockDeletes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		graced bool
		dryRun bool
	}{
		{"graced instance", true, false},
		{"dry run", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deleter := &stubDeleter{}
			d := &Dispatcher{
				Deleter: deleter,
				Prober: &stubProber{verdicts: map[string]probe.Verdict{
					"rogue": {Status: probe.StatusBusy, Users: []string{"mallory"}},
				}},
				Compliance:        &stubCompliance{violations: map[string]string{"rogue": "unauthorized"}},
				EnforceCompliance: true,
				DryRun:            tt.dryRun,
				Width:             1,
				Logger:            discard(),
			}
			if tt.graced {
				d.Graced = func(string) bool { return true }
			}

			_, probes := d.Run(context.Background(), []Task{
				{Kind: TaskProbe, Instance: fleet.Instance{Name: "rogue", Zone: "z1"}},
			})

			if probes[0].Violation == "" {
				t.Fatal("violation not recorded")
			}
			if probes[0].Reclaimed {
				t.Fatal("instance reclaimed despite guard")
			}
			if len(deleter.names()) != 0 {
				t.Fatalf("delete issued: %v", deleter.names())
			}
		})
	}
}
