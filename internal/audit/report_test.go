package audit

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/logging"
	"github.com/qiaosungithub/tpu-master/internal/probe"
)

// Downstream tooling selects deletion candidates with this pattern after
// stripping color, so colorized reports must stay machine-parseable.
var idleLine = regexp.MustCompile(`\[IDLE\]\s+(\S+)\s+\(([^)]+)\)`)

func TestColorizedReportRemainsParseable(t *testing.T) {
	t.Parallel()

	summary := buildSummary("test", []string{"llq"}, []ProbeResult{
		{
			Instance: fleet.Instance{Name: "kmh-tpuvm-llq-7", Zone: "us-central1-a"},
			Tag:      "llq",
			Verdict:  probe.Verdict{Status: probe.StatusIdle},
		},
	}, nil)

	var out bytes.Buffer
	if err := (Report{Color: true}.Write(&out, summary)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	colored := out.String()
	if !strings.Contains(colored, "\033[") {
		t.Fatal("colorized report contains no ANSI sequences")
	}

	var name, zone string
	for _, line := range strings.Split(logging.StripANSI(colored), "\n") {
		if m := idleLine.FindStringSubmatch(line); m != nil {
			name, zone = m[1], m[2]
		}
	}
	if name != "kmh-tpuvm-llq-7" || zone != "us-central1-a" {
		t.Fatalf("parsed %q/%q from colorized report:\n%s", name, zone, colored)
	}
}

func TestReportFailureLines(t *testing.T) {
	t.Parallel()

	summary := buildSummary("test", nil, []ProbeResult{
		{
			Instance: fleet.Instance{Name: "vm-a", Zone: "z1"},
			Tag:      "OTHER",
			Verdict:  probe.Verdict{Status: probe.StatusSSHFail, Message: "connection refused"},
		},
		{
			Instance: fleet.Instance{Name: "vm-b", Zone: "z1"},
			Tag:      "OTHER",
			Verdict:  probe.Verdict{Status: probe.StatusTimeout, Message: "remote connection timed out"},
		},
	}, nil)

	if summary.Tags[0].Bad != 2 {
		t.Fatalf("bad count = %d, want 2", summary.Tags[0].Bad)
	}

	var out bytes.Buffer
	if err := (Report{}.Write(&out, summary)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	report := out.String()
	for _, want := range []string{
		"[OTHER] total 2, idle 0, busy 0, bad 2",
		"[SSH_FAIL] vm-a: connection refused",
		"[TIMEOUT] vm-b",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	// No deletes ran, so no delete summary line.
	if strings.Contains(report, "deleted,") {
		t.Fatalf("unexpected delete summary:\n%s", report)
	}
}
