package audit

import (
	"fmt"
	"io"
	"strings"

	"github.com/qiaosungithub/tpu-master/internal/inventory"
	"github.com/qiaosungithub/tpu-master/internal/logging"
	"github.com/qiaosungithub/tpu-master/internal/probe"
)

// TagCount is the per-ownership-tag verdict tally.
type TagCount struct {
	Tag   string
	Total int
	Idle  int
	Busy  int
	// Bad counts SSH_FAIL, TIMEOUT and ERROR verdicts.
	Bad int
}

// Summary is the complete outcome of one audit pass.
type Summary struct {
	Pass string

	Tags  []TagCount
	Total int
	Idle  int

	// Probes is ordered by tag group (priority order, OTHER last), and by
	// submission order within a group.
	Probes  []ProbeResult
	Deletes []DeleteResult

	DeleteSuccess int
	DeleteFailed  int
}

// ByStatus tallies probe verdicts per status, for metrics export.
func (s *Summary) ByStatus() map[probe.Status]int {
	counts := make(map[probe.Status]int)
	for _, pr := range s.Probes {
		counts[pr.Verdict.Status]++
	}
	return counts
}

// buildSummary groups probe results by tag in deterministic priority
// order, OTHER appended last and only when non-empty.
func buildSummary(pass string, priority []string, probes []ProbeResult, deletes []DeleteResult) *Summary {
	summary := &Summary{Pass: pass, Deletes: deletes}

	grouped := make(map[string][]ProbeResult)
	for _, pr := range probes {
		grouped[pr.Tag] = append(grouped[pr.Tag], pr)
	}

	order := make([]string, 0, len(priority)+1)
	order = append(order, priority...)
	order = append(order, inventory.TagOther)

	for _, tag := range order {
		group := grouped[tag]
		if len(group) == 0 {
			continue
		}
		count := TagCount{Tag: tag, Total: len(group)}
		for _, pr := range group {
			switch pr.Verdict.Status {
			case probe.StatusIdle:
				count.Idle++
			case probe.StatusBusy:
				count.Busy++
			default:
				count.Bad++
			}
		}
		summary.Tags = append(summary.Tags, count)
		summary.Probes = append(summary.Probes, group...)
		summary.Total += count.Total
		summary.Idle += count.Idle
	}

	for _, del := range deletes {
		if del.Status == DeleteSuccess {
			summary.DeleteSuccess++
		} else {
			summary.DeleteFailed++
		}
	}
	return summary
}

// Report renders a summary as the textual contract consumed by companion
// tooling: `[STATUS] name` lines, zone in parentheses for IDLE and BUSY.
// Color wraps only the bracketed tag so downstream regex filters keep
// matching after logging.StripANSI.
type Report struct {
	Color bool
}

func (r Report) tag(s string) string {
	if r.Color {
		return logging.ColorTag(s)
	}
	return s
}

// Write emits the per-tag counts, the aggregate line, the per-instance
// lines in group order, and the delete summary when any delete task ran.
func (r Report) Write(w io.Writer, s *Summary) error {
	var b strings.Builder

	b.WriteString("==== audit summary ====\n")
	for _, count := range s.Tags {
		fmt.Fprintf(&b, "[%s] total %d, idle %d, busy %d, bad %d\n",
			count.Tag, count.Total, count.Idle, count.Busy, count.Bad)
	}
	fmt.Fprintf(&b, "[ALL] total %d, idle %d\n", s.Total, s.Idle)

	for _, pr := range s.Probes {
		b.WriteString(r.probeLine(pr))
		b.WriteByte('\n')
	}

	for _, del := range s.Deletes {
		fmt.Fprintf(&b, "%s %s (%s) %s", r.tag("[DELETE]"), del.Instance.Name, del.Instance.Zone, del.Status)
		if del.Reason != "" {
			fmt.Fprintf(&b, ": %s", del.Reason)
		}
		b.WriteByte('\n')
	}
	if len(s.Deletes) > 0 {
		fmt.Fprintf(&b, "%d deleted, %d failed\n", s.DeleteSuccess, s.DeleteFailed)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r Report) probeLine(pr ProbeResult) string {
	var b strings.Builder
	tag := fmt.Sprintf("[%s]", pr.Verdict.Status)

	switch pr.Verdict.Status {
	case probe.StatusIdle:
		fmt.Fprintf(&b, "%s %s (%s)", r.tag(tag), pr.Instance.Name, pr.Instance.Zone)
		if pr.ReservedBy != "" {
			fmt.Fprintf(&b, " reserved by %s", pr.ReservedBy)
		}
	case probe.StatusBusy:
		fmt.Fprintf(&b, "%s %s (%s) users=%s",
			r.tag(tag), pr.Instance.Name, pr.Instance.Zone, strings.Join(pr.Verdict.Users, ","))
		if pr.Violation != "" {
			fmt.Fprintf(&b, " VIOLATION: %s", pr.Violation)
			if pr.Reclaimed {
				b.WriteString(" (reclaimed)")
			}
		}
	default:
		fmt.Fprintf(&b, "%s %s", r.tag(tag), pr.Instance.Name)
		if pr.Verdict.Message != "" {
			fmt.Fprintf(&b, ": %s", pr.Verdict.Message)
		}
	}
	return b.String()
}
