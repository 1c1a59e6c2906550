// Package inventory collects per-zone instance records and applies the
// classification policy deciding which instances are probed, deleted or
// ignored.
package inventory

import (
	"slices"
	"strings"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
)

// TagOther is the sentinel ownership tag for instances matching no
// priority-list entry.
const TagOther = "OTHER"

// skipStates are lifecycle states excluded from the probe set. PREEMPTED is
// not here: the collector carves it out as a delete candidate instead.
var skipStates = []fleet.State{
	fleet.StateTerminated,
	fleet.StateCreating,
	fleet.StateDeleting,
	fleet.StateRepairing,
	fleet.StateStopped,
}

// Policy holds the name- and state-based classification rules.
type Policy struct {
	// ExcludedNames are exact-match single-instance exclusions.
	ExcludedNames []string
	// DevPatterns are substrings marking problematic dev machines.
	DevPatterns []string
	// GraceNames and GraceSubstrings shield instances from automatic
	// deletion; they are still probed.
	GraceNames      []string
	GraceSubstrings []string
}

// ShouldSkip reports whether a record is excluded from the probe set.
func (p Policy) ShouldSkip(name string, state fleet.State) bool {
	if slices.Contains(skipStates, state) {
		return true
	}
	if slices.Contains(p.ExcludedNames, name) {
		return true
	}
	for _, pattern := range p.DevPatterns {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// Graced reports whether the instance is shielded from automatic deletion.
func (p Policy) Graced(name string) bool {
	if slices.Contains(p.GraceNames, name) {
		return true
	}
	for _, sub := range p.GraceSubstrings {
		if sub != "" && strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// AssignTag returns the first priority-list entry that is a substring of
// name, or TagOther. Deterministic: depends only on name and list order.
func AssignTag(name string, priority []string) string {
	for _, tag := range priority {
		if tag != "" && strings.Contains(name, tag) {
			return tag
		}
	}
	return TagOther
}
