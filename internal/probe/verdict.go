// Package probe issues the remote occupancy diagnostic against an instance
// and turns its per-worker output into a single verdict.
package probe

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Status classifies one probed instance. Exactly one status is produced
// per instance per pass; the failure statuses are terminal for the pass.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusBusy    Status = "BUSY"
	StatusSSHFail Status = "SSH_FAIL"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

// Verdict is the outcome of probing one instance.
type Verdict struct {
	Status Status
	// Users is the sorted union of local users holding the accelerator
	// across all worker nodes.
	Users []string
	// Accounts is the sorted union of service accounts observed on the
	// occupying processes (credential files and active gcloud accounts).
	Accounts []string
	// MaxActiveAccounts is the highest per-worker count of simultaneously
	// active gcloud accounts.
	MaxActiveAccounts int
	// Message carries human-readable detail for failures.
	Message string
}

// resultMarker prefixes every diagnostic result line emitted by the remote
// command, one line per worker node.
const resultMarker = "CHECK_RES:"

// parseOutput folds the per-worker result lines into one verdict. Any
// worker reporting BUSY makes the whole instance BUSY; users and accounts
// are unioned across workers. Output with no marker on any line is ERROR.
func parseOutput(out string) Verdict {
	var (
		markers  int
		busy     int
		users    = map[string]struct{}{}
		accounts = map[string]struct{}{}
		maxCount int
	)

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		idx := strings.Index(line, resultMarker)
		if idx < 0 {
			continue
		}
		markers++

		payload := strings.TrimSpace(line[idx+len(resultMarker):])
		if payload == "IDLE" {
			continue
		}
		busy++

		for _, field := range strings.Split(payload, "|") {
			key, value, ok := strings.Cut(field, ":")
			if !ok || value == "" {
				continue
			}
			switch key {
			case "USER":
				users[value] = struct{}{}
			case "ENV_SA", "GCLOUD_SA":
				accounts[value] = struct{}{}
			case "GCLOUD_COUNT":
				if n, err := strconv.Atoi(value); err == nil && n > maxCount {
					maxCount = n
				}
			}
		}
	}

	if markers == 0 {
		return Verdict{
			Status:  StatusError,
			Message: fmt.Sprintf("no result marker in output: %s", strings.TrimSpace(out)),
		}
	}
	if busy == 0 {
		return Verdict{Status: StatusIdle}
	}
	return Verdict{
		Status:            StatusBusy,
		Users:             sortedKeys(users),
		Accounts:          sortedKeys(accounts),
		MaxActiveAccounts: maxCount,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
