package probe

import (
	"fmt"
	"slices"
	"strings"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
)

// Violation describes why a busy instance fails the compliance policy.
type Violation struct {
	Reason string
}

// CompliancePolicy decides whether a busy instance is authorized. The
// concrete authorization rules are policy, not engine: swap the
// implementation to change them.
type CompliancePolicy interface {
	Check(inst fleet.Instance, verdict Verdict) *Violation
}

// AccountPolicy authorizes occupancy by service account: every account
// observed on the instance must be the fleet-wide default or the account
// assigned to the instance's region.
type AccountPolicy struct {
	DefaultAccount string
	// RegionAccounts maps region -> authorized account. Regions missing
	// from the map have no policy and are never flagged.
	RegionAccounts map[string]string
}

func (p *AccountPolicy) Check(inst fleet.Instance, verdict Verdict) *Violation {
	if verdict.Status != StatusBusy {
		return nil
	}

	expected, ok := p.RegionAccounts[fleet.Region(inst.Zone)]
	if !ok {
		return nil
	}

	if len(verdict.Accounts) == 0 {
		return &Violation{Reason: "no credentials detected on occupying process"}
	}
	if verdict.MaxActiveAccounts > 1 {
		return &Violation{Reason: fmt.Sprintf("multiple active gcloud accounts (max %d)", verdict.MaxActiveAccounts)}
	}

	var unauthorized []string
	for _, account := range verdict.Accounts {
		if account != p.DefaultAccount && account != expected {
			unauthorized = append(unauthorized, account)
		}
	}
	if len(unauthorized) > 0 {
		slices.Sort(unauthorized)
		return &Violation{Reason: fmt.Sprintf("unauthorized accounts: %s", strings.Join(unauthorized, ","))}
	}
	return nil
}
