// Package reserve manages time-boxed reservation leases encoded as files
// in a shared directory. The directory doubles as a primitive coordination
// substrate: every audit pass scans it and purges stale or malformed
// entries as a side effect.
package reserve

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the UTC timestamp embedded in lease filenames. No spaces,
// underscores only, so the whole filename stays a single shell token.
const TimeLayout = "2006-01-02_15-04-05"

// DefaultTTL is the validity window of a lease.
const DefaultTTL = 30 * time.Minute

// Lease is one reservation: owner holds instance since Created (UTC).
type Lease struct {
	Owner    string
	Instance string
	Created  time.Time
}

// Filename encodes the lease as {owner}_{instance}_{YYYY-MM-DD_HH-MM-SS}.
func (l Lease) Filename() string {
	return fmt.Sprintf("%s_%s_%s", l.Owner, l.Instance, l.Created.UTC().Format(TimeLayout))
}

// ParseFilename recovers a lease from its filename. The instance name may
// itself contain underscores: the first token is the owner, the last two
// are the date and time, everything between is the instance.
func ParseFilename(name string) (Lease, error) {
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return Lease{}, fmt.Errorf("lease filename %q: too few fields", name)
	}

	created, err := time.ParseInLocation(TimeLayout, parts[len(parts)-2]+"_"+parts[len(parts)-1], time.UTC)
	if err != nil {
		return Lease{}, fmt.Errorf("lease filename %q: bad timestamp: %w", name, err)
	}

	lease := Lease{
		Owner:    parts[0],
		Instance: strings.Join(parts[1:len(parts)-2], "_"),
		Created:  created,
	}
	if lease.Owner == "" || lease.Instance == "" {
		return Lease{}, fmt.Errorf("lease filename %q: empty owner or instance", name)
	}
	return lease, nil
}
