package reserve

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/qiaosungithub/tpu-master/internal/logging"
)

// Registry is the reservation store consulted once per audit pass.
type Registry interface {
	// Reserve records a new lease for owner on instance.
	Reserve(owner, instance string) (Lease, error)
	// Valid returns the current holder per instance name, purging stale
	// and malformed entries as it scans.
	Valid() (map[string]string, error)
}

// DirRegistry implements Registry over a shared directory. Multiple
// processes scan and clean it concurrently without any lock of their own;
// deletion races on stale entries are tolerated as no-ops.
type DirRegistry struct {
	Dir    string
	TTL    time.Duration
	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (r *DirRegistry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *DirRegistry) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultTTL
}

// Reserve materializes a lease file named after the lease itself.
func (r *DirRegistry) Reserve(owner, instance string) (Lease, error) {
	if owner == "" || instance == "" {
		return Lease{}, errors.New("reserve: owner and instance are required")
	}

	if err := os.MkdirAll(r.Dir, 0o777); err != nil {
		return Lease{}, fmt.Errorf("create lease dir: %w", err)
	}

	lease := Lease{Owner: owner, Instance: instance, Created: r.now().UTC()}
	path := filepath.Join(r.Dir, lease.Filename())
	if err := os.WriteFile(path, []byte(lease.Filename()), 0o666); err != nil {
		return Lease{}, fmt.Errorf("write lease %s: %w", path, err)
	}
	return lease, nil
}

// Valid lists the lease directory once. Unparsable entries and entries
// older than the TTL are removed best-effort and skipped. When several
// valid leases exist for one instance, the first encountered wins;
// directory iteration order carries no recency semantics.
func (r *DirRegistry) Valid() (map[string]string, error) {
	logger := logging.Ensure(r.Logger)

	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("list lease dir %s: %w", r.Dir, err)
	}

	now := r.now().UTC()
	holders := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		lease, err := ParseFilename(entry.Name())
		if err != nil {
			logger.Warn("removing malformed lease entry", "entry", entry.Name(), "error", err)
			r.remove(entry.Name())
			continue
		}

		if now.Sub(lease.Created) > r.ttl() {
			logger.Info("removing expired lease",
				"owner", lease.Owner, "instance", lease.Instance, "age", now.Sub(lease.Created))
			r.remove(entry.Name())
			continue
		}

		if _, taken := holders[lease.Instance]; !taken {
			holders[lease.Instance] = lease.Owner
		}
	}
	return holders, nil
}

// remove tolerates entries already deleted by a concurrent scan.
func (r *DirRegistry) remove(name string) {
	if err := os.Remove(filepath.Join(r.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Ensure(r.Logger).Warn("lease cleanup failed", "entry", name, "error", err)
	}
}
