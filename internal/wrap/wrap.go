package wrap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/qiaosungithub/tpu-master/internal/logging"
)

// Pass runs one full audit pass, writing its report to out.
type Pass func(ctx context.Context, out io.Writer) error

// Wrapper collapses concurrent audit invocations into one expensive pass.
// It is the only entry point external callers use: the lock serializes all
// fleet-wide audits and the cache absorbs redundant requests.
type Wrapper struct {
	Lock   Lock
	Cache  *Cache
	Pass   Pass
	Logger *slog.Logger
}

// Run acquires the advisory lock, then either serves a fresh cache entry
// (refresh=false) or executes one pass and overwrites the cache. The pass
// error is returned alongside its captured output; the cache is updated
// even for a failed pass, matching the exit-status mirroring contract.
func (w *Wrapper) Run(ctx context.Context, refresh bool) (string, error) {
	logger := logging.Ensure(w.Logger)

	logger.Info("acquiring audit lock")
	release, err := w.Lock.Acquire()
	if err != nil {
		return "", err
	}
	defer release()
	logger.Info("audit lock acquired")

	if !refresh {
		if entry, err := w.Cache.Read(); err == nil && w.Cache.Fresh(entry) {
			logger.Info("serving cached audit output",
				"age", w.Cache.Age(entry).Round(time.Second))
			return entry.Payload, nil
		}
	}

	var buf bytes.Buffer
	passErr := w.Pass(ctx, &buf)

	if err := w.Cache.Write(buf.String()); err != nil {
		logger.Warn("failed to write audit cache", "error", err)
	}
	return buf.String(), passErr
}

// Cached serves the last known output without taking the lock. No
// freshness guarantee: the entry's age is returned for the caller to
// report. Fails hard when no cache exists yet.
func (w *Wrapper) Cached() (string, time.Duration, error) {
	entry, err := w.Cache.Read()
	if err != nil {
		return "", 0, err
	}
	return entry.Payload, w.Cache.Age(entry), nil
}
