package wrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultCacheTTL is the freshness window of a cached pass.
const DefaultCacheTTL = 5 * time.Minute

// ErrNoCache reports that no usable cache entry exists. Malformed content
// is deliberately indistinguishable from a missing file: both force a
// fresh pass.
var ErrNoCache = errors.New("no cached audit output")

// Entry is one cached pass: the completion time and the captured output,
// byte for byte.
type Entry struct {
	Written time.Time
	Payload string
}

// Cache stores the most recent pass's output in a single file: line one is
// the decimal epoch timestamp, the remainder is the payload.
type Cache struct {
	Path string
	TTL  time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultCacheTTL
}

// Read returns the current entry, or ErrNoCache when the file is missing
// or malformed. Stale entries are returned as-is: freshness is the
// caller's question, answered by Age and Fresh.
func (c *Cache) Read() (Entry, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, ErrNoCache
		}
		return Entry{}, fmt.Errorf("read cache %s: %w", c.Path, err)
	}

	header, payload, _ := strings.Cut(string(data), "\n")
	// The original wrapper wrote fractional epoch seconds; accept both.
	seconds, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil {
		return Entry{}, ErrNoCache
	}

	return Entry{
		Written: time.Unix(int64(seconds), 0),
		Payload: payload,
	}, nil
}

// Age reports how long ago the entry was written.
func (c *Cache) Age(e Entry) time.Duration {
	return c.now().Sub(e.Written)
}

// Fresh reports whether the entry is inside the TTL window. A stale entry
// is never deleted, merely reported stale.
func (c *Cache) Fresh(e Entry) bool {
	return c.Age(e) < c.ttl()
}

// Write atomically overwrites the cache with the given payload stamped at
// the current time. Concurrent readers see either the old entry or the
// new one, never a torn write.
func (c *Cache) Write(payload string) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o777); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".cache-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	content := strconv.FormatInt(c.now().Unix(), 10) + "\n" + payload
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("replace cache %s: %w", c.Path, err)
	}
	return nil
}
