package wrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_770_000_000, 0)
	cache := &Cache{
		Path: filepath.Join(t.TempDir(), "cache"),
		TTL:  5 * time.Minute,
		Now:  func() time.Time { return now },
	}

	if err := cache.Write("X"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entry, err := cache.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if entry.Payload != "X" {
		t.Fatalf("payload = %q, want X", entry.Payload)
	}

	// Before t+300s the entry is fresh with age < TTL.
	now = now.Add(4 * time.Minute)
	if !cache.Fresh(entry) {
		t.Fatal("entry stale before TTL")
	}
	if cache.Age(entry) >= 5*time.Minute {
		t.Fatalf("age = %v", cache.Age(entry))
	}

	// After t+300s it must not pass as fresh, but is still readable.
	now = now.Add(2 * time.Minute)
	if cache.Fresh(entry) {
		t.Fatal("entry fresh after TTL")
	}
	if _, err := cache.Read(); err != nil {
		t.Fatalf("stale entry unreadable: %v", err)
	}
}

func TestCachePayloadPreservedByteForByte(t *testing.T) {
	t.Parallel()

	cache := &Cache{Path: filepath.Join(t.TempDir(), "cache")}
	payload := "line1\n\nline3 with trailing space \n\ttabbed\n"
	if err := cache.Write(payload); err != nil {
		t.Fatal(err)
	}
	entry, err := cache.Read()
	if err != nil {
		t.Fatal(err)
	}
	if entry.Payload != payload {
		t.Fatalf("payload = %q, want %q", entry.Payload, payload)
	}
}

func TestCacheMalformedIsMiss(t *testing.T) {
	t.Parallel()

	cache := &Cache{Path: filepath.Join(t.TempDir(), "cache")}
	if err := os.WriteFile(cache.Path, []byte("not a timestamp\npayload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Read(); !errors.Is(err, ErrNoCache) {
		t.Fatalf("Read() error = %v, want ErrNoCache", err)
	}
}

func TestCacheAcceptsFractionalTimestamp(t *testing.T) {
	t.Parallel()

	cache := &Cache{Path: filepath.Join(t.TempDir(), "cache")}
	if err := os.WriteFile(cache.Path, []byte("1770000000.25\nold output"), 0o644); err != nil {
		t.Fatal(err)
	}
	entry, err := cache.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if entry.Payload != "old output" {
		t.Fatalf("payload = %q", entry.Payload)
	}
	if entry.Written.Unix() != 1_770_000_000 {
		t.Fatalf("written = %v", entry.Written)
	}
}

func newWrapper(t *testing.T, pass Pass) *Wrapper {
	t.Helper()
	dir := t.TempDir()
	return &Wrapper{
		Lock:   &FileLock{Path: filepath.Join(dir, "lock")},
		Cache:  &Cache{Path: filepath.Join(dir, "cache"), TTL: 5 * time.Minute},
		Pass:   pass,
		Logger: discard(),
	}
}

func TestRunRefreshAlwaysExecutesPass(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	w := newWrapper(t, func(_ context.Context, out io.Writer) error {
		fmt.Fprintf(out, "pass %d", runs.Add(1))
		return nil
	})

	for i := 1; i <= 2; i++ {
		out, err := w.Run(context.Background(), true)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if want := fmt.Sprintf("pass %d", i); out != want {
			t.Fatalf("out = %q, want %q", out, want)
		}
	}
}

func TestRunServesFreshCache(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	w := newWrapper(t, func(_ context.Context, out io.Writer) error {
		runs.Add(1)
		io.WriteString(out, "expensive output")
		return nil
	})

	first, err := w.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if first != "expensive output" || second != "expensive output" {
		t.Fatalf("outputs = %q, %q", first, second)
	}
	if n := runs.Load(); n != 1 {
		t.Fatalf("pass ran %d times, want 1", n)
	}
}

func TestRunFailedPassStillCaches(t *testing.T) {
	t.Parallel()

	passErr := errors.New("zone listing exploded")
	w := newWrapper(t, func(_ context.Context, out io.Writer) error {
		io.WriteString(out, "partial summary")
		return passErr
	})

	out, err := w.Run(context.Background(), true)
	if !errors.Is(err, passErr) {
		t.Fatalf("Run() error = %v, want pass error", err)
	}
	if out != "partial summary" {
		t.Fatalf("out = %q", out)
	}

	cached, _, err := w.Cached()
	if err != nil {
		t.Fatalf("Cached() error = %v", err)
	}
	if cached != "partial summary" {
		t.Fatalf("cached = %q", cached)
	}
}

func TestCachedWithoutCacheFailsHard(t *testing.T) {
	t.Parallel()

	w := newWrapper(t, func(context.Context, io.Writer) error { return nil })
	if _, _, err := w.Cached(); !errors.Is(err, ErrNoCache) {
		t.Fatalf("Cached() error = %v, want ErrNoCache", err)
	}
}

// Two concurrent refresh invocations must never overlap their passes.
func TestRunSerializesConcurrentPasses(t *testing.T) {
	t.Parallel()

	var inPass, overlaps atomic.Int64
	w := newWrapper(t, func(_ context.Context, out io.Writer) error {
		if inPass.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		inPass.Add(-1)
		io.WriteString(out, "ok")
		return nil
	})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Run(context.Background(), true); err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("observed %d overlapping passes", n)
	}
}
