package fleet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/qiaosungithub/tpu-master/internal/logging"
)

const (
	DefaultListTimeout   = 60 * time.Second
	DefaultProbeTimeout  = 40 * time.Second
	DefaultDeleteTimeout = 120 * time.Second
)

// GCloud drives the fleet through the gcloud CLI. It implements Lister,
// Deleter and Commander. Every call carries its own timeout so a slow zone
// or node never stalls a sibling task.
type GCloud struct {
	Logger *slog.Logger

	// Binary overrides the gcloud executable, used by tests.
	Binary string

	ListTimeout   time.Duration
	DeleteTimeout time.Duration
	ProbeTimeout  time.Duration
}

func (g *GCloud) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "gcloud"
}

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// List returns the instances of one zone, parsed from tab-separated
// "name<TAB>state" records.
func (g *GCloud) List(ctx context.Context, zone string) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(g.ListTimeout, DefaultListTimeout))
	defer cancel()

	out, err := g.run(ctx,
		"compute", "tpus", "tpu-vm", "list",
		"--zone", zone,
		"--format=value(name,state)",
	)
	if err != nil {
		return nil, fmt.Errorf("list zone %s: %w", zone, err)
	}
	return ParseListOutput(zone, out), nil
}

// ParseListOutput converts the listing operation's raw output into instance
// records. Malformed lines are dropped; names arrive as full resource paths
// and are reduced to their last segment.
func ParseListOutput(zone, out string) []Instance {
	var instances []Instance
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		name = name[strings.LastIndex(name, "/")+1:]
		instances = append(instances, Instance{
			Name:  name,
			Zone:  zone,
			State: State(strings.TrimSpace(parts[1])),
		})
	}
	return instances
}

// Delete removes one instance. Fire-and-forget: success means gcloud
// accepted the request, not that the instance is gone.
func (g *GCloud) Delete(ctx context.Context, name, zone string) error {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(g.DeleteTimeout, DefaultDeleteTimeout))
	defer cancel()

	_, err := g.run(ctx,
		"compute", "tpus", "tpu-vm", "delete", name,
		"--zone", zone,
		"--quiet",
	)
	if err != nil {
		return fmt.Errorf("delete %s (%s): %w", name, zone, err)
	}
	return nil
}

// Run executes a remote command across all worker nodes of an instance and
// returns the combined stdout, one or more lines per worker.
func (g *GCloud) Run(ctx context.Context, name, zone, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(g.ProbeTimeout, DefaultProbeTimeout))
	defer cancel()

	return g.run(ctx,
		"compute", "tpus", "tpu-vm", "ssh", name,
		"--zone", zone,
		"--worker=all",
		"--ssh-flag=-n",
		"--command", command,
	)
}

func (g *GCloud) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if ctx.Err() != nil {
		return stdout.String(), ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logging.Ensure(g.Logger).Debug("gcloud exited non-zero",
			"args", strings.Join(args, " "), "code", exitErr.ExitCode())
		return stdout.String(), &ExitError{
			Code:   exitErr.ExitCode(),
			Stderr: stderr.String(),
		}
	}
	return stdout.String(), err
}
