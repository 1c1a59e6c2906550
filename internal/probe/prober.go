package probe

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/logging"
)

// diagnosticCommand runs on every worker node of the probed instance. It
// locates the process holding the accelerator device; when none exists it
// reports IDLE, otherwise it resolves the owning user plus the service
// accounts reachable from that process (credential file from the process
// environment and the user's active gcloud accounts) and reports BUSY.
const diagnosticCommand = `PID=$(sudo lsof -t /dev/accel* /dev/vfio/* 2>/dev/null | head -n 1); ` +
	`if [ -z "$PID" ]; then echo "CHECK_RES:IDLE"; exit 0; fi; ` +
	`TPU_USER=$(ps -o user= -p "$PID"); ` +
	`KEY_PATH=$(sudo strings /proc/$PID/environ | grep '^GOOGLE_APPLICATION_CREDENTIALS=' | cut -d= -f2-); ` +
	`ENV_SA=''; ` +
	`if [ -n "$KEY_PATH" ] && [ -f "$KEY_PATH" ]; then ` +
	`  ENV_SA=$(grep -oP '"client_email":\s*"\K[^"]+' "$KEY_PATH" 2>/dev/null || echo ''); ` +
	`fi; ` +
	`ALL_ACTIVE=$(sudo -u "$TPU_USER" gcloud auth list --filter='status:ACTIVE' --format='value(account)'); ` +
	`ACCOUNT_COUNT=$(echo "$ALL_ACTIVE" | grep -v '^$' | wc -l); ` +
	`GCLOUD_SA=''; ` +
	`if [ "$ACCOUNT_COUNT" -eq 1 ]; then ` +
	`  GCLOUD_SA=$(echo "$ALL_ACTIVE" | head -n 1); ` +
	`fi; ` +
	`echo "CHECK_RES:BUSY|USER:$TPU_USER|ENV_SA:$ENV_SA|GCLOUD_SA:$GCLOUD_SA|GCLOUD_COUNT:$ACCOUNT_COUNT"`

// Prober issues one remote diagnostic per instance.
type Prober struct {
	Commander fleet.Commander
	Logger    *slog.Logger
}

// Probe returns exactly one verdict and never an error: every failure mode
// is downgraded to a terminal verdict so a single bad instance cannot
// abort the pass.
func (p *Prober) Probe(ctx context.Context, inst fleet.Instance) Verdict {
	logger := logging.Ensure(p.Logger).With("instance", inst.Name, "zone", inst.Zone)

	out, err := p.Commander.Run(ctx, inst.Name, inst.Zone, diagnosticCommand)
	if err != nil {
		return failureVerdict(err)
	}

	verdict := parseOutput(out)
	switch verdict.Status {
	case StatusIdle:
		logger.Info("instance is idle")
	case StatusBusy:
		logger.Info("instance is busy",
			"users", strings.Join(verdict.Users, ","),
			"accounts", strings.Join(verdict.Accounts, ","))
	default:
		logger.Warn("probe produced no usable result", "detail", verdict.Message)
	}
	return verdict
}

func failureVerdict(err error) Verdict {
	if errors.Is(err, context.DeadlineExceeded) {
		return Verdict{Status: StatusTimeout, Message: "remote connection timed out"}
	}

	var exitErr *fleet.ExitError
	if errors.As(err, &exitErr) {
		return Verdict{Status: StatusSSHFail, Message: strings.TrimSpace(exitErr.Stderr)}
	}
	return Verdict{Status: StatusError, Message: err.Error()}
}
