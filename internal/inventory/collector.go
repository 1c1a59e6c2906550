package inventory

import (
	"context"
	"log/slog"

	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/logging"
)

// ZoneInventory is the classified listing of one zone.
type ZoneInventory struct {
	Zone      string
	Active    []fleet.Instance
	Preempted []fleet.Instance
	Skipped   int
}

// Collector lists one zone and splits its records into kept-active and
// preempted-for-delete sets.
type Collector struct {
	Lister fleet.Lister
	Policy Policy
	Logger *slog.Logger
}

// Collect never fails: a zone whose listing errors contributes an empty
// inventory so the other zones' results survive the pass.
func (c *Collector) Collect(ctx context.Context, zone string) ZoneInventory {
	logger := logging.Ensure(c.Logger).With("zone", zone)

	inv := ZoneInventory{Zone: zone}
	instances, err := c.Lister.List(ctx, zone)
	if err != nil {
		logger.Error("zone listing failed", "error", err)
		return inv
	}

	for _, inst := range instances {
		switch {
		case inst.State == fleet.StatePreempted:
			inv.Preempted = append(inv.Preempted, inst)
		case c.Policy.ShouldSkip(inst.Name, inst.State):
			inv.Skipped++
		default:
			inv.Active = append(inv.Active, inst)
		}
	}

	if len(inv.Active) > 0 || len(inv.Preempted) > 0 {
		logger.Info("zone inventory collected",
			"active", len(inv.Active),
			"preempted", len(inv.Preempted),
			"skipped", inv.Skipped)
	}
	return inv
}
