package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/qiaosungithub/tpu-master/internal/audit"
	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/inventory"
	"github.com/qiaosungithub/tpu-master/internal/probe"
	"github.com/qiaosungithub/tpu-master/internal/reserve"
	"github.com/qiaosungithub/tpu-master/internal/setup"
	"github.com/qiaosungithub/tpu-master/internal/wrap"
)

// app wires the engine components from the loaded configuration.
type app struct {
	cfg    setup.Config
	logger *slog.Logger
}

func (a *app) gcloud() *fleet.GCloud {
	return &fleet.GCloud{
		Logger:        a.logger.With("component", "gcloud"),
		ListTimeout:   a.cfg.ListTimeout.Std(),
		DeleteTimeout: a.cfg.DeleteTimeout.Std(),
		ProbeTimeout:  a.cfg.ProbeTimeout.Std(),
	}
}

func (a *app) policy() inventory.Policy {
	return inventory.Policy{
		ExcludedNames:   a.cfg.ExcludedNames,
		DevPatterns:     a.cfg.DevPatterns,
		GraceNames:      a.cfg.GraceNames,
		GraceSubstrings: a.cfg.GraceSubstrings,
	}
}

func (a *app) registry() *reserve.DirRegistry {
	return &reserve.DirRegistry{
		Dir:    a.cfg.LeaseDir,
		TTL:    a.cfg.LeaseTTL.Std(),
		Logger: a.logger.With("component", "reserve"),
	}
}

func (a *app) orchestrator(color bool) *audit.Orchestrator {
	gcloud := a.gcloud()
	policy := a.policy()

	var compliance probe.CompliancePolicy
	if len(a.cfg.RegionServiceAccounts) > 0 {
		compliance = &probe.AccountPolicy{
			DefaultAccount: a.cfg.DefaultServiceAccount,
			RegionAccounts: a.cfg.RegionServiceAccounts,
		}
	}

	return &audit.Orchestrator{
		Collector: &inventory.Collector{
			Lister: gcloud,
			Policy: policy,
			Logger: a.logger.With("component", "inventory"),
		},
		Dispatcher: &audit.Dispatcher{
			Deleter: gcloud,
			Prober: &probe.Prober{
				Commander: gcloud,
				Logger:    a.logger.With("component", "probe"),
			},
			Compliance:        compliance,
			Graced:            policy.Graced,
			EnforceCompliance: a.cfg.EnforceCompliance,
			DryRun:            a.cfg.DryRun,
			Width:             a.cfg.Workers,
			Logger:            a.logger.With("component", "dispatch"),
		},
		Registry:    a.registry(),
		Zones:       a.cfg.Zones,
		TagPriority: a.cfg.TagPriority,
		Workers:     a.cfg.Workers,
		Options: audit.Options{
			ReclaimPreempted:  a.cfg.ReclaimPreempted,
			HonorReservations: a.cfg.HonorReservations,
		},
		Report: audit.Report{Color: color},
		Logger: a.logger.With("component", "audit"),
	}
}

func (a *app) wrapper(color bool) *wrap.Wrapper {
	orch := a.orchestrator(color)
	return &wrap.Wrapper{
		Lock:  &wrap.FileLock{Path: a.cfg.LockPath},
		Cache: &wrap.Cache{Path: a.cfg.CachePath, TTL: a.cfg.CacheTTL.Std()},
		Pass: func(ctx context.Context, out io.Writer) error {
			_, err := orch.Run(ctx, out)
			return err
		},
		Logger: a.logger.With("component", "wrap"),
	}
}
