package main

import (
	"fmt"
	"net/http"
	"os"
	"os/user"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/qiaosungithub/tpu-master/internal/daemon"
)

func newAuditCommand(app *app) *cobra.Command {
	var (
		refresh bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run one fleet audit pass (deduplicated and cached)",
		Long: `Run one full audit pass under the fleet-wide advisory lock.
Without --refresh, a cache entry younger than the cache TTL is served
instead of running a new pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wrapper := app.wrapper(!noColor)
			out, err := wrapper.Run(cmd.Context(), refresh)
			fmt.Fprint(os.Stdout, out)
			return err
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Always run a fresh pass, ignoring the cache")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable ANSI colors in the report")
	return cmd
}

func newCachedCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cached",
		Short: "Print the last audit output without taking the lock",
		Long: `Print the most recent cached audit output, whatever its age.
Fails when no audit has completed yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wrapper := app.wrapper(false)
			payload, age, err := wrapper.Cached()
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, payload)
			app.logger.Info("served cached output", "age", age.Round(time.Second))
			return nil
		},
	}
}

func newDaemonCommand(app *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Audit the fleet continuously on the configured interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var metrics *daemon.Metrics
			if metricsAddr != "" {
				metrics = daemon.NewMetrics(nil)
				go func() {
					app.logger.Info("metrics listener starting", "addr", metricsAddr)
					if err := http.ListenAndServe(metricsAddr, daemon.Handler()); err != nil {
						app.logger.Error("metrics listener failed", "error", err)
					}
				}()
			}

			d := &daemon.Daemon{
				Runner:   app.orchestrator(false),
				Interval: app.cfg.CheckInterval.Std(),
				Out:      os.Stdout,
				Metrics:  metrics,
				Logger:   app.logger.With("component", "daemon"),
			}
			return d.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func newReserveCommand(app *app) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "reserve <instance>",
		Short: "Place a temporary hold on an instance",
		Long: `Record a lease announcing that you are claiming the instance.
The lease is advisory and expires after the configured lease TTL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				current, err := user.Current()
				if err != nil {
					return fmt.Errorf("determine current user (pass --owner): %w", err)
				}
				owner = current.Username
			}

			lease, err := app.registry().Reserve(owner, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "reserved %s for %s until %s\n",
				lease.Instance, lease.Owner,
				lease.Created.Add(app.cfg.LeaseTTL.Std()).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Reservation owner (defaults to the current user)")
	return cmd
}

func newReservationsCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reservations",
		Short: "List the currently valid reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			holders, err := app.registry().Valid()
			if err != nil {
				return err
			}
			if len(holders) == 0 {
				fmt.Fprintln(os.Stdout, "no valid reservations")
				return nil
			}

			instances := make([]string, 0, len(holders))
			for instance := range holders {
				instances = append(instances, instance)
			}
			sort.Strings(instances)
			for _, instance := range instances {
				fmt.Fprintf(os.Stdout, "%s\treserved by %s\n", instance, holders[instance])
			}
			return nil
		},
	}
}
