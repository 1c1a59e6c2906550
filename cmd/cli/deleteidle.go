package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qiaosungithub/tpu-master/internal/audit"
	"github.com/qiaosungithub/tpu-master/internal/fleet"
	"github.com/qiaosungithub/tpu-master/internal/logging"
)

// idleLinePattern matches the audit report's idle lines after color is
// stripped: [IDLE] <name> (<zone>).
var idleLinePattern = regexp.MustCompile(`\[IDLE\]\s+(\S+)\s+\(([^)]+)\)`)

// parseIdleInstances extracts idle instances from audit output whose name
// contains tpuType. Instances marked non-preemptible ("nopre") are never
// deletion candidates.
func parseIdleInstances(output, tpuType string) []fleet.Instance {
	var idle []fleet.Instance
	for _, line := range strings.Split(output, "\n") {
		m := idleLinePattern.FindStringSubmatch(logging.StripANSI(line))
		if m == nil {
			continue
		}
		name, zone := m[1], m[2]
		if strings.Contains(name, "nopre") {
			continue
		}
		if strings.Contains(name, tpuType) {
			idle = append(idle, fleet.Instance{Name: name, Zone: zone})
		}
	}
	return idle
}

// resolveTypeAlias normalizes accelerator-type shorthand ("v5-8") to the
// substring that actually appears in instance names ("v5p-8").
func resolveTypeAlias(raw string, aliases map[string]string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if full, ok := aliases[raw]; ok {
		return full
	}
	return raw
}

func newDeleteIdleCommand(app *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-idle <tpu-type>",
		Short: "Delete all idle instances of a given accelerator type",
		Long: `Obtain the current audit output (cached when fresh), select the
idle instances whose name contains the given type, and delete them in
parallel after confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpuType := resolveTypeAlias(args[0], app.cfg.TypeAliases)

			output, err := app.wrapper(false).Run(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("obtain audit output: %w", err)
			}

			idle := parseIdleInstances(output, tpuType)
			if len(idle) == 0 {
				fmt.Fprintf(os.Stdout, "no idle instances matching type %q\n", tpuType)
				return nil
			}

			fmt.Fprintf(os.Stdout, "found %d idle instance(s) matching %q:\n", len(idle), tpuType)
			for _, inst := range idle {
				fmt.Fprintf(os.Stdout, "  %s\n", inst)
			}
			if !yes && !confirm(os.Stdin, os.Stdout) {
				fmt.Fprintln(os.Stdout, "aborted")
				return nil
			}

			gcloud := app.gcloud()
			results := audit.Map(cmd.Context(), app.cfg.Workers, idle,
				func(ctx context.Context, inst fleet.Instance) error {
					return gcloud.Delete(ctx, inst.Name, inst.Zone)
				})

			deleted, failed := 0, 0
			for i, err := range results {
				if err != nil {
					failed++
					fmt.Fprintf(os.Stdout, "  failed:  %s: %v\n", idle[i], err)
					continue
				}
				deleted++
				fmt.Fprintf(os.Stdout, "  deleted: %s\n", idle[i])
			}
			fmt.Fprintf(os.Stdout, "done: %d deleted, %d failed\n", deleted, failed)
			if failed > 0 {
				return fmt.Errorf("%d delete(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Delete without asking for confirmation")
	return cmd
}

func confirm(in *os.File, out *os.File) bool {
	fmt.Fprint(out, "delete all of them? [y/N]: ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
