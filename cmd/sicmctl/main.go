// Command sicmctl is an operator-facing CLI over SICM's device
// enumeration, offline profile dumps, and guidance files — a
// complement to the library's in-process API, since its runtime
// operations (alloc/free/profile/migrate) are only reachable from a
// process linking the library, not from a shell.
//
// Grounded on openshift-hypershift's cmd/ tree (the
// root-command/subcommand `github.com/spf13/cobra` layout).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanl/sicm-go/config"
	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/profile"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sicmctl",
		Short:         "Inspect SICM devices, profiling dumps, and guidance files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newGuidanceCmd())
	return cmd
}

func newDevicesCmd() *cobra.Command {
	var bench bool
	var benchSize int

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Enumerate and print the NUMA-tiered memory devices on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := device.Init()
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			defer device.Shutdown()
			for _, d := range devices.Devices {
				avail, err := d.Avail()
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tavail=<error: %v>\n", d, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tavail=%d bytes\n", d, avail)

				if !bench {
					continue
				}
				timing, err := device.Benchmark(d, benchSize)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "\tbench error: %v\n", err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\tbench(%d bytes): alloc=%dms write=%dms read=%dms free=%dms\n",
					benchSize, timing.AllocMS, timing.WriteMS, timing.ReadMS, timing.FreeMS)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&bench, "bench", false, "run a synchronous alloc/write/read/free micro-benchmark on each device")
	cmd.Flags().IntVar(&benchSize, "bench-size", 1<<20, "benchmark buffer size in bytes")
	return cmd
}

func newProfileCmd() *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect offline profiling dumps written by SH_PROFILE_OUTPUT_FILE",
	}
	profileCmd.AddCommand(newProfileDumpCmd())
	return profileCmd
}

func newProfileDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file>",
		Short: "Print a profile dump's arenas, intervals, and event subclasses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			run, err := profile.ReadProfile(f)
			if err != nil {
				return fmt.Errorf("parse profile: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d arena snapshots\n", run.ID, len(run.Snapshots))
			for _, s := range run.Snapshots {
				fmt.Fprintf(out, "  arena %d: intervals %d..%d, sites=%v\n",
					s.Arena, s.FirstInterval, s.FirstInterval+s.NumIntervals, s.Sites)
				for subclass, events := range s.Events {
					for event, rec := range events {
						fmt.Fprintf(out, "    %s/%s: total=%d peak=%d samples=%d\n",
							subclass, event, rec.Total, rec.Peak, len(rec.Intervals))
					}
				}
			}
			return nil
		},
	}
}

func newGuidanceCmd() *cobra.Command {
	guidanceCmd := &cobra.Command{
		Use:   "guidance",
		Short: "Validate SH_GUIDANCE_FILE inputs",
	}
	guidanceCmd.AddCommand(newGuidanceValidateCmd())
	return guidanceCmd
}

func newGuidanceValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a guidance file and report its site-to-node assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := config.LoadGuidance(args[0])
			if err != nil {
				return fmt.Errorf("parse guidance: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d site assignments\n", len(g.SiteNode))
			for site, node := range g.SiteNode {
				fmt.Fprintf(cmd.OutOrStdout(), "  site %d -> node %d\n", site, node)
			}
			return nil
		},
	}
}
