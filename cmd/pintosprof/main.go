// Command pintosprof merges a set of pprof profile files captured from a
// stress run (spec.md §8 scenario 5: many concurrent processes pushing
// the frame table 2x over capacity) into one combined profile, in the
// spirit of the teacher's own google/pprof dependency — which the
// teacher never links into kernel code, only into build/analysis
// tooling. See internal/kstat and SPEC_FULL.md's DOMAIN STACK table.
package main

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"

	"github.com/qbaula/pintos-go/internal/kstat"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "pintosprof <profile.pb.gz>...",
		Short: "Merge captured stress-run profiles into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles := make([]*profile.Profile, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				p, err := profile.Parse(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("parse %s: %w", path, err)
				}
				profiles = append(profiles, p)
			}

			merged, err := kstat.Merge(profiles)
			if err != nil {
				return err
			}
			if err := kstat.WriteFile(merged, out); err != nil {
				return err
			}
			fmt.Printf("merged %d profiles -> %s\n", len(profiles), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "merged.pb.gz", "output path for the merged profile")
	return cmd
}
