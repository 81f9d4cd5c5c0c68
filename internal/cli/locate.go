package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLocateCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Show where the launcher looks for its backend and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := ctx.locator.InstallDir()
			if err != nil {
				return err
			}
			cfgPath, _, err := ctx.configPath()
			if err != nil {
				return err
			}
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}

			backend := cfg.Backend.Image
			if backend == "" {
				backend, err = ctx.locator.ResolveExecutable(cfg.Backend.Path)
				if err != nil {
					return err
				}
			}
			source := cfg.Source
			if source == "" {
				source = fmt.Sprintf("%s (not found, using defaults)", cfgPath)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "install dir\t%s\n", dir)
			fmt.Fprintf(w, "config\t%s\n", source)
			fmt.Fprintf(w, "runtime\t%s\n", cfg.Backend.Runtime)
			fmt.Fprintf(w, "backend\t%s\n", backend)
			if cfg.Journal.Enabled {
				fmt.Fprintf(w, "journal\t%s\n", cfg.Journal.Path)
			}
			return w.Flush()
		},
	}
	return cmd
}
