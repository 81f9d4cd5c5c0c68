package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/locator"
	_ "github.com/Paintersrp/tether/internal/runtime/docker"
	_ "github.com/Paintersrp/tether/internal/runtime/process"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{locator: locator.New()}

	root := &cobra.Command{
		Use:     "tether",
		Short:   "Launch a backend alongside the host and kill it on exit",
		Version: Version,
	}

	root.PersistentFlags().
		StringVarP(&ctx.configFile, "config", "c", "", fmt.Sprintf("Path to configuration file (default <install dir>/%s, or $%s)", config.DefaultFileName, config.EnvConfigPath))

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newLocateCmd(ctx))
	root.AddCommand(newHistoryCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configFile string
	locator    *locator.Locator
}

// configPath returns the configuration path and whether the caller asked for
// it explicitly.
func (c *context) configPath() (string, bool, error) {
	if c.configFile != "" {
		return c.configFile, true, nil
	}
	if value := os.Getenv(config.EnvConfigPath); value != "" {
		return value, true, nil
	}
	dir, err := c.locator.InstallDir()
	if err != nil {
		return "", false, err
	}
	return filepath.Join(dir, config.DefaultFileName), false, nil
}

func (c *context) loadConfig() (*config.Config, error) {
	path, explicit, err := c.configPath()
	if err != nil {
		return nil, err
	}
	dir, err := c.locator.InstallDir()
	if err != nil {
		return nil, err
	}
	return config.LoadOrDefault(path, dir, explicit)
}
