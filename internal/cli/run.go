package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/tether/internal/api"
	httpapi "github.com/Paintersrp/tether/internal/api/http"
	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/host"
	"github.com/Paintersrp/tether/internal/journal"
	"github.com/Paintersrp/tether/internal/launcher"
	"github.com/Paintersrp/tether/internal/logging"
	"github.com/Paintersrp/tether/internal/metrics"
	"github.com/Paintersrp/tether/internal/notify"
	"github.com/Paintersrp/tether/internal/runtime"
	"github.com/Paintersrp/tether/internal/supervisor"
)

const (
	hostAuto     = "auto"
	hostHeadless = "headless"
	hostTUI      = "tui"

	tuiLogFile = "logs/tether.log"
)

func newRunCmd(ctx *context) *cobra.Command {
	var (
		hostMode    string
		backendPath string
		apiAddr     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and supervise the backend until it exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolveHostMode(hostMode, supportsInteractiveOutput(cmd))
			if err != nil {
				return err
			}

			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if backendPath != "" {
				cfg.Backend.Path = backendPath
			}
			if cmd.Flags().Changed("api") {
				cfg.API.Addr = apiAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(hostLogging(cfg, mode), Version)
			if err != nil {
				return err
			}
			defer logger.Close()

			return runLauncher(cmd.Context(), ctx, cfg, mode, logger)
		},
	}
	cmd.Flags().StringVar(&hostMode, "host", hostAuto, "Host mode: auto, headless or tui")
	cmd.Flags().StringVar(&backendPath, "backend", "", "Backend executable, relative to the install directory")
	cmd.Flags().StringVar(&apiAddr, "api", "", "Serve the status API and metrics on this address (bare --api uses "+httpapi.DefaultAddr+")")
	cmd.Flags().Lookup("api").NoOptDefVal = httpapi.DefaultAddr
	return cmd
}

func resolveHostMode(mode string, interactive bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", hostAuto:
		if interactive {
			return hostTUI, nil
		}
		return hostHeadless, nil
	case hostHeadless:
		return hostHeadless, nil
	case hostTUI:
		if !interactive {
			return "", fmt.Errorf("tui host requires an interactive terminal")
		}
		return hostTUI, nil
	default:
		return "", fmt.Errorf("unknown host mode %q (want auto, headless or tui)", mode)
	}
}

// hostLogging keeps log records off the terminal while the TUI owns it.
func hostLogging(cfg *config.Config, mode string) config.LoggingSpec {
	spec := cfg.Logging
	if mode == hostTUI && spec.Output != "file" {
		spec.Output = "file"
		spec.File = filepath.Join(cfg.Dir, filepath.FromSlash(tuiLogFile))
	}
	return spec
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	out, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(out.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

func runLauncher(ctx stdcontext.Context, cliCtx *context, cfg *config.Config, mode string, logger *logging.Logger) error {
	name := cfg.Backend.Name
	spawner, err := runtime.NewRegistry().Lookup(cfg.Backend.Runtime)
	if err != nil {
		return err
	}

	metrics.EmitBuildInfo()
	metrics.SetBackendState(name, supervisor.NotStarted)

	opts := []supervisor.Option{
		supervisor.WithLogger(logger.With("component", "supervisor")),
		supervisor.WithObserver(metrics.Observer()),
	}

	var history api.HistorySource
	if cfg.Journal.Enabled {
		if j := openJournal(ctx, cfg.Journal, logger); j != nil {
			defer j.Close()
			history = j
			opts = append(opts, supervisor.WithObserver(j.Observer(logger)))
		}
	}

	if mqttCfg := cfg.Notify.MQTT; mqttCfg != nil {
		pub, err := notify.Connect(*mqttCfg, logger)
		if err != nil {
			logger.Warn("mqtt notifier unavailable; continuing without it", "broker", mqttCfg.Broker, "error", err)
		} else {
			defer pub.Close()
			opts = append(opts, supervisor.WithObserver(pub))
		}
	}

	var h host.Host
	switch mode {
	case hostTUI:
		ui := host.NewTUI(host.WithBackend(name))
		opts = append(opts, supervisor.WithObserver(ui.Observer()))
		h = ui
	default:
		h = host.NewHeadless()
	}

	sup := supervisor.New(spawner, opts...)
	lc := launcher.New(sup, cfg.Backend.Spec(),
		launcher.WithLocator(cliCtx.locator),
		launcher.WithLogger(logger.With("component", "launcher")),
	)

	apiCtx, cancelAPI := stdcontext.WithCancel(ctx)
	defer cancelAPI()
	if addr := strings.TrimSpace(cfg.API.Addr); addr != "" {
		if err := startAPI(apiCtx, addr, api.NewController(sup, history, Version), logger); err != nil {
			logger.Warn("status api unavailable; continuing without it", "addr", addr, "error", err)
		}
	}

	logger.Info("host starting", "host", mode, "backend", name, "runtime", cfg.Backend.Runtime, "config", cfg.Source)
	err = h.Run(ctx, lc)
	logger.Info("host exited", "backend", name, "state", sup.State().String())
	if errors.Is(err, stdcontext.Canceled) {
		return nil
	}
	return err
}

// openJournal opens the lifecycle journal and applies the retention window.
// It returns nil when the journal cannot be opened.
func openJournal(ctx stdcontext.Context, spec config.JournalSpec, logger *logging.Logger) *journal.Journal {
	j, err := journal.Open(ctx, spec.Path)
	if err != nil {
		logger.Warn("journal unavailable; continuing without it", "path", spec.Path, "error", err)
		return nil
	}
	logger.Debug("journal opened", "path", j.Path())

	if retention := spec.Retention.Duration; retention > 0 {
		removed, err := j.Prune(ctx, retention)
		if err != nil {
			logger.Warn("journal prune failed", "path", j.Path(), "error", err)
		} else if removed > 0 {
			logger.Info("journal pruned", "removed", removed, "retention", retention.String())
		}
	}
	return j
}

func startAPI(ctx stdcontext.Context, addr string, ctrl api.Controller, logger *logging.Logger) error {
	srv, err := httpapi.NewServer(httpapi.Config{
		Addr:       addr,
		Controller: ctrl,
		Gatherer:   metrics.Registry(),
	})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("status api listening", "addr", srv.Addr())
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Warn("status api stopped", "error", err)
		}
	}()
	return nil
}
