// Package cmd defines the CLI commands of the wayback-mirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/app"
	"github.com/JakeFAU/wayback-mirror/internal/config"
	"github.com/JakeFAU/wayback-mirror/internal/logging"
)

type options struct {
	configPath string
	runMode    string
	debug      bool
}

type runtimeKey struct{}

// runtime is what PersistentPreRunE hands to every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command and registers all subcommands.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "wayback-mirror",
		Short: "Mirror archived subdomains from the Wayback Machine and serve them locally.",
		Long: `wayback-mirror discovers the archived URLs of one or more subdomains through
the CDX index, downloads the newest capture of each canonical path at a polite
rate, stores the content under every alias it was archived as, and serves the
result over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath, opts.runMode)
			if err != nil {
				return err
			}
			if opts.debug {
				cfg.Logging.Development = true
				cfg.Logging.Level = "debug"
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				OutputPaths: cfg.Logging.OutputPaths,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.runMode, "run-mode", "", "config file section to use, e.g. dev or prod")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging at debug level")

	cmd.AddCommand(
		newDiscoverCmd(),
		newFetchCmd(),
		newIngestCmd(),
		newServeCmd(),
		newRedirectCmd(),
	)
	return cmd
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// withApp builds the services for mode, runs fn under a signal-aware context
// and closes the services afterwards.
func withApp(cmd *cobra.Command, mode app.Mode, fn func(ctx context.Context, a *app.App) error) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, rt.cfg, rt.logger, mode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			rt.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}

// subdomains prefers positional arguments over the configured list.
func subdomains(cfg config.Config, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	return cfg.Subdomains()
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
