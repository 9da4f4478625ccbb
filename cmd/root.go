// Package cmd defines the stockcrawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockcrawler/internal/app"
	"stockcrawler/internal/config"
	"stockcrawler/internal/logging"
)

// rootState carries what PersistentPreRunE builds to the subcommands and back
// to Run for cleanup.
type rootState struct {
	cfgPath string
	app     *app.App
}

func (s *rootState) appOrErr() (*app.App, error) {
	if s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s.app, nil
}

// newApp builds the application from a config path. Tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

func newRootCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stockcrawler",
		Short: "Crawls stock summary pages into a single table",
		Long: `stockcrawler resolves ticker symbols against a company directory,
fetches each company's summary quote page concurrently and merges the
label/value pairs it finds into one CSV table.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), state.cfgPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = a
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgPath, "config", "", "config file (default is ./config.yaml or $HOME/.stockcrawler/config.yaml)")

	cmd.AddCommand(newCrawlCmd(state))
	cmd.AddCommand(newRefreshCmd(state))
	cmd.AddCommand(newServeCmd(state))
	return cmd
}

// Run executes the CLI with args and closes whatever the command opened.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	state := &rootState{}
	root := newRootCmd(state)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if state.app != nil {
		if cerr := state.app.Close(); cerr != nil {
			state.app.Logger.Warn("close application", zap.Error(cerr))
		}
		_ = state.app.Logger.Sync()
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}
