// Package cmd defines the kbart-linkcheck command line.
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

	"github.com/JakeFAU/kbart-linkcheck/internal/config"
	"github.com/JakeFAU/kbart-linkcheck/internal/logging"
)

type sessionKey struct{}

// session is what PersistentPreRunE hands to subcommands.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "kbart-linkcheck",
		Short: "Check the links of KBART collections and email reports.",
		Long: `kbart-linkcheck downloads KBART files from the knowledge base (or reads them
from disk), checks every title URL and emails a report of broken and
redirecting links for each collection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Debug)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey{}, &session{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := sessionFrom(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, YAML or JSON (default ./"+config.TemplateFile+" if present)")

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newClassifyCmd())
	return cmd
}

func sessionFrom(ctx context.Context) (*session, error) {
	rt, ok := ctx.Value(sessionKey{}).(*session)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	logger, logErr := logging.New(false, false)
	if logErr != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Fatal("command failed", zap.Error(err))
}
