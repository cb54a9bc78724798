package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/app"
	"github.com/JakeFAU/kbart-linkcheck/internal/config"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every configured collection and email the reports",
		Long: `Resolves each knowledge base collection to its KBART file, adds the local
KBART files, checks every title URL and writes and emails one report per
problem kind. Collections with no problems get a short notice instead.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	rt, err := sessionFrom(cmd.Context())
	if err != nil {
		return err
	}

	a, err := app.Build(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			rt.logger.Warn("close services", zap.Error(cerr))
		}
	}()

	summaries, err := a.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	for _, s := range summaries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tchecked=%d\terrors=%d\tredirects=%d\tignored=%d\n",
			s.Collection, s.Checked, s.Errors, s.Redirects, s.Ignored)
	}
	return nil
}
