package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/kbart-linkcheck/internal/app"
	"github.com/JakeFAU/kbart-linkcheck/internal/linkcheck"
)

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <url>...",
		Short: "Classify URLs as ok, redirects or error without reporting",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runClassify,
	}
	cmd.Flags().Int("timeout", 30, "per-request timeout in seconds")
	cmd.Flags().Bool("debug", false, "log every fetch")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	rt, err := sessionFrom(cmd.Context())
	if err != nil {
		return err
	}
	classifier := app.NewClassifier(rt.cfg, rt.logger)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCODE\tURL\tFINAL URL")
	for _, raw := range args {
		check := classifier.Classify(cmd.Context(), linkcheck.CleanURL(raw))
		final := check.FinalURL
		if check.Err != nil {
			final = check.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", check.Status, check.StatusCode, check.URL, final)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
