package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-mirror/internal/app"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

func newFetchCmd() *cobra.Command {
	var (
		retry    bool
		noIngest bool
	)
	cmd := &cobra.Command{
		Use:   "fetch [subdomain...]",
		Short: "Download the newest capture of every canonical path and ingest it",
		Long: `fetch resumes from each subdomain's checkpoint. Paths already fetched are
skipped; with --retry, paths whose previous fetch had issues are fetched again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			subs, err := subdomains(rt.cfg, args)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retry") {
				rt.cfg.Pipeline.RetryFailed = retry
			}
			if noIngest {
				rt.cfg.Pipeline.Ingest = false
			}
			return withApp(cmd, app.ModePipeline, func(ctx context.Context, a *app.App) error {
				summaries, runErr := a.Dispatcher().Run(ctx, subs, rt.cfg.Pipeline.RetryFailed)
				for _, s := range summaries {
					printSummary(cmd, s)
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "re-fetch paths whose previous fetch had issues")
	cmd.Flags().BoolVar(&noIngest, "no-ingest", false, "store captures without writing the content store")
	return cmd
}

func printSummary(cmd *cobra.Command, s mirror.RunSummary) {
	status := "ok"
	if s.Err != "" {
		status = "aborted: " + s.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\trecords=%d fetched=%d skipped=%d ingested=%d failed=%d\t%s\n",
		s.Subdomain, s.Records, s.Fetched, s.Skipped, s.Ingested, len(s.Failed), status)
}
