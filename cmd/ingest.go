package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-mirror/internal/app"
)

func newIngestCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest [subdomain...]",
		Short: "Rebuild the content store from stored captures without network access",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			subs, err := subdomains(rt.cfg, args)
			if err != nil {
				return err
			}
			return withApp(cmd, app.ModeOffline, func(ctx context.Context, a *app.App) error {
				results, err := a.Reingest(ctx, subs, force)
				for _, r := range results {
					if !r.Cached {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tno cache\n", r.Subdomain)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\trecords=%d ingested=%d keys=%d skipped=%d\n",
						r.Subdomain, r.Stats.Records, r.Stats.Ingested, r.Stats.Keys, r.Stats.Skipped)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rewrite keys even when they already hold the fetched timestamp")
	return cmd
}
