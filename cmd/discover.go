package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-mirror/internal/app"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

func newDiscoverCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "discover [subdomain...]",
		Short: "Query the archive index and cache the canonical paths of each subdomain",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			subs, err := subdomains(rt.cfg, args)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("refresh") {
				rt.cfg.Pipeline.RefreshIndex = refresh
			}
			return withApp(cmd, app.ModePipeline, func(ctx context.Context, a *app.App) error {
				for _, sub := range subs {
					records, err := a.Discoverer().Discover(ctx, sub)
					if err != nil {
						return fmt.Errorf("discover %s: %w", sub, err)
					}
					host, _ := mirror.SubdomainHost(sub)
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", host, len(records))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-query the index and merge into the existing cache")
	return cmd
}
