package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-mirror/internal/app"
	"github.com/JakeFAU/wayback-mirror/internal/clock/system"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

func newRedirectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redirect <key> <target> [timestamp]",
		Short: "Store a redirect entry so that key answers with a 302 to target",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, target := args[0], args[1]
			ts := system.Stamp(system.New().Now())
			if len(args) == 3 {
				ts = args[2]
			}
			if err := mirror.ValidateTimestamp(ts); err != nil {
				return err
			}
			return withApp(cmd, app.ModeOffline, func(ctx context.Context, a *app.App) error {
				if err := a.Content().PutRedirect(ctx, key, target, ts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", key, target)
				return nil
			})
		},
	}
}
