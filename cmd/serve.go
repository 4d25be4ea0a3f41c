package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-mirror/internal/app"
	"github.com/JakeFAU/wayback-mirror/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve mirrored content over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, app.ModeServe, func(ctx context.Context, a *app.App) error {
				cfg := a.Config()
				srvCfg := server.Config{Addr: cfg.ServerAddr()}
				if cfg.Server.MetricsPort > 0 {
					srvCfg.MetricsAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
				}
				srv, err := server.New(srvCfg, a.APIServer().Handler(), a.Logger().Named("server"))
				if err != nil {
					return err
				}
				return srv.Run(ctx)
			})
		},
	}
}
