package main

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/qrlew/qrlew-go/internal/app"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the rewriting engine over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				g.cfg.HTTP.Addr = addr
			}
			a, err := app.New(g.cfg)
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			glog.Infof("qrlew %s listening on %s", version, a.Addr())
			return a.WaitForShutdown(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from configuration)")
	return cmd
}
