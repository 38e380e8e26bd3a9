package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pilot/pkg/api"
)

func newServeCommand(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the project API over HTTP",
		Long: `Serve the project API over HTTP.

Routes:
  POST   /api/start_project        {"name": "...", "template": "..."}
  GET    /api/list_projects
  POST   /api/run_project          {"id": "...", "branch": "...", "step": 0}
  DELETE /api/delete_project/{id}
  GET    /api/show_config
  GET    /healthz, /readyz, /metrics

A run is interrupted and rolled back when its client disconnects.`,
		Example: `  # Serve on the configured address
  pilot serve

  # Serve on all interfaces
  pilot serve --addr 0.0.0.0:5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, version)
			if err != nil {
				return err
			}
			defer a.close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			if a.cfg.Templates.Watch && a.cfg.Templates.Dir != "" {
				if err := a.templates.Watch(ctx); err != nil {
					return err
				}
			}
			if a.policy != nil && a.cfg.Policy.Watch && len(a.cfg.Policy.Paths) > 0 {
				if err := a.policy.Watch(ctx, a.cfg.Policy.Paths); err != nil {
					return err
				}
			}
			if err := a.tel.StartMetricsServer(); err != nil {
				return err
			}

			dispatcher := api.NewDispatcher(a.bridge, a.lifecycle, a.cfg, a.tel)
			server := api.NewServer(a.cfg.Server, dispatcher, a.tel,
				api.ReadinessCheck{Name: "store", Check: a.store.HealthCheck},
			)

			log.Info().
				Str("addr", a.cfg.Server.Addr).
				Str("store", a.cfg.Store.Path).
				Int("templates", len(a.templates.List())).
				Msg("Starting pilot")

			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}
