// cmd/api/main.go
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"libracirc/internal/api"
	"libracirc/internal/app"
	"libracirc/internal/cli"
	"libracirc/internal/clients"
	"libracirc/internal/gateway"
	"libracirc/internal/telemetry"
)

func main() {
	root, settings := cli.NewRoot("api", "API gateway in front of the catalog, circulation and membership services", "8080")
	root.Args = cobra.NoArgs
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := settings.Config()
		if err != nil {
			return err
		}
		logger := telemetry.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel).With("service", cfg.ServiceName)

		shutdown, err := telemetry.Setup(cmd.Context(), cfg.ServiceName, cfg.OTLPEndpoint, cfg.OTLPMetricsEndpoint)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())

		health := gateway.Health(map[string]api.Pinger{
			"catalog":     clients.NewCatalogClient(cfg.CatalogURL, nil),
			"circulation": clients.NewCirculationClient(cfg.CirculationURL, nil),
			"membership":  clients.NewMembershipClient(cfg.MembershipURL, nil),
		})
		r := api.NewRouter(logger, health)
		if err := gateway.Mount(r, gateway.Upstreams{
			Catalog:     cfg.CatalogURL,
			Circulation: cfg.CirculationURL,
			Membership:  cfg.MembershipURL,
		}, logger); err != nil {
			return err
		}

		return app.Serve(cmd.Context(), logger, cfg.Port, r)
	}
	cli.Execute(root)
}
