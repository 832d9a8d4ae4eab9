// cmd/catalog/main.go
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"libracirc/internal/api"
	"libracirc/internal/catalog"
	"libracirc/internal/cli"
)

func main() {
	root, settings := cli.NewRoot("catalog", "Book and copy catalog service", "8081")
	root.AddCommand(serveCommand(settings), cli.MigrateCommand(settings))
	cli.Execute(root)
}

func serveCommand(settings *cli.Settings) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := settings.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if migrate {
				if err := a.Store.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			svc, err := catalog.NewService(a.Store, catalog.WithLogger(a.Logger.With("component", "catalog")))
			if err != nil {
				return err
			}

			r := api.NewRouter(a.Logger, a.Store)
			catalog.NewHandler(svc, a.Logger).Routes(r)
			return a.Serve(cmd.Context(), r)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the schema before serving")
	return cmd
}
