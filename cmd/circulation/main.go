// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"libracirc/internal/api"
	"libracirc/internal/app"
	"libracirc/internal/circulation"
	"libracirc/internal/cli"
)

func main() {
	root, settings := cli.NewRoot("circulation", "Reservation and loan service", "8082")
	root.AddCommand(
		serveCommand(settings),
		cli.MigrateCommand(settings),
		sweepCommand(settings),
	)
	cli.Execute(root)
}

func newService(a *app.App) (circulation.Service, error) {
	return circulation.NewService(a.Store,
		circulation.WithReservationTTL(a.Config.ReservationTTL),
		circulation.WithLoanPeriod(a.Config.LoanPeriod),
		circulation.WithLogger(a.Logger.With("component", "circulation")),
	)
}

func serveCommand(settings *cli.Settings) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the circulation API and run the reservation sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := settings.Open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if migrate {
				if err := a.Store.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			svc, err := newService(a)
			if err != nil {
				return err
			}
			sweeper, err := circulation.NewSweeper(svc, a.Config.SweepInterval,
				circulation.WithSweepLogger(a.Logger.With("component", "sweeper")))
			if err != nil {
				return err
			}

			r := api.NewRouter(a.Logger, a.Store)
			circulation.NewHandler(svc, a.Config.ProlongDays, a.Logger).Routes(r)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			swept := make(chan error, 1)
			go func() { swept <- sweeper.Run(ctx) }()

			serveErr := a.Serve(ctx, r)
			cancel()
			return errors.Join(serveErr, <-swept)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the schema before serving")
	return cmd
}

func sweepCommand(settings *cli.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale reservations once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := settings.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			svc, err := newService(a)
			if err != nil {
				return err
			}
			sweeper, err := circulation.NewSweeper(svc, a.Config.SweepInterval,
				circulation.WithSweepLogger(a.Logger.With("component", "sweeper")))
			if err != nil {
				return err
			}

			report, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}

			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
