// cmd/chaos/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"libracirc/internal/chaos"
	"libracirc/internal/cli"
)

var errHypothesisFailed = errors.New("at least one hypothesis did not hold")

func main() {
	root, settings := cli.NewRoot("chaos", "Run the circulation chaos game day against a database", "8080")

	var (
		concurrency int
		interval    time.Duration
		report      bool
	)
	root.Args = cobra.NoArgs
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := settings.Open(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if err := a.Store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		suite, err := chaos.NewSuite(a.Store, concurrency, a.Logger.With("component", "circulation"))
		if err != nil {
			return err
		}
		engine := chaos.NewEngine(chaos.WithLogger(a.Logger), chaos.WithSampleInterval(interval))
		suite.Register(engine)

		a.Logger.Info("game day started", "experiments", len(engine.Experiments()), "concurrency", concurrency)
		results, allHeld := engine.RunAll(ctx)

		if report {
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		}
		for _, r := range results {
			fmt.Fprintf(cmd.ErrOrStderr(), "%-32s held=%-5t violations=%d errors=%d\n",
				r.ExperimentName, r.HypothesisHeld, len(r.Violations), len(r.ErrorEvents))
			for _, f := range r.FailedAssertions {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", f)
			}
		}

		if !allHeld {
			return errHypothesisFailed
		}
		return nil
	}

	flags := root.Flags()
	flags.IntVar(&concurrency, "concurrency", 16, "parallel requests per experiment")
	flags.DurationVar(&interval, "sample-interval", time.Second, "metric sampling interval while observing")
	flags.BoolVar(&report, "report", false, "print the full results as JSON on stdout")

	cli.Execute(root)
}
