// internal/cli/cli.go
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"libracirc/internal/app"
	"libracirc/internal/config"
)

// Settings holds the persistent flags shared by every binary. Flags that were set on the command line win
// over the environment and .env files.
type Settings struct {
	root        *cobra.Command
	defaultPort string

	envFile     string
	port        string
	driver      string
	databaseURL string
	logFormat   string
	logLevel    string
}

// NewRoot returns a root command carrying the shared flags. defaultPort is used when neither --port nor PORT
// is given.
func NewRoot(use, short, defaultPort string) (*cobra.Command, *Settings) {
	root := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	s := &Settings{root: root, defaultPort: defaultPort}

	flags := root.PersistentFlags()
	flags.StringVar(&s.envFile, "env-file", ".env", "dotenv file read before the environment")
	flags.StringVar(&s.port, "port", defaultPort, "HTTP port to listen on")
	flags.StringVar(&s.driver, "driver", "", "database driver: postgres, pgx or sqlite3")
	flags.StringVar(&s.databaseURL, "database-url", "", "database connection string")
	flags.StringVar(&s.logFormat, "log-format", "", "log format: json or text")
	flags.StringVar(&s.logLevel, "log-level", "", "log level: debug, info, warn or error")

	return root, s
}

// Config loads the configuration and applies the flags on top of it.
func (s *Settings) Config() (config.Config, error) {
	cfg, err := config.Load(s.envFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := s.root.PersistentFlags()
	if flags.Changed("port") {
		cfg.Port = s.port
	} else if _, ok := os.LookupEnv("PORT"); !ok {
		cfg.Port = s.defaultPort
	}
	if s.driver != "" {
		cfg.DBDriver = s.driver
	}
	if s.databaseURL != "" {
		cfg.DatabaseURL = s.databaseURL
	}
	if s.logFormat != "" {
		cfg.LogFormat = s.logFormat
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}
	return cfg, nil
}

// Open loads the configuration and builds the application around it. Logs go to stderr.
func (s *Settings) Open(ctx context.Context) (*app.App, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, os.Stderr)
}

// MigrateCommand creates the schema and exits.
func MigrateCommand(s *Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if err := a.Store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.Logger.Info("schema migrated")
			return nil
		},
	}
}

// Execute runs root with a context canceled on SIGINT or SIGTERM and exits non-zero on failure.
func Execute(root *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", root.Name(), err)
		os.Exit(1)
	}
}
