package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/cli"
)

func Test_Config_Flags_Override_Environment(t *testing.T) {
	// setup
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("LOG_FORMAT", "json")
	root, settings := cli.NewRoot("svc", "test service", "8082")
	root.RunE = func(*cobra.Command, []string) error { return nil }
	root.SetArgs([]string{"--driver", "sqlite3", "--database-url", "x.db", "--log-format", "text", "--env-file", filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, root.Execute())

	// act
	cfg, err := settings.Config()

	// assert
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "x.db", cfg.DatabaseURL)
	assert.Equal(t, "text", cfg.LogFormat)
}

func Test_Config_Port_Precedence(t *testing.T) {
	tests := []struct {
		name string
		env  string
		args []string
		want string
	}{
		{name: "service default", want: "8082"},
		{name: "environment", env: "9000", want: "9000"},
		{name: "flag", env: "9000", args: []string{"--port", "9100"}, want: "9100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("PORT", tt.env)
			} else {
				unsetenv(t, "PORT")
			}
			root, settings := cli.NewRoot("svc", "test service", "8082")
			root.RunE = func(*cobra.Command, []string) error { return nil }
			root.SetArgs(append(tt.args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
			require.NoError(t, root.Execute())

			cfg, err := settings.Config()

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Port)
		})
	}
}

func Test_MigrateCommand_Creates_Schema(t *testing.T) {
	// setup
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	root, settings := cli.NewRoot("svc", "test service", "8082")
	root.AddCommand(cli.MigrateCommand(settings))
	root.SetArgs([]string{"migrate", "--driver", "sqlite3", "--database-url", dbPath, "--log-level", "error",
		"--env-file", filepath.Join(t.TempDir(), "none.env")})

	// act
	err := root.ExecuteContext(context.Background())

	// assert
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func unsetenv(t *testing.T, key string) {
	t.Helper()

	prev, ok := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	if ok {
		t.Cleanup(func() { _ = os.Setenv(key, prev) })
	}
}
