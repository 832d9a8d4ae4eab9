// cmd/membership/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"libracirc/internal/api"
	"libracirc/internal/app"
	"libracirc/internal/cli"
	"libracirc/internal/library"
	"libracirc/internal/membership"
)

func main() {
	root, settings := cli.NewRoot("membership", "User registration and authentication service", "8083")
	root.AddCommand(
		serveCommand(settings),
		cli.MigrateCommand(settings),
		addUserCommand(settings),
	)
	cli.Execute(root)
}

func newService(a *app.App) (membership.Service, error) {
	return membership.NewService(a.Store,
		membership.WithRateLimit(a.Config.AuthRateLimit),
		membership.WithLogger(a.Logger.With("component", "membership")),
	)
}

func serveCommand(settings *cli.Settings) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the membership API",
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

			svc, err := newService(a)
			if err != nil {
				return err
			}

			r := api.NewRouter(a.Logger, a.Store)
			membership.NewHandler(svc, a.Logger).Routes(r)
			return a.Serve(cmd.Context(), r)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the schema before serving")
	return cmd
}

func addUserCommand(settings *cli.Settings) *cobra.Command {
	var reg membership.Registration
	var role string

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Register a user, reading the password from the terminal or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			reg.Password = password
			reg.Role = library.Role(role)

			a, err := settings.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			svc, err := newService(a)
			if err != nil {
				return err
			}
			u, err := svc.RegisterUser(cmd.Context(), reg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.ID, u.Email, u.Role)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&reg.Username, "username", "", "user name")
	flags.StringVar(&reg.Email, "email", "", "email address used to log in")
	flags.StringVar(&role, "role", string(library.RoleMember), "member or librarian")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword reads a password without echo from a terminal, or the first line of stdin otherwise.
func readPassword(prompt io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(prompt, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
