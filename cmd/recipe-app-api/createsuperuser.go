package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const superuserPasswordEnv = "RECIPE_SUPERUSER_PASSWORD"

func newCreateSuperuserCmd(log *logrus.Logger) *cobra.Command {
	var (
		configPath string
		email      string
		name       string
		password   string
	)

	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create a staff account",
		Long: `Create an account with staff and superuser rights.

The password is read from --password, then from the ` + superuserPasswordEnv + `
environment variable, and finally prompted for on the terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(superuserPasswordEnv)
			}

			if password == "" {
				var err error

				password, err = promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			return runCreateSuperuser(cmd.Context(), log, configPath, auth.RegisterInput{
				Email:    email,
				Name:     name,
				Password: password,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")
	cmd.Flags().StringVar(&email, "email", "", "Email address of the new account")
	cmd.Flags().StringVar(&name, "name", "",
		"Display name of the new account (defaults to the local part of the email)")
	cmd.Flags().StringVar(&password, "password", "",
		"Password of the new account (prompted for when empty)")

	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// promptPassword reads a password twice without echo. When in is not a
// terminal a single line is read instead.
func promptPassword(in io.Reader, out io.Writer) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return strings.TrimRight(line, "\r\n"), nil
	}

	read := func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)

		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(b), nil
	}

	password, err := read("Password: ")
	if err != nil {
		return "", err
	}

	confirm, err := read("Password (again): ")
	if err != nil {
		return "", err
	}

	if password != confirm {
		return "", errors.New("passwords do not match")
	}

	return password, nil
}

func runCreateSuperuser(ctx context.Context, log *logrus.Logger, configPath string, in auth.RegisterInput) error {
	cfg, err := loadConfig(log, configPath)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}

	defer st.Stop()

	svc := auth.NewService(log, cfg, st)
	defer svc.Stop()

	user, err := svc.CreateSuperuser(ctx, in)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			for field, msgs := range verr.Fields {
				log.WithField("field", field).Error(strings.Join(msgs, " "))
			}

			return errors.New("invalid superuser details")
		}

		return err
	}

	log.WithField("email", user.Email).Info("Superuser created successfully")

	return nil
}
