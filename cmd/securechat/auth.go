package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/securechat-sdk-go/securechat"
	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
)

var (
	flagEmail    string
	flagUsername string
	flagPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, _ []string) error {
		password, err := passwordFromFlagOrStdin()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()
		u, err := app.Session().Login(ctx, flagEmail, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", plain(u.Username), u.Email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		password, err := passwordFromFlagOrStdin()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()
		u, err := app.Session().Register(ctx, rest.RegisterRequest{
			Email:           flagEmail,
			Username:        flagUsername,
			Password:        password,
			PasswordConfirm: password,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", plain(u.Username))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget stored tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		if err := app.Session().Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("server logout failed; local tokens cleared anyway")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		u, err := restore(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (id %s)\n", plain(u.Username), u.Email, u.ID)
		return nil
	},
}

var themeCmd = &cobra.Command{
	Use:   "theme [light|dark]",
	Short: "Show or set the colour theme preference",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			t, err := securechat.ParseTheme(args[0])
			if err != nil {
				return err
			}
			if err := app.Credentials().SetTheme(t); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), app.Credentials().Theme())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&flagEmail, "email", "", "account email")
		c.Flags().StringVar(&flagPassword, "password", "", "password; read from stdin when empty")
		_ = c.MarkFlagRequired("email")
	}
	registerCmd.Flags().StringVar(&flagUsername, "username", "", "optional username; derived from the email when empty")
}

func passwordFromFlagOrStdin() (string, error) {
	if flagPassword != "" {
		return flagPassword, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
