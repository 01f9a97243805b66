package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/storysync/internal/app"
	"github.com/agentworkforce/storysync/internal/auth"
)

func (c *cli) password(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("STORYSYNC_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(c.out, "Password: ")
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("password is required (--password or STORYSYNC_PASSWORD)")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newRegisterCmd(c *cli) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the story service",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			if err := a.Client.Register(cmd.Context(), name, email, pw); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Account created for %s. Log in with: storysync login --email %s\n", name, email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (required)")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (min 8 characters)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(c *cli) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			result, err := a.Client.Login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			if err := a.Tokens.Save(auth.Session{Token: result.Token, UserID: result.UserID, Name: result.Name}); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Logged in as %s\n", result.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			if err := a.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			if _, err := a.Tokens.Token(); err != nil {
				return err
			}
			session, err := a.Tokens.Session()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s (%s)\n", session.Name, session.UserID)
			return nil
		},
	}
}
