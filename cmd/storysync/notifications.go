package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/storysync/internal/app"
	"github.com/agentworkforce/storysync/internal/httpapi"
	"github.com/agentworkforce/storysync/internal/notify"
	"github.com/agentworkforce/storysync/internal/pushchan"
)

func (c *cli) prompter() pushchan.Prompter {
	return pushchan.PrompterFunc(func(context.Context) (bool, error) {
		if c.yes {
			return true, nil
		}
		fmt.Fprint(c.out, "Allow Story Sync to show notifications? [y/N] ")
		line, err := bufio.NewReader(c.in).ReadString('\n')
		if err != nil && line == "" {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})
}

func (c *cli) printAffordance(ctx context.Context, a *app.App) error {
	state, err := a.Affordance.Refresh(ctx)
	if err != nil {
		return err
	}
	label := a.Affordance.Label()
	action := "available"
	if !label.Enabled {
		action = "unavailable"
	}
	fmt.Fprintf(c.out, "Notifications: %s (%s: %s)\n", state, action, label.Text)
	return nil
}

func newNotificationsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Manage push notifications"}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the notification toggle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			return c.printAffordance(cmd.Context(), a)
		},
	})

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Subscribe to push notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{Prompter: c.prompter()})
			if err != nil {
				return err
			}
			sub, err := a.Subscriptions.Enable(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Subscribed: %s\n", sub.Endpoint)
			return c.printAffordance(cmd.Context(), a)
		},
	}
	enableCmd.Flags().BoolVarP(&c.yes, "yes", "y", false, "grant permission without prompting")
	cmd.AddCommand(enableCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Unsubscribe from push notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			if err := a.Subscriptions.Disable(cmd.Context()); err != nil {
				return err
			}
			return c.printAffordance(cmd.Context(), a)
		},
	})

	var action string
	renderCmd := &cobra.Command{
		Use:   "render [PAYLOAD]",
		Short: "Show how a push payload would be displayed (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 1 {
				payload = []byte(args[0])
			} else {
				data, err := io.ReadAll(c.in)
				if err != nil {
					return err
				}
				payload = data
			}
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			n := a.Bridge.FromPush(payload)
			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(n); err != nil {
				return err
			}
			if action != "" {
				fmt.Fprintf(c.out, "Tapping %q opens %s\n", action, notify.ResolveTap(n, action))
			}
			return nil
		},
	}
	renderCmd.Flags().StringVar(&action, "tap", "", "also resolve the route for this action")
	cmd.AddCommand(renderCmd)

	return cmd
}

func newAPITokenCmd(c *cli) *cobra.Command {
	var client string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "api-token",
		Short: "Issue a bearer token for the agent's local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.engine(app.Options{}); err != nil {
				return err
			}
			token, err := httpapi.IssueToken(c.cfg.APISecret, client, scopes, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&client, "client", "storysync-ui", "client name used for rate limiting")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{
		httpapi.ScopeStoriesRead,
		httpapi.ScopeStoriesWrite,
		httpapi.ScopeOutboxRead,
		httpapi.ScopeNotificationsRead,
		httpapi.ScopeNotificationsWrite,
	}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
