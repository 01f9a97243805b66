package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/storysync/internal/app"
	"github.com/agentworkforce/storysync/internal/outbox"
)

func newOutboxCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Inspect and replay deferred submissions"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List deferred submissions in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			records, err := a.Queue.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(c.out, "Outbox is empty")
				return nil
			}
			now := time.Now()
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tID\tAGE\tEXPIRES IN\tDESCRIPTION")
			for _, r := range records {
				age := r.Age(now).Truncate(time.Second)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.ID, age, (a.Config.Retention - age).Truncate(time.Second), truncate(r.Description, 40))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Replay deferred submissions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			var result outbox.PassResult
			err = a.Bridge.DisplayWhile(cmd.Context(), func() error {
				var err error
				result, err = a.Replayer.ReplayOnce(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "replayed=%d rejected=%d expired=%d remaining=%d\n", result.Replayed, result.Rejected, result.Expired, result.Remaining)
			if result.Blocked {
				fmt.Fprintln(c.out, "The story service is still unreachable; remaining submissions stay queued.")
			}
			return nil
		},
	})
	return cmd
}

