package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/storysync/internal/app"
	"github.com/agentworkforce/storysync/internal/config"
	"github.com/agentworkforce/storysync/internal/logging"
)

// cli carries what every subcommand needs. The engine is built lazily so
// commands that fail flag validation never open the stores.
type cli struct {
	in  io.Reader
	out io.Writer

	logLevel string
	yes      bool

	cfg *config.Config
	app *app.App
}

func (c *cli) engine(opts app.Options) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	opts.Logger = logging.New("storysync", level, cfg.LogFormat)
	if opts.Displayer == nil {
		opts.Displayer = app.NewJSONDisplayer(c.out)
	}
	a, err := app.New(cfg, opts)
	if err != nil {
		return nil, err
	}
	c.cfg, c.app = cfg, a
	return a, nil
}

func (c *cli) close() {
	if c.app != nil {
		_ = c.app.Close()
		c.app = nil
	}
}

func newRootCmd(in io.Reader, out io.Writer) (*cobra.Command, *cli) {
	c := &cli{in: in, out: out}
	root := &cobra.Command{
		Use:           "storysync",
		Short:         "Offline-first client for the story service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newRegisterCmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newStoriesCmd(c),
		newBookmarksCmd(c),
		newOutboxCmd(c),
		newNotificationsCmd(c),
		newAPITokenCmd(c),
	)
	return root, c
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, c := newRootCmd(os.Stdin, os.Stdout)
	err := root.ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
