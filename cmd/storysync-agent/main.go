package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/storysync/internal/app"
	"github.com/agentworkforce/storysync/internal/config"
	"github.com/agentworkforce/storysync/internal/logging"
)

type agentFlags struct {
	once               bool
	timeout            time.Duration
	pushURL            string
	apiAddr            string
	metricsAddr        string
	revalidateInterval time.Duration
	jitter             float64
	logLevel           string
}

func newRootCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:          "storysync-agent",
		Short:        "Keep the story cache fresh, replay deferred submissions and deliver notifications",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg, f); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&f.once, "once", false, "run one connectivity check, replay pass and revalidation, then exit")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Second, "deadline for --once")
	flags.StringVar(&f.pushURL, "push-url", "", "websocket URL of the push relay (overrides STORYSYNC_PUSH_URL)")
	flags.StringVar(&f.apiAddr, "api-addr", "", "listen address of the local API (overrides STORYSYNC_API_ADDR)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "listen address of the metrics endpoint (overrides STORYSYNC_METRICS_ADDR)")
	flags.DurationVar(&f.revalidateInterval, "revalidate-interval", 0, "cache revalidation interval (overrides STORYSYNC_REVALIDATE_INTERVAL)")
	flags.Float64Var(&f.jitter, "interval-jitter", 0, "revalidation jitter ratio (0.0-1.0)")
	flags.StringVar(&f.logLevel, "log-level", "", "log level override")
	return cmd
}

// applyFlags lays explicitly set flags over the environment configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f agentFlags) error {
	changed := cmd.Flags().Changed
	if changed("push-url") {
		cfg.PushURL = f.pushURL
	}
	if changed("api-addr") {
		cfg.APIAddr = f.apiAddr
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("revalidate-interval") && f.revalidateInterval > 0 {
		cfg.RevalidateInterval = f.revalidateInterval
	}
	if changed("interval-jitter") {
		cfg.Jitter = app.ClampJitterRatio(f.jitter)
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg.ResolveDefaults()
}

func run(ctx context.Context, cfg *config.Config, f agentFlags) error {
	logger := logging.New("storysync-agent", cfg.LogLevel, cfg.LogFormat)
	a, err := app.New(cfg, app.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer a.Close()

	if f.once {
		timeout := f.timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		onceCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result, err := a.RunOnce(onceCtx)
		if err != nil {
			return err
		}
		logger.Info().
			Int("replayed", result.Replayed).
			Int("rejected", result.Rejected).
			Int("expired", result.Expired).
			Int("remaining", result.Remaining).
			Bool("blocked", result.Blocked).
			Msg("sync cycle completed")
		return nil
	}

	logger.Info().Str("base_url", cfg.BaseURL).Str("profile", cfg.BackendProfile).Msg("agent starting")
	err = a.RunBackground(ctx)
	logger.Info().Err(err).Msg("agent stopped")
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
