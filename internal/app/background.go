package app

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/storysync/internal/events"
)

// RunBackground runs the long-lived side of the engine until ctx is done.
// Besides monitoring, replay and notifications it serves the optional local
// API and metrics endpoints.
func (a *App) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	push := make(chan []byte, events.DefaultBuffer)
	outcomes := a.Bridge.Subscribe()
	defer outcomes.Close()

	g.Go(func() error { return a.Bridge.Consume(gctx, outcomes, push) })
	g.Go(func() error { return a.Monitor.Run(gctx) })
	g.Go(func() error { return a.Replayer.Run(gctx) })
	if a.Listener != nil {
		g.Go(func() error { return a.Listener.Run(gctx, push) })
	}
	g.Go(func() error {
		return a.Tokens.Watch(gctx, func(loggedIn bool) {
			a.tokenChanged(gctx, loggedIn)
		})
	})
	g.Go(func() error { return a.revalidateLoop(gctx) })
	if a.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error { return a.serve(gctx, "metrics", a.Config.MetricsAddr, mux) })
	}
	if a.Config.APIAddr != "" && a.API != nil {
		g.Go(func() error { return a.serve(gctx, "api", a.Config.APIAddr, a.API) })
	}
	return g.Wait()
}

// tokenChanged replays deferred submissions after a login and ends push
// delivery once the token is gone.
func (a *App) tokenChanged(ctx context.Context, loggedIn bool) {
	a.Logger.Info().Bool("logged_in", loggedIn).Msg("token changed")
	if loggedIn {
		a.Replayer.Trigger()
		return
	}
	a.dropSubscription(ctx)
}

func (a *App) revalidateLoop(ctx context.Context) error {
	interval := a.Config.RevalidateInterval
	if interval <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(JitteredInterval(interval, a.Config.Jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if a.Tokens.IsLoggedIn() && a.Monitor.Online() {
				if err := a.Coordinator.Revalidate(ctx); err != nil && ctx.Err() == nil {
					a.Logger.Warn().Err(err).Msg("periodic revalidation failed")
				}
			}
			timer.Reset(JitteredInterval(interval, a.Config.Jitter, rng.Float64()))
		}
	}
}

func (a *App) serve(ctx context.Context, name, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	a.Logger.Info().Str("addr", addr).Str("server", name).Msg("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// ClampJitterRatio bounds a jitter ratio to [0, 1].
func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// JitteredInterval spreads base by ±jitterRatio using sample in [0, 1].
func JitteredInterval(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = ClampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
