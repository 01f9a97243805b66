package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/auth"
	"github.com/agentworkforce/storysync/internal/config"
	"github.com/agentworkforce/storysync/internal/connectivity"
	"github.com/agentworkforce/storysync/internal/events"
	"github.com/agentworkforce/storysync/internal/httpapi"
	"github.com/agentworkforce/storysync/internal/localstore"
	"github.com/agentworkforce/storysync/internal/notify"
	"github.com/agentworkforce/storysync/internal/outbox"
	"github.com/agentworkforce/storysync/internal/pushchan"
	"github.com/agentworkforce/storysync/internal/remote"
	"github.com/agentworkforce/storysync/internal/syncer"
)

type Options struct {
	// Displayer shows notifications; defaults to logging them.
	Displayer  notify.Displayer
	Navigator  notify.Navigator
	Prompter   pushchan.Prompter
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// App is the wired sync engine shared by the CLI and the background agent.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Bus    *events.Bus

	Store  localstore.Store
	Queue  outbox.Queue
	Client *remote.Client
	Tokens *auth.FileTokenStore

	Coordinator *syncer.Coordinator
	Replayer    *outbox.Replayer
	Monitor     *connectivity.Monitor

	Platform      *pushchan.FilePlatform
	Subscriptions *notify.Subscriptions
	Affordance    *notify.Affordance
	Bridge        *notify.Bridge
	// Listener is nil when no push URL is configured.
	Listener *pushchan.Listener
	// API is nil when no API secret is configured.
	API *httpapi.Server
}

func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Bus:    events.NewBus(events.DefaultBuffer),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error
	if a.Store, err = localstore.BuildFromDSN(cfg.StoreDSN); err != nil {
		return nil, fmt.Errorf("open story store: %w", err)
	}
	if a.Queue, err = outbox.BuildFromDSN(cfg.OutboxDSN, cfg.OutboxCapacity); err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	a.Client = remote.NewClient(remote.ClientOptions{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		ChannelKey: cfg.ChannelKey,
		Logger:     logger.With().Str("component", "remote").Logger(),
	})
	if a.Tokens, err = auth.NewFileTokenStore(cfg.TokenFile, logger.With().Str("component", "auth").Logger()); err != nil {
		return nil, err
	}

	a.Replayer, err = outbox.NewReplayer(a.Queue, a.Client, outbox.ReplayerOptions{
		Retention: cfg.Retention,
		Bus:       a.Bus,
		Logger:    logger.With().Str("component", "outbox").Logger(),
	})
	if err != nil {
		return nil, err
	}
	a.Coordinator, err = syncer.NewCoordinator(syncer.Options{
		Store:    a.Store,
		Remote:   a.Client,
		Tokens:   a.Tokens,
		Deferrer: a.Replayer,
		Bus:      a.Bus,
		Logger:   logger.With().Str("component", "syncer").Logger(),
	})
	if err != nil {
		return nil, err
	}
	a.Monitor, err = connectivity.NewHTTPMonitor(cfg.BaseURL, httpClient, connectivity.MonitorOptions{
		Bus:      a.Bus,
		Interval: cfg.ProbeInterval,
		Logger:   logger.With().Str("component", "connectivity").Logger(),
	})
	if err != nil {
		return nil, err
	}

	a.Platform, err = pushchan.NewFilePlatform(cfg.PlatformFile, endpointBase(cfg), opts.Prompter)
	if err != nil {
		return nil, err
	}
	notifyLogger := logger.With().Str("component", "notify").Logger()
	a.Subscriptions = notify.NewSubscriptions(a.Platform, a.Client, a.Tokens, notifyLogger)
	a.Affordance = notify.NewAffordance(a.Platform, notifyLogger)
	displayer := opts.Displayer
	if displayer == nil {
		displayer = NewLogDisplayer(notifyLogger)
	}
	a.Bridge, err = notify.NewBridge(notify.BridgeOptions{
		Displayer: displayer,
		Navigator: opts.Navigator,
		Bus:       a.Bus,
		Logger:    notifyLogger,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.PushURL) != "" {
		a.Listener, err = pushchan.NewListener(pushchan.ListenerOptions{
			URL:           cfg.PushURL,
			Subscriptions: a.Platform,
			Logger:        logger.With().Str("component", "pushchan").Logger(),
		})
		if err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.APISecret) != "" {
		a.API, err = httpapi.NewServer(httpapi.Deps{
			Coordinator:   a.Coordinator,
			Replayer:      a.Replayer,
			Subscriptions: a.Subscriptions,
			Affordance:    a.Affordance,
			Bridge:        a.Bridge,
			Logger:        logger.With().Str("component", "httpapi").Logger(),
		}, httpapi.ServerConfig{JWTSecret: cfg.APISecret})
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// endpointBase is where the file platform mints subscription endpoints.
func endpointBase(cfg *config.Config) string {
	if push := strings.TrimSpace(cfg.PushURL); push != "" {
		push = strings.Replace(push, "wss://", "https://", 1)
		push = strings.Replace(push, "ws://", "http://", 1)
		return strings.TrimRight(push, "/") + "/endpoints"
	}
	return cfg.BaseURL + "/notifications/endpoints"
}

func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// RunOnce performs one foreground cycle: a connectivity probe, a replay
// pass and, when logged in, a revalidation of the cache.
func (a *App) RunOnce(ctx context.Context) (outbox.PassResult, error) {
	if _, err := a.Monitor.Check(ctx); err != nil {
		return outbox.PassResult{}, err
	}
	var result outbox.PassResult
	err := a.Bridge.DisplayWhile(ctx, func() error {
		var err error
		result, err = a.Replayer.ReplayOnce(ctx)
		return err
	})
	if err != nil {
		return result, err
	}
	if a.Tokens.IsLoggedIn() && a.Monitor.Online() {
		if err := a.Coordinator.Revalidate(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("revalidate cache")
		}
	}
	return result, nil
}

// Logout unregisters push delivery while the token can still authorize it,
// then forgets the token.
func (a *App) Logout(ctx context.Context) error {
	a.dropSubscription(ctx)
	return a.Tokens.Remove()
}

// dropSubscription ends push delivery. Without a token only the local
// subscription is removed.
func (a *App) dropSubscription(ctx context.Context) {
	if err := a.Subscriptions.Disable(ctx); err != nil && !errors.Is(err, notify.ErrUnsupported) {
		a.Logger.Warn().Err(err).Msg("disable notifications")
	}
}
