package connectivity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/events"
)

const (
	DefaultInterval     = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
	defaultMinBackoff   = 2 * time.Second
)

var onlineGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "storysync",
		Subsystem: "connectivity",
		Name:      "online",
		Help:      "1 while the story service is reachable, 0 otherwise.",
	},
)

// Prober reports whether the story service can be reached.
type Prober interface {
	Probe(ctx context.Context) error
}

type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber issues a HEAD request against a URL. Any HTTP response counts
// as reachable, only transport failures count as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

type MonitorOptions struct {
	Prober Prober
	Bus    *events.Bus
	// Interval is the delay between probes while online.
	Interval   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Monitor turns periodic probes into connectivity transitions. It publishes
// only when the observed state changes; the first observation is reported
// only when it is online.
type Monitor struct {
	prober     Prober
	bus        *events.Bus
	interval   time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	observed bool
	online   bool
}

func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if opts.Prober == nil {
		return nil, errors.New("prober is required")
	}
	m := &Monitor{
		prober:     opts.Prober,
		bus:        opts.Bus,
		interval:   opts.Interval,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.minBackoff <= 0 {
		m.minBackoff = defaultMinBackoff
	}
	if m.maxBackoff < m.minBackoff {
		m.maxBackoff = m.interval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// NewHTTPMonitor probes the origin of baseURL.
func NewHTTPMonitor(baseURL string, client *http.Client, opts MonitorOptions) (*Monitor, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("probe url is required")
	}
	opts.Prober = HTTPProber{URL: baseURL, Client: client}
	return NewMonitor(opts)
}

// Online reports the last observed state. Before the first probe the
// service is assumed reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.observed || m.online
}

// Check probes once and publishes a transition if the state changed.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	probeErr := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return m.Online(), ctx.Err()
	}
	online := probeErr == nil

	m.mu.Lock()
	changed := m.online != online || (!m.observed && online)
	m.observed = true
	m.online = online
	m.mu.Unlock()

	if online {
		onlineGauge.Set(1)
	} else {
		onlineGauge.Set(0)
	}
	if !changed {
		return online, nil
	}
	if online {
		m.logger.Info().Msg("story service reachable")
	} else {
		m.logger.Warn().Err(probeErr).Msg("story service unreachable")
	}
	if m.bus != nil {
		if err := m.bus.ConnectivityChanged.Publish(ctx, events.ConnectivityChanged{Online: online, At: m.now().UTC()}); err != nil {
			return online, err
		}
	}
	return online, nil
}

// Run probes until ctx is done: at the fixed interval while online and with
// exponential backoff while offline.
func (m *Monitor) Run(ctx context.Context) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.minBackoff
	exp.MaxInterval = m.maxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	for {
		online, err := m.Check(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.logger.Warn().Err(err).Msg("publish connectivity change")
		}
		wait := m.interval
		if online {
			exp.Reset()
		} else {
			wait = exp.NextBackOff()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
