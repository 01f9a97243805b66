package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/agentworkforce/storysync/internal/outbox"
	"github.com/agentworkforce/storysync/internal/remote"
)

const Prefix = "STORYSYNC"

// Config holds the runtime settings for the CLI and the agent.
// Variables are read with the STORYSYNC_ prefix, e.g. STORYSYNC_BASE_URL.
type Config struct {
	BaseURL    string `envconfig:"BASE_URL" default:"https://story-api.dicoding.dev/v1"`
	ChannelKey string `envconfig:"CHANNEL_KEY"`
	PushURL    string `envconfig:"PUSH_URL"`

	// Storage
	BackendProfile string `envconfig:"BACKEND_PROFILE" default:"sqlite"`
	DataDir        string `envconfig:"DATA_DIR" default:".storysync"`
	StoreDSN       string `envconfig:"STORE_DSN"`
	OutboxDSN      string `envconfig:"OUTBOX_DSN"`
	PostgresDSN    string `envconfig:"POSTGRES_DSN"`
	TokenFile      string `envconfig:"TOKEN_FILE"`
	PlatformFile   string `envconfig:"PLATFORM_FILE"`

	// Outbox
	Retention      time.Duration `envconfig:"RETENTION" default:"24h"`
	OutboxCapacity int           `envconfig:"OUTBOX_CAPACITY" default:"256"`

	// Background agent
	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	ProbeInterval      time.Duration `envconfig:"PROBE_INTERVAL" default:"30s"`
	RevalidateInterval time.Duration `envconfig:"REVALIDATE_INTERVAL" default:"5m"`
	Jitter             float64       `envconfig:"JITTER" default:"0.2"`
	MetricsAddr        string        `envconfig:"METRICS_ADDR"`

	// Local API for page-view clients
	APIAddr   string `envconfig:"API_ADDR"`
	APISecret string `envconfig:"API_SECRET"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
}

// Load reads the environment and resolves derived defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration an empty environment produces.
func Default() *Config {
	cfg := &Config{
		BaseURL:            remote.DefaultBaseURL,
		BackendProfile:     ProfileSQLite,
		DataDir:            ".storysync",
		Retention:          outbox.DefaultRetention,
		OutboxCapacity:     outbox.DefaultCapacity,
		HTTPTimeout:        15 * time.Second,
		ProbeInterval:      30 * time.Second,
		RevalidateInterval: 5 * time.Minute,
		Jitter:             0.2,
		LogLevel:           "info",
		LogFormat:          "console",
	}
	_ = cfg.ResolveDefaults()
	return cfg
}

// ResolveDefaults validates the settings and fills in the storage DSNs and
// file paths derived from the profile and the data directory.
func (c *Config) ResolveDefaults() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = remote.DefaultBaseURL
	}
	if strings.TrimSpace(c.ChannelKey) == "" {
		c.ChannelKey = remote.DefaultChannelKey
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = ".storysync"
	}
	if c.TokenFile == "" {
		c.TokenFile = filepath.Join(c.DataDir, "token.json")
	}
	if c.PlatformFile == "" {
		c.PlatformFile = filepath.Join(c.DataDir, "push.json")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("RETENTION must be positive, got %s", c.Retention)
	}
	if c.OutboxCapacity <= 0 {
		return fmt.Errorf("OUTBOX_CAPACITY must be positive, got %d", c.OutboxCapacity)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("JITTER must be within [0, 1], got %v", c.Jitter)
	}

	if strings.TrimSpace(c.APIAddr) != "" && strings.TrimSpace(c.APISecret) == "" {
		return fmt.Errorf("API_SECRET is required when API_ADDR is set")
	}

	storeDSN, outboxDSN, err := c.profileDefaults()
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.StoreDSN) == "" {
		c.StoreDSN = storeDSN
	}
	if strings.TrimSpace(c.OutboxDSN) == "" {
		c.OutboxDSN = outboxDSN
	}
	if c.StoreDSN == "" || c.OutboxDSN == "" {
		return fmt.Errorf("STORE_DSN and OUTBOX_DSN are required when BACKEND_PROFILE=%s", c.BackendProfile)
	}
	return nil
}
