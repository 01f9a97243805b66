package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/storysync/internal/remote"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORYSYNC_DATA_DIR", "/var/lib/storysync")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, remote.DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, remote.DefaultChannelKey, cfg.ChannelKey)
	require.Equal(t, "sqlite:///var/lib/storysync/storysync.db", cfg.StoreDSN)
	require.Equal(t, cfg.StoreDSN, cfg.OutboxDSN)
	require.Equal(t, filepath.Join("/var/lib/storysync", "token.json"), cfg.TokenFile)
	require.Equal(t, 24*time.Hour, cfg.Retention)
	require.Equal(t, 256, cfg.OutboxCapacity)
}

func TestProfiles(t *testing.T) {
	cases := []struct {
		name       string
		profile    string
		postgres   string
		wantStore  string
		wantOutbox string
		wantErr    string
	}{
		{name: "memory", profile: "memory", wantStore: "memory://", wantOutbox: "memory://"},
		{name: "durable local", profile: "durable-local", wantStore: "file://data/stories.json", wantOutbox: "file://data/outbox.json"},
		{name: "sqlite", profile: "sqlite", wantStore: "sqlite://data/storysync.db", wantOutbox: "sqlite://data/storysync.db"},
		{name: "production", profile: "production", postgres: "postgres://db/storysync", wantStore: "postgres://db/storysync", wantOutbox: "postgres://db/storysync"},
		{name: "production without dsn", profile: "prod", wantErr: "POSTGRES_DSN is required"},
		{name: "custom without dsn", profile: "custom", wantErr: "STORE_DSN and OUTBOX_DSN are required"},
		{name: "unknown", profile: "cloud", wantErr: "unsupported BACKEND_PROFILE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.DataDir = "data"
			cfg.StoreDSN = ""
			cfg.OutboxDSN = ""
			cfg.TokenFile = ""
			cfg.BackendProfile = tc.profile
			cfg.PostgresDSN = tc.postgres

			err := cfg.ResolveDefaults()
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantStore, cfg.StoreDSN)
			require.Equal(t, tc.wantOutbox, cfg.OutboxDSN)
		})
	}
}

func TestExplicitDSNOverridesProfile(t *testing.T) {
	t.Setenv("STORYSYNC_BACKEND_PROFILE", "memory")
	t.Setenv("STORYSYNC_OUTBOX_DSN", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "memory://", cfg.StoreDSN)
	require.Equal(t, "redis://localhost:6379/0", cfg.OutboxDSN)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("STORYSYNC_JITTER", "1.5")
	_, err := Load()
	require.ErrorContains(t, err, "JITTER")
}
