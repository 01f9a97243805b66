package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	ProfileMemory       = "memory"
	ProfileDurableLocal = "durable-local"
	ProfileSQLite       = "sqlite"
	ProfileProduction   = "production"
	ProfileCustom       = "custom"
)

func (c *Config) profileDefaults() (storeDSN, outboxDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(c.BackendProfile))
	switch profile {
	case ProfileCustom:
		return "", "", nil
	case ProfileMemory, "inmemory":
		return "memory://", "memory://", nil
	case "", ProfileSQLite:
		path := filepath.Join(c.DataDir, "storysync.db")
		return "sqlite://" + path, "sqlite://" + path, nil
	case ProfileProduction, "prod":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return "", "", fmt.Errorf("POSTGRES_DSN is required when BACKEND_PROFILE=%s", profile)
		}
		return c.PostgresDSN, c.PostgresDSN, nil
	case ProfileDurableLocal, "local-durable":
		return "file://" + filepath.Join(c.DataDir, "stories.json"),
			"file://" + filepath.Join(c.DataDir, "outbox.json"),
			nil
	default:
		return "", "", fmt.Errorf("unsupported BACKEND_PROFILE: %s", profile)
	}
}
