// Package config reads API credentials from a key = value file, with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/joshdurbin/strava-runstats/internal/weekly"
)

// Environment variables that take precedence over the file.
const (
	EnvClientID     = "STRAVA_CLIENT_ID"
	EnvClientSecret = "STRAVA_CLIENT_SECRET"
	EnvRefreshToken = "STRAVA_REFRESH_TOKEN"
)

// Config holds the application credentials and optional settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// RefreshToken seeds the first token refresh when no token file exists.
	RefreshToken string
	Epoch        time.Time

	path string
}

// Load reads path, applying environment overrides. A missing file is not an
// error; call RequireCredentials before talking to the API.
func Load(path string) (*Config, error) {
	values := map[string]string{}
	if path != "" {
		read, err := godotenv.Read(path)
		switch {
		case err == nil:
			values = read
		case errors.Is(err, fs.ErrNotExist):
			// fall through to the environment
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		ClientID:     lookup(values, "client_id", EnvClientID),
		ClientSecret: lookup(values, "client_secret", EnvClientSecret),
		RefreshToken: lookup(values, "refresh_token", EnvRefreshToken),
		Epoch:        weekly.DefaultEpoch(),
	}

	if raw := values["epoch_monday"]; raw != "" {
		epoch, err := weekly.ParseEpoch(raw)
		if err != nil {
			return nil, fmt.Errorf("config epoch_monday %q: %w", raw, err)
		}
		cfg.Epoch = epoch
	}

	cfg.path = path
	return cfg, nil
}

// RequireCredentials reports which of client_id and client_secret is missing.
func (c *Config) RequireCredentials() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required (set it in %s or %s)", c.path, EnvClientID)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required (set it in %s or %s)", c.path, EnvClientSecret)
	}
	return nil
}

func lookup(values map[string]string, key, env string) string {
	if value, exists := os.LookupEnv(env); exists && value != "" {
		return value
	}
	return values[key]
}
