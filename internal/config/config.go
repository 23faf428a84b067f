// Package config loads ambient environment configuration the same way
// the teacher does (a .env file via godotenv, then env-var parsing via
// caarlos0/env, with the same insecure-.env-permissions warning), and
// also manages the client's persisted `.config` record described in
// section 6.4 -- the client-side counterpart to internal/store's
// server Config.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// EnvConfig holds environment-derived settings. CAMLSYNC_DIR selects
// the working directory of both commands and CAMLSYNC_PORT the
// server's port. CAMLSYNC_URL and CAMLSYNC_TOKEN are parsed but not
// read by either command: the client's `init` falls back to its own
// built-in url/token defaults when no arguments are given.
type EnvConfig struct {
	URL         string `env:"CAMLSYNC_URL" envDefault:"http://127.0.0.1:8080"`
	Token       string `env:"CAMLSYNC_TOKEN" envDefault:"default"`
	Port        int    `env:"CAMLSYNC_PORT" envDefault:"8080"`
	Dir         string `env:"CAMLSYNC_DIR" envDefault:"."`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// LoadEnv reads ambient configuration from the environment, loading a
// .env file first if present.
func LoadEnv() (*EnvConfig, error) {
	_ = godotenv.Load()
	warnInsecureEnvFile()

	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}
	return cfg, nil
}

// IsProduction returns true when the environment is set to production.
func (c *EnvConfig) IsProduction() bool {
	return c.Environment == "production"
}

// ClientConfig is the client's persisted `.config` record: {client_id,
// url, token, version}.
type ClientConfig struct {
	ClientID string `json:"client_id"`
	URL      string `json:"url"`
	Token    string `json:"token"`
	Version  int64  `json:"version"`
}

// NewClientConfig builds a fresh client config for a first `init`,
// assigning a new client identifier.
func NewClientConfig(url, token string) *ClientConfig {
	return &ClientConfig{
		ClientID: uuid.NewString(),
		URL:      url,
		Token:    token,
		Version:  0,
	}
}

// LoadClientConfig reads and parses the client config at path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", camlerrors.ErrNotInitialized)
	}
	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	return &cfg, nil
}

// Save writes the client config to path as indented JSON.
func (c *ClientConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling client config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing client config: %w", err)
	}
	return nil
}
