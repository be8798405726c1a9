// Package config resolves loom's runtime settings from, in order of
// precedence: command-line flags (bound by cmd/loom), LOOM_* environment
// variables, a .loom/config.yaml file, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultDBFile       = ".loom/loom.db"
	DefaultLease        = 20 * time.Minute
	DefaultSweepEvery   = 30 * time.Second
	DefaultConfigDir    = ".loom"
	DefaultConfigName   = "config"
	DefaultConfigFormat = "yaml"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DBPath is the coordination store location. One store exists per
	// plan-hosting location; workspaces never carry a copy.
	DBPath string
	// Workspace is the caller's opaque claimant identity. The engine
	// only ever compares it for equality.
	Workspace string
	// Lease is the default lease duration granted at claim time.
	Lease time.Duration
	// SweepEvery is the background reclaimer interval.
	SweepEvery time.Duration
	// JSON switches CLI output to machine-readable JSON.
	JSON bool
}

// New returns a viper instance wired to loom's config sources. Exposed
// so cmd/loom can bind flags onto it.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(DefaultConfigName)
	v.SetConfigType(DefaultConfigFormat)
	v.AddConfigPath(DefaultConfigDir)
	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", DefaultDBFile)
	v.SetDefault("lease", DefaultLease.String())
	v.SetDefault("sweep-every", DefaultSweepEvery.String())
	v.SetDefault("json", false)
	return v
}

// Load reads the config file (if present) and resolves the final
// configuration. A missing config file is not an error; a malformed one
// is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	lease, err := time.ParseDuration(v.GetString("lease"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid lease duration %q: %w", v.GetString("lease"), err)
	}
	sweep, err := time.ParseDuration(v.GetString("sweep-every"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid sweep-every duration %q: %w", v.GetString("sweep-every"), err)
	}

	cfg := &Config{
		DBPath:     v.GetString("db"),
		Workspace:  v.GetString("workspace"),
		Lease:      lease,
		SweepEvery: sweep,
		JSON:       v.GetBool("json"),
	}
	if cfg.Workspace == "" {
		cfg.Workspace = defaultWorkspace()
	}
	return cfg, nil
}

// defaultWorkspace derives a stable claimant identity from the working
// directory. Orchestrators running in different workspaces get distinct
// identities for free; the engine never interprets the value.
func defaultWorkspace() string {
	wd, err := os.Getwd()
	if err != nil {
		return "unknown-workspace"
	}
	return filepath.Clean(wd)
}
