// Package config loads the agent configuration: built-in defaults, then an
// optional YAML file, then RATINGSYNC_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ratingsync/internal/connectivity"
	"github.com/roach88/ratingsync/internal/engine"
)

// Defaults.
const (
	DefaultListen  = "127.0.0.1:8780"
	DefaultOrigin  = "http://localhost:3000"
	DefaultDataDir = "ratingsync-data"

	// DatabaseFile is the record store inside DataDir.
	DatabaseFile = "ratings.db"
)

// Config is the agent configuration.
type Config struct {
	// Listen is the local address the page talks to.
	Listen string `yaml:"listen" env:"RATINGSYNC_LISTEN"`

	// Origin is the server that hosts the rating form.
	Origin string `yaml:"origin" env:"RATINGSYNC_ORIGIN"`

	// APIBase is where ratings are delivered. Default: Origin + "/api".
	APIBase string `yaml:"api_base" env:"RATINGSYNC_API_BASE"`

	// DataDir holds the record store and the device profile.
	DataDir string `yaml:"data_dir" env:"RATINGSYNC_DATA_DIR"`

	// Manifest is an optional asset manifest file, watched for changes.
	Manifest string `yaml:"manifest" env:"RATINGSYNC_MANIFEST"`

	Sync         Sync         `yaml:"sync" envPrefix:"RATINGSYNC_SYNC_"`
	Connectivity Connectivity `yaml:"connectivity" envPrefix:"RATINGSYNC_CONNECTIVITY_"`
}

// Sync configures the sync engine.
type Sync struct {
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	Jitter         float64       `yaml:"jitter" env:"JITTER"`

	// BackgroundInterval is the periodic wake-up. Zero disables it.
	BackgroundInterval time.Duration `yaml:"background_interval" env:"BACKGROUND_INTERVAL"`
}

// Connectivity configures the coordinator and prober.
type Connectivity struct {
	SettleDelay      time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	ProbeInterval    time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`

	// HealthPath is probed on the origin. Empty disables probing.
	HealthPath string `yaml:"health_path" env:"HEALTH_PATH"`
}

// Default returns the built-in configuration.
func Default() Config {
	ec := engine.DefaultConfig()
	return Config{
		Listen:  DefaultListen,
		Origin:  DefaultOrigin,
		DataDir: DefaultDataDir,
		Sync: Sync{
			MaxRetries:         ec.MaxRetries,
			InitialBackoff:     ec.InitialBackoff,
			MaxBackoff:         ec.MaxBackoff,
			Jitter:             ec.Jitter,
			BackgroundInterval: 5 * time.Minute,
		},
		Connectivity: Connectivity{
			SettleDelay:      connectivity.DefaultSettleDelay,
			ProbeInterval:    connectivity.DefaultProbeInterval,
			ProbeTimeout:     connectivity.DefaultProbeTimeout,
			FailureThreshold: connectivity.DefaultFailureThreshold,
			HealthPath:       "/",
		},
	}
}

// Load builds the configuration. file may be empty.
func Load(file string) (Config, error) {
	cfg := Default()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.APIBase == "" {
		cfg.APIBase = strings.TrimSuffix(cfg.Origin, "/") + "/api"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if err := absoluteURL("origin", c.Origin); err != nil {
		errs = append(errs, err)
	}
	if err := absoluteURL("api_base", c.APIBase); err != nil {
		errs = append(errs, err)
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries))
	}
	if c.Sync.InitialBackoff <= 0 || c.Sync.MaxBackoff <= 0 {
		errs = append(errs, errors.New("sync backoff durations must be positive"))
	} else if c.Sync.InitialBackoff > c.Sync.MaxBackoff {
		errs = append(errs, fmt.Errorf("sync.initial_backoff %s exceeds sync.max_backoff %s", c.Sync.InitialBackoff, c.Sync.MaxBackoff))
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		errs = append(errs, fmt.Errorf("sync.jitter must be within [0, 1], got %v", c.Sync.Jitter))
	}
	if c.Sync.BackgroundInterval < 0 {
		errs = append(errs, errors.New("sync.background_interval must not be negative"))
	}
	if c.Connectivity.SettleDelay < 0 {
		errs = append(errs, errors.New("connectivity.settle_delay must not be negative"))
	}
	if c.Connectivity.HealthPath != "" {
		if c.Connectivity.ProbeInterval <= 0 || c.Connectivity.ProbeTimeout <= 0 {
			errs = append(errs, errors.New("connectivity probe durations must be positive"))
		}
		if c.Connectivity.FailureThreshold < 1 {
			errs = append(errs, errors.New("connectivity.failure_threshold must be at least 1"))
		}
		if !strings.HasPrefix(c.Connectivity.HealthPath, "/") {
			errs = append(errs, fmt.Errorf("connectivity.health_path %q must start with /", c.Connectivity.HealthPath))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func absoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return nil
}

// DatabasePath returns the record store file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFile)
}

// HealthURL returns the probe target, or "" when probing is disabled.
func (c Config) HealthURL() string {
	if c.Connectivity.HealthPath == "" {
		return ""
	}
	return strings.TrimSuffix(c.Origin, "/") + c.Connectivity.HealthPath
}

// Engine returns the sync engine settings.
func (c Config) Engine() engine.Config {
	return engine.Config{
		MaxRetries:     c.Sync.MaxRetries,
		InitialBackoff: c.Sync.InitialBackoff,
		MaxBackoff:     c.Sync.MaxBackoff,
		Jitter:         c.Sync.Jitter,
	}
}
