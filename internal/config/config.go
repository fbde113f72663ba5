package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/fleetsup/internal/logger"
)

const (
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultStopTimeout    = 8 * time.Second
	DefaultUpdateInterval = 60 * time.Second
	DefaultFSRoot         = "/var/lib/fleetsup"
)

// Config is the supervisor configuration, read from TOML with FLEETSUP_*
// environment overrides.
type Config struct {
	Group        string        `mapstructure:"group"`
	Organization string        `mapstructure:"organization"`
	FSRoot       string        `mapstructure:"fs_root"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	Env          []string      `mapstructure:"env"`
	EnvFiles     []string      `mapstructure:"env_files"`

	Gossip   GossipConfig    `mapstructure:"gossip"`
	Update   UpdateConfig    `mapstructure:"update"`
	Log      logger.Config   `mapstructure:"log"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	HTTP     HTTPConfig      `mapstructure:"http"`
	History  HistoryConfig   `mapstructure:"history"`
	Services []ServiceConfig `mapstructure:"services"`
}

type GossipConfig struct {
	Listen       string        `mapstructure:"listen"`
	SwimListen   string        `mapstructure:"swim_listen"`
	Permanent    bool          `mapstructure:"permanent"`
	Peers        []string      `mapstructure:"peers"`
	Ring         string        `mapstructure:"ring"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

type UpdateConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Strategy string        `mapstructure:"strategy"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HTTPConfig enables the status API when Listen is set.
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// HistoryConfig enables the lifecycle event sink when DSN is set.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ServiceConfig is one [[services]] entry.
type ServiceConfig struct {
	Ident    string   `mapstructure:"ident"`
	Topology string   `mapstructure:"topology"`
	Strategy string   `mapstructure:"strategy"` // overrides update.strategy
	Group    string   `mapstructure:"group"`    // overrides the top-level group
	Binds    []string `mapstructure:"binds"`
	Env      []string `mapstructure:"env"`
}

var validStrategies = map[string]bool{"": true, "none": true, "at-once": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("group", "default")
	v.SetDefault("organization", "")
	v.SetDefault("fs_root", DefaultFSRoot)
	v.SetDefault("tick_interval", DefaultTickInterval)
	v.SetDefault("stop_timeout", DefaultStopTimeout)
	v.SetDefault("gossip.listen", "0.0.0.0:9638")
	v.SetDefault("gossip.swim_listen", "0.0.0.0:9638")
	v.SetDefault("gossip.permanent", false)
	v.SetDefault("gossip.ring", "")
	v.SetDefault("gossip.push_interval", time.Second)
	v.SetDefault("update.url", "")
	v.SetDefault("update.interval", DefaultUpdateInterval)
	v.SetDefault("update.strategy", "none")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9637")
	v.SetDefault("http.listen", "127.0.0.1:9631")
	v.SetDefault("history.dsn", "")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return cfg
}

// Load reads path (optional) and applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLEETSUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Group) == "" {
		errs = append(errs, errors.New("group must not be empty"))
	}
	if c.FSRoot == "" {
		errs = append(errs, errors.New("fs_root must not be empty"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if c.Update.Interval <= 0 {
		errs = append(errs, fmt.Errorf("update.interval must be positive, got %s", c.Update.Interval))
	}
	if !validStrategies[c.Update.Strategy] {
		errs = append(errs, fmt.Errorf("update.strategy %q is not one of none, at-once", c.Update.Strategy))
	}
	needsDepot := c.Update.Strategy == "at-once"
	for i, s := range c.Services {
		if strings.TrimSpace(s.Ident) == "" {
			errs = append(errs, fmt.Errorf("services[%d]: ident is required", i))
		}
		if !validStrategies[s.Strategy] {
			errs = append(errs, fmt.Errorf("services[%d]: strategy %q is not one of none, at-once", i, s.Strategy))
		}
		if s.Strategy == "at-once" {
			needsDepot = true
		}
	}
	if needsDepot && c.Update.URL == "" {
		errs = append(errs, errors.New("update.url is required when an update strategy is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// StrategyFor returns the effective update strategy for s.
func (c *Config) StrategyFor(s ServiceConfig) string {
	if s.Strategy != "" {
		return s.Strategy
	}
	return c.Update.Strategy
}

// GroupFor returns the effective group for s.
func (c *Config) GroupFor(s ServiceConfig) string {
	if s.Group != "" {
		return s.Group
	}
	return c.Group
}

func (c *Config) KeyCacheDir() string      { return filepath.Join(c.FSRoot, "cache", "keys") }
func (c *Config) ArtifactCacheDir() string { return filepath.Join(c.FSRoot, "cache", "artifacts") }
func (c *Config) SvcRoot() string          { return filepath.Join(c.FSRoot, "svc") }
func (c *Config) LockPath() string         { return filepath.Join(c.FSRoot, "sup", "LOCK") }

// GlobalEnv returns the supervisor-wide service environment: env_files in
// order, then env.
func (c *Config) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and # comments are skipped.
func loadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
