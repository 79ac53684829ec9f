// Package config loads the andon TOML configuration. Every scalar key can be
// overridden from the environment with the ANDON_ prefix, for example
// ANDON_STORE_DSN or ANDON_POLLER_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // shift time zones on hosts without a zoneinfo database

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/andon/internal/env"
	"github.com/loykin/andon/internal/fault"
	"github.com/loykin/andon/internal/logger"
	"github.com/loykin/andon/internal/shift"
	"github.com/loykin/andon/internal/store"
)

// Shift window sources.
const (
	ShiftSourceConfig = "config"
	ShiftSourceStore  = "store"
)

var ErrInvalid = errors.New("invalid configuration")

// Config represents the top-level TOML structure.
type Config struct {
	EnvFiles     []string        `toml:"env_files" mapstructure:"env_files"`
	Poller       PollerConfig    `toml:"poller" mapstructure:"poller"`
	Shift        ShiftConfig     `toml:"shift" mapstructure:"shift"`
	Store        StoreConfig     `toml:"store" mapstructure:"store"`
	History      HistoryConfig   `toml:"history" mapstructure:"history"`
	Log          logger.Config   `toml:"log" mapstructure:"log"`
	Metrics      MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Server       ServerConfig    `toml:"server" mapstructure:"server"`
	Stations     []StationConfig `toml:"stations" mapstructure:"stations"`
	StationsFile string          `toml:"stations_file" mapstructure:"stations_file"`
}

type PollerConfig struct {
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
	Workers    int           `toml:"workers" mapstructure:"workers"`
	CountIndex int           `toml:"count_index" mapstructure:"count_index"`
}

type ShiftConfig struct {
	Timezone string         `toml:"timezone" mapstructure:"timezone"`
	Source   string         `toml:"source" mapstructure:"source"`
	CacheTTL time.Duration  `toml:"cache_ttl" mapstructure:"cache_ttl"`
	Windows  []WindowConfig `toml:"windows" mapstructure:"windows"`
}

type WindowConfig struct {
	Number int    `toml:"number" mapstructure:"number" yaml:"number"`
	Start  string `toml:"start" mapstructure:"start" yaml:"start"`
	End    string `toml:"end" mapstructure:"end" yaml:"end"`
}

type StoreConfig struct {
	DSN   string      `toml:"dsn" mapstructure:"dsn"`
	Retry RetryConfig `toml:"retry" mapstructure:"retry"`
}

type RetryConfig struct {
	Initial    time.Duration `toml:"initial" mapstructure:"initial"`
	Max        time.Duration `toml:"max" mapstructure:"max"`
	MaxElapsed time.Duration `toml:"max_elapsed" mapstructure:"max_elapsed"`
}

type HistoryConfig struct {
	Sinks   []string      `toml:"sinks" mapstructure:"sinks"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen serves /metrics on its own address. Empty keeps it on the
	// status surface only.
	Listen string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	// Listen is the status surface address; empty disables it.
	Listen string `toml:"listen" mapstructure:"listen"`
}

// StationConfig is one station entry, from [[stations]] or stations_file.
type StationConfig struct {
	Name        string         `toml:"name" mapstructure:"name" yaml:"name"`
	Address     string         `toml:"address" mapstructure:"address" yaml:"address"`
	CategoryMap map[string]int `toml:"category_map" mapstructure:"category_map" yaml:"category_map"`
	CountIndex  *int           `toml:"count_index" mapstructure:"count_index" yaml:"count_index"`
	Active      *bool          `toml:"active" mapstructure:"active" yaml:"active"`
}

// Station converts the entry to the stored form. Stations are active unless
// set otherwise.
func (s StationConfig) Station() store.Station {
	active := true
	if s.Active != nil {
		active = *s.Active
	}
	return store.Station{
		Name:        s.Name,
		Address:     s.Address,
		CategoryMap: s.CategoryMap,
		CountIndex:  s.CountIndex,
		Active:      active,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poller.interval", "1500ms")
	v.SetDefault("poller.timeout", "5s")
	v.SetDefault("poller.workers", 4)
	v.SetDefault("poller.count_index", 1)
	v.SetDefault("shift.timezone", "Local")
	v.SetDefault("shift.source", ShiftSourceConfig)
	v.SetDefault("shift.cache_ttl", "30s")
	v.SetDefault("store.dsn", "andon.db")
	v.SetDefault("store.retry.initial", "50ms")
	v.SetDefault("store.retry.max", "400ms")
	v.SetDefault("store.retry.max_elapsed", "1s")
	v.SetDefault("history.timeout", "2s")
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("stations_file", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("ANDON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the TOML file at path (optional), applies environment
// overrides, expands ${VAR} references in DSNs and station addresses,
// merges stations_file and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	// lists are not bound by AutomaticEnv; sink DSNs may contain commas
	if s := os.Getenv("ANDON_HISTORY_SINKS"); s != "" {
		v.Set("history.sinks", strings.Fields(s))
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(c.Shift.Windows) == 0 {
		c.Shift.Windows = windowConfigs(shift.DefaultWindows())
	}

	base := ""
	if path != "" {
		base = filepath.Dir(path)
	}
	e := env.New().FromOS()
	if err := e.LoadFiles(resolve(base, c.EnvFiles)...); err != nil {
		return nil, err
	}
	if c.StationsFile != "" {
		more, err := LoadStationsFile(resolve(base, []string{c.StationsFile})[0])
		if err != nil {
			return nil, err
		}
		c.Stations = append(c.Stations, more...)
	}
	c.expand(e)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) expand(e *env.Env) {
	c.Store.DSN = e.Expand(c.Store.DSN)
	for i, s := range c.History.Sinks {
		c.History.Sinks[i] = e.Expand(s)
	}
	for i := range c.Stations {
		c.Stations[i].Address = e.Expand(c.Stations[i].Address)
	}
}

// LoadStationsFile reads a YAML list of stations:
//
//   - name: LINE-1
//     address: 10.0.0.5
//     category_map: {PMD: 0, Quality: 2}
func LoadStationsFile(path string) ([]StationConfig, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("stations file: %w", err)
	}
	var out []StationConfig
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("stations file %s: %w", path, err)
	}
	return out, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Poller.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poller.interval must be > 0"))
	}
	if c.Poller.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("poller.timeout must be > 0"))
	}
	if c.Poller.Workers < 1 {
		errs = append(errs, fmt.Errorf("poller.workers must be >= 1"))
	}
	if c.Poller.CountIndex < 0 {
		errs = append(errs, fmt.Errorf("poller.count_index must be >= 0"))
	}
	switch c.Shift.Source {
	case ShiftSourceConfig, ShiftSourceStore:
	default:
		errs = append(errs, fmt.Errorf("shift.source must be %q or %q, got %q", ShiftSourceConfig, ShiftSourceStore, c.Shift.Source))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShiftWindows(); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Listen != "" {
		switch {
		case !c.Metrics.Enabled:
			errs = append(errs, fmt.Errorf("metrics.listen is set but metrics are disabled"))
		case c.Metrics.Listen == c.Server.Listen:
			errs = append(errs, fmt.Errorf("metrics.listen %q collides with server.listen", c.Metrics.Listen))
		}
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required"))
	}
	seen := make(map[string]bool, len(c.Stations))
	for i, st := range c.Stations {
		switch {
		case strings.TrimSpace(st.Name) == "":
			errs = append(errs, fmt.Errorf("stations[%d]: name is required", i))
			continue
		case !store.ValidStationName(st.Name):
			errs = append(errs, fmt.Errorf("station %q: name must be ASCII letters, digits, '.', '_', '-' or inner spaces, at most %d bytes", st.Name, store.MaxStationNameLen))
			continue
		case seen[st.Name]:
			errs = append(errs, fmt.Errorf("station %s: duplicate name", st.Name))
		}
		seen[st.Name] = true
		if strings.TrimSpace(st.Address) == "" {
			errs = append(errs, fmt.Errorf("station %s: address is required", st.Name))
		}
		if err := fault.ValidateIndexMap(st.CategoryMap); err != nil {
			errs = append(errs, fmt.Errorf("station %s: %w", st.Name, err))
		}
		if st.CountIndex != nil && *st.CountIndex < 0 {
			errs = append(errs, fmt.Errorf("station %s: count_index must be >= 0", st.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Location returns the shift time zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Shift.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Shift.Timezone)
	if err != nil {
		return nil, fmt.Errorf("shift.timezone: %w", err)
	}
	return loc, nil
}

// ShiftWindows parses and validates the configured windows.
func (c *Config) ShiftWindows() ([]shift.Window, error) {
	out := make([]shift.Window, 0, len(c.Shift.Windows))
	for _, w := range c.Shift.Windows {
		start, err := shift.ParseClock(w.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %d start: %w", w.Number, err)
		}
		end, err := shift.ParseClock(w.End)
		if err != nil {
			return nil, fmt.Errorf("shift %d end: %w", w.Number, err)
		}
		out = append(out, shift.Window{Number: w.Number, Start: start, End: end})
	}
	if err := shift.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// RetryConfig returns the store retry policy.
func (c *Config) RetryConfig() store.RetryConfig {
	return store.RetryConfig{
		InitialInterval: c.Store.Retry.Initial,
		MaxInterval:     c.Store.Retry.Max,
		MaxElapsed:      c.Store.Retry.MaxElapsed,
	}
}

// StoreStations returns the configured stations in stored form.
func (c *Config) StoreStations() []store.Station {
	out := make([]store.Station, 0, len(c.Stations))
	for _, s := range c.Stations {
		out = append(out, s.Station())
	}
	return out
}

func windowConfigs(ws []shift.Window) []WindowConfig {
	out := make([]WindowConfig, 0, len(ws))
	for _, w := range ws {
		out = append(out, WindowConfig{Number: w.Number, Start: w.Start.String(), End: w.End.String()})
	}
	return out
}

func resolve(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if base != "" && !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, p)
	}
	return out
}
