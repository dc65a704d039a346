package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/semconnect/errors"
)

// Config represents the complete application configuration
type Config struct {
	Version    string                     `json:"version"`
	Platform   PlatformConfig             `json:"platform"`
	NATS       NATSConfig                 `json:"nats"`
	Metrics    MetricsConfig              `json:"metrics"`
	Health     HealthConfig               `json:"health"`
	Heartbeat  HeartbeatConfig            `json:"heartbeat"`
	Connectors map[string]ConnectorConfig `json:"connectors"` // keyed by instance id
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// PlatformConfig defines platform identity
type PlatformConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	// consecutive failures that open the circuit breaker, 5 if unset
	CircuitThreshold int32  `json:"circuit_threshold,omitempty"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	Token            string `json:"token,omitempty"`
}

// URL returns the comma joined server list, or "" if none is configured.
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// HealthConfig configures the health endpoint.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// HeartbeatConfig configures the device heartbeat watcher.
type HeartbeatConfig struct {
	Enabled  bool          `json:"enabled"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return missing("platform.id")
	}
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return invalid("platform.id %q is not valid for NATS subjects", c.Platform.ID)
	}

	if c.Heartbeat.Enabled {
		if len(c.NATS.URLs) == 0 {
			return missing("nats.urls (required by heartbeat)")
		}
		if c.Heartbeat.Timeout < 0 || c.Heartbeat.Interval <= 0 {
			return invalid("heartbeat timeout must not be negative and interval must be positive")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}

	for id, cc := range c.Connectors {
		if id == "" {
			return missing("connector instance id")
		}
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("connector %s: %w", id, err)
		}
		if cc.Enabled && cc.Type == "nats" && len(c.NATS.URLs) == 0 && cc.Host == "" {
			return fmt.Errorf("connector %s: %w", id, missing("host or nats.urls"))
		}
	}

	return nil
}

func missing(what string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingConfig, what), "Config", "Validate", "required field")
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "field check")
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "SEMCONNECT",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(l.getDefaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", "load "+path)
		}
		merged = l.deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyBusDefaults()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		Version: "1.0.0",
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  false,
			Timeout:  4 * time.Second,
			Interval: time.Second,
		},
	}
}

// loadRaw reads a JSON or YAML layer, chosen by extension, into a map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "loadRaw", "parse yaml")
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "loadRaw", "parse json")
		}
	}

	if err := checkDepth(raw, 0); err != nil {
		return nil, err
	}
	if err := l.parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "decode merged config")
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// durationKeys lists the duration settings outside of connector sections.
var durationKeys = [][]string{
	{"nats", "reconnect_wait"},
	{"nats", "timeout"},
	{"heartbeat", "timeout"},
	{"heartbeat", "interval"},
}

// connectorDurationKeys lists the duration settings of a connector section.
var connectorDurationKeys = []string{"request_timeout", "notification_interval", "keep_alive", "idle_cleanup"}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) error {
	for _, keys := range durationKeys {
		if err := convertDuration(data, keys); err != nil {
			return err
		}
	}

	connectors, ok := data["connectors"].(map[string]any)
	if !ok {
		return nil
	}
	for id, section := range connectors {
		cc, ok := section.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range connectorDurationKeys {
			if err := convertDuration(cc, []string{key}); err != nil {
				return fmt.Errorf("connector %s: %w", id, err)
			}
		}
	}
	return nil
}

// nestedString returns the string at keys, or "" if any level is missing or
// has another type.
func nestedString(data map[string]any, keys []string) string {
	for i, key := range keys {
		if i == len(keys)-1 {
			s, _ := data[key].(string)
			return s
		}
		next, ok := data[key].(map[string]any)
		if !ok {
			return ""
		}
		data = next
	}
	return ""
}

func convertDuration(data map[string]any, keys []string) error {
	s := nestedString(data, keys)
	if s == "" {
		return nil
	}
	d, err := parseDurationWithDays(s)
	if err != nil {
		return invalid("%s: %v", strings.Join(keys, "."), err)
	}
	parent := data
	for _, k := range keys[:len(keys)-1] {
		parent = parent[k].(map[string]any)
	}
	parent[keys[len(keys)-1]] = d.Nanoseconds()
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(key string) (string, bool, error) {
		name := l.envPrefix + "_" + key
		val := os.Getenv(name)
		if val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(name, val); err != nil {
			return "", false, err
		}
		return val, true, nil
	}

	strOverrides := map[string]*string{
		"PLATFORM_ID":          &cfg.Platform.ID,
		"PLATFORM_NAME":        &cfg.Platform.Name,
		"NATS_USERNAME":        &cfg.NATS.Username,
		"NATS_PASSWORD":        &cfg.NATS.Password,
		"NATS_TOKEN":           &cfg.NATS.Token,
		"HEALTH_ADDR":          &cfg.Health.Addr,
		"METRICS_PATH":         &cfg.Metrics.Path,
		"PLATFORM_ENVIRONMENT": &cfg.Platform.Environment,
	}
	for key, target := range strOverrides {
		val, ok, err := lookup(key)
		if err != nil {
			return err
		}
		if ok {
			*target = val
		}
	}

	if val, ok, err := lookup("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	if val, ok, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, perr := strconv.Atoi(val)
		if perr != nil {
			return invalid("%s_METRICS_PORT: %v", l.envPrefix, perr)
		}
		cfg.Metrics.Port = port
	}

	if val, ok, err := lookup("HEARTBEAT_TIMEOUT"); err != nil {
		return err
	} else if ok {
		d, perr := parseDurationWithDays(val)
		if perr != nil {
			return invalid("%s_HEARTBEAT_TIMEOUT: %v", l.envPrefix, perr)
		}
		cfg.Heartbeat.Timeout = d
	}
	return nil
}

// SaveToFile saves the configuration as JSON, or as YAML for .yaml and .yml
// paths.
func (c *Config) SaveToFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err := toMap(c)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(m)
		if err != nil {
			return err
		}
		return writeConfigFile(path, data)
	default:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		return writeConfigFile(path, data)
	}
}

// EnabledConnectors returns the ids of enabled connector instances, sorted.
func (c *Config) EnabledConnectors() []string {
	ids := make([]string, 0, len(c.Connectors))
	for id, cc := range c.Connectors {
		if cc.Enabled {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
