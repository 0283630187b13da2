// Package config handles layered YAML configuration with ARTEMIS_-prefixed
// environment variable overrides, covering the substrate's external
// interfaces: retry, stage timeouts, per-dependency circuit breakers,
// checkpoint storage, rate limiting, and event bus behavior.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all Artemis configuration.
type Config struct {
	Retry      RetryConfig              `yaml:"retry"`
	Stage      StageConfig              `yaml:"stage"`
	Circuit    map[string]CircuitConfig `yaml:"circuit"`
	Checkpoint CheckpointConfig         `yaml:"checkpoint"`
	RateLimit  RateLimitConfig          `yaml:"ratelimit"`
	Events     EventsConfig             `yaml:"events"`
}

// RetryConfig mirrors retry.Policy's resolved settings.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// StageConfig holds stage-wide defaults.
type StageConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
}

// CircuitConfig holds one dependency's circuit breaker parameters.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownMS       int `yaml:"cooldown_ms"`
	HalfOpenProbes   int `yaml:"half_open_probes"`
}

// CheckpointConfig selects and tunes the CheckpointStore backend.
type CheckpointConfig struct {
	Backend  string `yaml:"backend"` // "filesystem" | "memory"
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// RateLimitConfig tunes the optional shared token bucket.
type RateLimitConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Capacity     float64 `yaml:"capacity"`
	RefillPerSec float64 `yaml:"refill_per_sec"`
}

// EventsConfig tunes the EventBus.
type EventsConfig struct {
	DropSlowObservers bool `yaml:"drop_slow_observers"`
}

// DefaultConfig returns a Config with the defaults the retry, circuit,
// and ratelimit packages themselves use.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMS: 1000,
			BackoffFactor:  2.0,
			MaxDelayMS:     30000,
			JitterFraction: 0.2,
		},
		Stage: StageConfig{
			DefaultTimeoutMS: 5 * 60 * 1000,
		},
		Circuit: map[string]CircuitConfig{},
		Checkpoint: CheckpointConfig{
			Backend:  "memory",
			Dir:      ".artemis/checkpoints",
			MaxBytes: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
		},
		Events: EventsConfig{
			DropSlowObservers: false,
		},
	}
}

// Load reads a single YAML config file at path and returns a Config. A
// missing file returns the defaults without error; invalid YAML or
// unknown fields return an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadLayered loads config from multiple paths with increasing
// priority: later paths override earlier ones. Missing files are
// skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}
	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 0 {
		return fmt.Errorf("config: retry.backoff_factor must be non-negative, got %v", c.Retry.BackoffFactor)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("config: retry.jitter_fraction must be in [0, 1], got %v", c.Retry.JitterFraction)
	}
	if c.Stage.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("config: stage.default_timeout_ms must be positive, got %d", c.Stage.DefaultTimeoutMS)
	}
	for name, cc := range c.Circuit {
		if cc.FailureThreshold <= 0 {
			return fmt.Errorf("config: circuit.%s.failure_threshold must be positive, got %d", name, cc.FailureThreshold)
		}
		if cc.CooldownMS <= 0 {
			return fmt.Errorf("config: circuit.%s.cooldown_ms must be positive, got %d", name, cc.CooldownMS)
		}
		if cc.HalfOpenProbes <= 0 {
			return fmt.Errorf("config: circuit.%s.half_open_probes must be positive, got %d", name, cc.HalfOpenProbes)
		}
	}
	switch c.Checkpoint.Backend {
	case "filesystem", "memory":
	default:
		return fmt.Errorf("config: checkpoint.backend must be \"filesystem\" or \"memory\", got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == "filesystem" && c.Checkpoint.Dir == "" {
		return errors.New("config: checkpoint.dir is required when checkpoint.backend is filesystem")
	}
	if c.RateLimit.Enabled && c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("config: ratelimit.capacity must be positive when enabled, got %v", c.RateLimit.Capacity)
	}
	return nil
}

// ApplyEnv applies ARTEMIS_-prefixed environment variable overrides to
// every scalar field the config tree reaches, generalizing a
// hand-maintained per-variable list into one reflective dotted-to-
// underscore walk: a field path retry.max_attempts is overridden by
// ARTEMIS_RETRY_MAX_ATTEMPTS. The Circuit map is keyed dynamically and
// is handled separately by envCircuitOverrides: ARTEMIS_CIRCUIT_<NAME>_
// FAILURE_THRESHOLD (name uppercased, non-alphanumerics replaced with
// underscores).
func (c *Config) ApplyEnv() error {
	if err := applyEnvToStruct(reflect.ValueOf(c).Elem(), "ARTEMIS"); err != nil {
		return err
	}
	return c.envCircuitOverrides()
}

// applyEnvToStruct walks v's fields, recursing into nested structs and
// reading scalar leaves from the environment under prefix, which grows
// with each field's yaml tag uppercased. Maps are skipped here; the
// Circuit map has its own dedicated override path.
func applyEnvToStruct(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")
		if tag == "" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(tag)
		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			if err := applyEnvToStruct(fv, key); err != nil {
				return err
			}
		case reflect.Map:
			continue
		default:
			raw, ok := os.LookupEnv(key)
			if !ok {
				continue
			}
			if err := setScalar(fv, raw); err != nil {
				return fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
			}
		}
	}
	return nil
}

func setScalar(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// envCircuitOverrides scans the process environment for
// ARTEMIS_CIRCUIT_<NAME>_<FIELD> variables and applies them to
// c.Circuit[name], creating the entry if absent.
func (c *Config) envCircuitOverrides() error {
	const prefix = "ARTEMIS_CIRCUIT_"
	fields := map[string]func(*CircuitConfig, string) error{
		"FAILURE_THRESHOLD": func(cc *CircuitConfig, raw string) error {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return err
			}
			cc.FailureThreshold = n
			return nil
		},
		"COOLDOWN_MS": func(cc *CircuitConfig, raw string) error {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return err
			}
			cc.CooldownMS = n
			return nil
		},
		"HALF_OPEN_PROBES": func(cc *CircuitConfig, raw string) error {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return err
			}
			cc.HalfOpenProbes = n
			return nil
		},
	}

	for _, env := range os.Environ() {
		k, v, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		for suffix, setter := range fields {
			if !strings.HasSuffix(rest, "_"+suffix) {
				continue
			}
			name := strings.ToLower(strings.TrimSuffix(rest, "_"+suffix))
			if name == "" {
				continue
			}
			if c.Circuit == nil {
				c.Circuit = map[string]CircuitConfig{}
			}
			cc := c.Circuit[name]
			if err := setter(&cc, v); err != nil {
				return fmt.Errorf("config: invalid %s=%q: %w", k, v, err)
			}
			c.Circuit[name] = cc
		}
	}
	return nil
}

// rawConfig mirrors Config but uses pointers (and a presence-tracked
// map) to distinguish set vs unset fields during a layered merge.
type rawConfig struct {
	Retry      *rawRetry                `yaml:"retry"`
	Stage      *rawStage                `yaml:"stage"`
	Circuit    map[string]CircuitConfig `yaml:"circuit"`
	Checkpoint *rawCheckpoint           `yaml:"checkpoint"`
	RateLimit  *rawRateLimit            `yaml:"ratelimit"`
	Events     *rawEvents               `yaml:"events"`
}

type rawRetry struct {
	MaxAttempts    *int     `yaml:"max_attempts"`
	InitialDelayMS *int     `yaml:"initial_delay_ms"`
	BackoffFactor  *float64 `yaml:"backoff_factor"`
	MaxDelayMS     *int     `yaml:"max_delay_ms"`
	JitterFraction *float64 `yaml:"jitter_fraction"`
}

type rawStage struct {
	DefaultTimeoutMS *int `yaml:"default_timeout_ms"`
}

type rawCheckpoint struct {
	Backend  *string `yaml:"backend"`
	Dir      *string `yaml:"dir"`
	MaxBytes *int64  `yaml:"max_bytes"`
}

type rawRateLimit struct {
	Enabled      *bool    `yaml:"enabled"`
	Capacity     *float64 `yaml:"capacity"`
	RefillPerSec *float64 `yaml:"refill_per_sec"`
}

type rawEvents struct {
	DropSlowObservers *bool `yaml:"drop_slow_observers"`
}

// loadLayer reads a single config file into a rawConfig for selective
// merging. Returns nil if the file does not exist.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &raw, nil
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
// Circuit entries are merged key-by-key rather than replacing the map.
func (c *Config) merge(layer *rawConfig) {
	if r := layer.Retry; r != nil {
		if r.MaxAttempts != nil {
			c.Retry.MaxAttempts = *r.MaxAttempts
		}
		if r.InitialDelayMS != nil {
			c.Retry.InitialDelayMS = *r.InitialDelayMS
		}
		if r.BackoffFactor != nil {
			c.Retry.BackoffFactor = *r.BackoffFactor
		}
		if r.MaxDelayMS != nil {
			c.Retry.MaxDelayMS = *r.MaxDelayMS
		}
		if r.JitterFraction != nil {
			c.Retry.JitterFraction = *r.JitterFraction
		}
	}
	if s := layer.Stage; s != nil && s.DefaultTimeoutMS != nil {
		c.Stage.DefaultTimeoutMS = *s.DefaultTimeoutMS
	}
	if layer.Circuit != nil {
		if c.Circuit == nil {
			c.Circuit = map[string]CircuitConfig{}
		}
		for name, cc := range layer.Circuit {
			c.Circuit[name] = cc
		}
	}
	if cp := layer.Checkpoint; cp != nil {
		if cp.Backend != nil {
			c.Checkpoint.Backend = *cp.Backend
		}
		if cp.Dir != nil {
			c.Checkpoint.Dir = *cp.Dir
		}
		if cp.MaxBytes != nil {
			c.Checkpoint.MaxBytes = *cp.MaxBytes
		}
	}
	if rl := layer.RateLimit; rl != nil {
		if rl.Enabled != nil {
			c.RateLimit.Enabled = *rl.Enabled
		}
		if rl.Capacity != nil {
			c.RateLimit.Capacity = *rl.Capacity
		}
		if rl.RefillPerSec != nil {
			c.RateLimit.RefillPerSec = *rl.RefillPerSec
		}
	}
	if ev := layer.Events; ev != nil && ev.DropSlowObservers != nil {
		c.Events.DropSlowObservers = *ev.DropSlowObservers
	}
}
