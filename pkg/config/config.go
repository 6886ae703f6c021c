// Package config loads and validates certstream-server-go's runtime
// configuration: defaults, merged with an optional YAML file, merged
// with CERTSTREAM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/burakozcn01/certstream-server-go/pkg/utils"
)

// Config is the root configuration struct. Every nested struct carries
// yaml tags so the file and the environment-variable layer agree on
// shape.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	CTLog       CTLogConfig       `yaml:"ct_log" json:"ct_log"`
	Retry       RetryConfig       `yaml:"retry" json:"retry"`
	Breaker     BreakerConfig     `yaml:"circuit_breaker" json:"circuit_breaker"`
	Bus         BusConfig         `yaml:"bus" json:"bus"`
	Connections ConnectionsConfig `yaml:"connections" json:"connections"`
	Auth        AuthConfig        `yaml:"auth" json:"auth"`
	TLS         TLSConfig         `yaml:"tls" json:"tls"`
	HotReload   HotReloadConfig   `yaml:"hot_reload" json:"hot_reload"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	LogLevel    string            `yaml:"log_level" json:"log_level"`
	LogFormat   string            `yaml:"log_format" json:"log_format"`
}

type ServerConfig struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	TCPPort int    `yaml:"tcp_port" json:"tcp_port"`
}

type CTLogConfig struct {
	LogListURL         string        `yaml:"log_list_url" json:"log_list_url"`
	CustomLogs         []CustomLog   `yaml:"custom_logs" json:"custom_logs"`
	RefreshInterval    time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	StateFile          string        `yaml:"state_file" json:"state_file"`
	BatchSize          int64         `yaml:"batch_size" json:"batch_size"`
	PollIntervalMS      int           `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	RequestTimeoutSecs int           `yaml:"request_timeout_secs" json:"request_timeout_secs"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	CheckpointEntries  int           `yaml:"checkpoint_entries" json:"checkpoint_entries"`
}

type CustomLog struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Operator string `yaml:"operator" json:"operator"`
	MMD      int    `yaml:"mmd" json:"mmd"`
}

type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" json:"max_attempts"`
	InitialDelayMS   int `yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMS       int `yaml:"max_delay_ms" json:"max_delay_ms"`
}

type BreakerConfig struct {
	UnhealthyThreshold      int `yaml:"unhealthy_threshold" json:"unhealthy_threshold"`
	HealthyThreshold        int `yaml:"healthy_threshold" json:"healthy_threshold"`
	HealthCheckIntervalSecs int `yaml:"health_check_interval_secs" json:"health_check_interval_secs"`
}

type BusConfig struct {
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
}

type ConnectionsConfig struct {
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	PerIPLimit     int `yaml:"per_ip_limit" json:"per_ip_limit"`
}

type AuthConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	HeaderName string   `yaml:"header_name" json:"header_name"`
	Tokens     []string `yaml:"tokens" json:"tokens"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type HotReloadConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// RateLimitConfig exists only so CERTSTREAM_RATE_LIMIT_* round-trips
// through a config file without error. Per the v1.0.4 decision (see
// DESIGN.md), nothing in the core reads these fields.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int  `yaml:"burst" json:"burst"`
}

// DefaultConfig returns a Config with every field set to the default
// named in spec.md, or, where the spec is silent, the value
// the original Rust implementation used.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			TCPPort: 8081,
		},
		CTLog: CTLogConfig{
			LogListURL:         "https://www.gstatic.com/ct/log_list/v3/all_logs_list.json",
			RefreshInterval:    6 * time.Hour,
			StateFile:          "",
			BatchSize:          256,
			PollIntervalMS:     500,
			RequestTimeoutSecs: 30,
			CheckpointInterval: time.Second,
			CheckpointEntries:  1000,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMS: 100,
			MaxDelayMS:     5000,
		},
		Breaker: BreakerConfig{
			UnhealthyThreshold:      5,
			HealthyThreshold:        3,
			HealthCheckIntervalSecs: 60,
		},
		Bus: BusConfig{
			BufferSize: 1000,
			QueueDepth: 1000,
		},
		Connections: ConnectionsConfig{
			MaxConnections: 0,
			PerIPLimit:     0,
		},
		Auth: AuthConfig{
			Enabled:    false,
			HeaderName: "Authorization",
		},
		HotReload: HotReloadConfig{
			Enabled: false,
		},
	}
}

// Validate collects every violation before returning, the way the
// teacher's Config.Validate does.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.TCPPort <= 0 || c.Server.TCPPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.tcp_port out of range: %d", c.Server.TCPPort))
	}
	if c.CTLog.LogListURL == "" && len(c.CTLog.CustomLogs) == 0 {
		errs = append(errs, "ct_log.log_list_url or ct_log.custom_logs must be set")
	}
	if c.CTLog.BatchSize <= 0 {
		errs = append(errs, "ct_log.batch_size must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be positive")
	}
	if c.Retry.InitialDelayMS <= 0 || c.Retry.MaxDelayMS < c.Retry.InitialDelayMS {
		errs = append(errs, "retry.initial_delay_ms/max_delay_ms invalid")
	}
	if c.Breaker.UnhealthyThreshold <= 0 || c.Breaker.HealthyThreshold <= 0 {
		errs = append(errs, "circuit_breaker thresholds must be positive")
	}
	if c.Bus.BufferSize <= 0 {
		errs = append(errs, "bus.buffer_size must be positive")
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, "tls.cert_file set without tls.key_file")
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, "tls.key_file set without tls.cert_file")
	}
	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		errs = append(errs, "auth.enabled is true but no auth.tokens configured")
	}

	seen := make(map[string]struct{}, len(c.CTLog.CustomLogs))
	for _, l := range c.CTLog.CustomLogs {
		if l.ID == "" {
			errs = append(errs, "custom log with empty id")
			continue
		}
		if _, ok := seen[l.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate custom log id: %s", l.ID))
		}
		seen[l.ID] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Save writes the config atomically (temp file + rename).
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return utils.SafeWriteFile(path, data, 0o644)
}

// Load reads a YAML file on top of DefaultConfig, applies
// CERTSTREAM_* environment overrides on top of that, and validates
// the result. path may be empty, in which case only defaults and
// environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides merges the CERTSTREAM_* environment variables
// enumerated in spec.md §6 and SPEC_FULL.md §2.1 on top of cfg. This
// is the env layer of the precedence chain: defaults, then file, then
// these. It is explicit field-by-field, matching the teacher's own
// flat viper.Get* binding style rather than a nested Unmarshal, since
// viper's mapstructure decoding would require a second set of tags on
// every nested struct.
func applyEnvOverrides(cfg *Config) {
	str(&cfg.Server.Host, "CERTSTREAM_HOST")
	intv(&cfg.Server.Port, "CERTSTREAM_PORT")
	intv(&cfg.Server.TCPPort, "CERTSTREAM_TCP_PORT")
	str(&cfg.LogLevel, "CERTSTREAM_LOG_LEVEL")
	str(&cfg.LogFormat, "CERTSTREAM_LOG_FORMAT")

	str(&cfg.CTLog.LogListURL, "CERTSTREAM_CT_LOGS_URL")
	str(&cfg.CTLog.StateFile, "CERTSTREAM_CT_LOG_STATE_FILE")
	int64v(&cfg.CTLog.BatchSize, "CERTSTREAM_CT_LOG_BATCH_SIZE")
	durationv(&cfg.CTLog.RefreshInterval, "CERTSTREAM_CT_LOG_REFRESH_INTERVAL")

	str(&cfg.TLS.CertFile, "CERTSTREAM_TLS_CERT_FILE")
	str(&cfg.TLS.KeyFile, "CERTSTREAM_TLS_KEY_FILE")

	intv(&cfg.Retry.MaxAttempts, "CERTSTREAM_RETRY_MAX_ATTEMPTS")
	intv(&cfg.Retry.InitialDelayMS, "CERTSTREAM_RETRY_INITIAL_DELAY_MS")
	intv(&cfg.Retry.MaxDelayMS, "CERTSTREAM_RETRY_MAX_DELAY_MS")

	intv(&cfg.Breaker.UnhealthyThreshold, "CERTSTREAM_BREAKER_UNHEALTHY_THRESHOLD")
	intv(&cfg.Breaker.HealthyThreshold, "CERTSTREAM_BREAKER_HEALTHY_THRESHOLD")

	intv(&cfg.Bus.BufferSize, "CERTSTREAM_BUS_BUFFER_SIZE")

	intv(&cfg.Connections.MaxConnections, "CERTSTREAM_MAX_CONNECTIONS")
	intv(&cfg.Connections.PerIPLimit, "CERTSTREAM_PER_IP_LIMIT")

	boolv(&cfg.Auth.Enabled, "CERTSTREAM_AUTH_ENABLED")
	str(&cfg.Auth.HeaderName, "CERTSTREAM_AUTH_HEADER_NAME")
	strSlice(&cfg.Auth.Tokens, "CERTSTREAM_AUTH_TOKENS")

	boolv(&cfg.HotReload.Enabled, "CERTSTREAM_HOT_RELOAD_ENABLED")
	str(&cfg.HotReload.Path, "CERTSTREAM_HOT_RELOAD_PATH")

	// CERTSTREAM_RATE_LIMIT_* round-trips into RateLimitConfig for
	// config-file compatibility only; nothing downstream consults it.
	boolv(&cfg.RateLimit.Enabled, "CERTSTREAM_RATE_LIMIT_ENABLED")
	intv(&cfg.RateLimit.RequestsPerSecond, "CERTSTREAM_RATE_LIMIT_REQUESTS_PER_SECOND")
	intv(&cfg.RateLimit.Burst, "CERTSTREAM_RATE_LIMIT_BURST")
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func strSlice(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func intv(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func int64v(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func boolv(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durationv(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
