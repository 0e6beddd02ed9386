// Package config loads the fabric process's configuration surface
// (spec.md §6 plus SPEC_FULL.md's ambient additions) via viper,
// defaults first, then environment overrides. The executor process
// loads its own configuration in internal/executorclient.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fabric process's (cmd/fabric) full configuration.
type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPoolSize int    `mapstructure:"redis_pool_size"`

	APIKeys          string `mapstructure:"api_keys"`
	AdminIdentities  string `mapstructure:"admin_identities"`

	CommandTimeoutDefaultSeconds int `mapstructure:"command_timeout_default_seconds"`
	CommandTimeoutMaxSeconds     int `mapstructure:"command_timeout_max_seconds"`
	CommandOutputCapBytes        int `mapstructure:"command_output_cap_bytes"`
	SSEKeepaliveSeconds          int `mapstructure:"sse_keepalive_seconds"`

	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	RequestTimeoutSeconds  int      `mapstructure:"request_timeout_seconds"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`

	MetricsAuthEnabled bool `mapstructure:"metrics_auth_enabled"`

	TracingEnabled      bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint     string  `mapstructure:"tracing_endpoint"`
	TracingServiceName  string  `mapstructure:"tracing_service_name"`
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`
}

// Load reads config.{yaml,env} from the working directory / /etc/kubently
// plus KUBENTLY_-prefixed environment variables, applying defaults first.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/kubently/")
	viper.AddConfigPath("$HOME/.kubently")
	viper.AddConfigPath(".")

	viper.SetDefault("port", 8080)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")

	viper.SetDefault("redis_host", "localhost")
	viper.SetDefault("redis_port", 6379)
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("redis_pool_size", 100)

	viper.SetDefault("api_keys", "")
	viper.SetDefault("admin_identities", "")

	viper.SetDefault("command_timeout_default_seconds", 10)
	viper.SetDefault("command_timeout_max_seconds", 60)
	viper.SetDefault("command_output_cap_bytes", 1024*1024)
	viper.SetDefault("sse_keepalive_seconds", 20)

	viper.SetDefault("shutdown_timeout_seconds", 15)
	viper.SetDefault("request_timeout_seconds", 30)
	viper.SetDefault("allowed_origins", []string{})

	viper.SetDefault("metrics_auth_enabled", false)

	viper.SetDefault("tracing_enabled", false)
	viper.SetDefault("tracing_endpoint", "")
	viper.SetDefault("tracing_service_name", "kubently-fabric")
	viper.SetDefault("tracing_sampling_rate", 1.0)

	viper.SetEnvPrefix("KUBENTLY")
	viper.AutomaticEnv()
	// Bit-for-bit env names from spec.md §6 (no KUBENTLY_ prefix, unprefixed).
	bindLegacyEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.AllowedOrigins) == 1 && strings.Contains(cfg.AllowedOrigins[0], ",") {
		parts := strings.Split(cfg.AllowedOrigins[0], ",")
		cfg.AllowedOrigins = make([]string, 0, len(parts))
		for _, p := range parts {
			if o := strings.TrimSpace(p); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.CommandTimeoutDefaultSeconds < 1 {
		cfg.CommandTimeoutDefaultSeconds = 1
	}
	if cfg.CommandTimeoutMaxSeconds > 60 {
		cfg.CommandTimeoutMaxSeconds = 60
	}

	return &cfg, nil
}

// bindLegacyEnv binds spec.md §6's literal, unprefixed env var names
// (REDIS_HOST, API_KEYS, PORT, ...) so deployments following the spec's
// wire contract work without a KUBENTLY_ prefix.
func bindLegacyEnv() {
	pairs := map[string]string{
		"redis_host":                       "REDIS_HOST",
		"redis_port":                       "REDIS_PORT",
		"redis_password":                   "REDIS_PASSWORD",
		"api_keys":                         "API_KEYS",
		"port":                             "PORT",
		"command_timeout_default_seconds":  "COMMAND_TIMEOUT_DEFAULT_SECONDS",
		"command_output_cap_bytes":         "COMMAND_OUTPUT_CAP_BYTES",
		"sse_keepalive_seconds":            "SSE_KEEPALIVE_SECONDS",
	}
	for key, env := range pairs {
		_ = viper.BindEnv(key, env)
	}
}

// ParseServiceIdentities parses the API_KEYS wire format "service:key,service:key,...".
func ParseServiceIdentities(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			continue
		}
		identity := pair[:idx]
		key := pair[idx+1:]
		out[identity] = key
	}
	return out
}

// AdminIdentitySet parses a comma-separated admin identity allow-list.
func AdminIdentitySet(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			out[id] = true
		}
	}
	return out
}
