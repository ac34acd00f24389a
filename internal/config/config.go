// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"

	"docdelta/internal/source"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "DOCDELTA"

type Config struct {
	Root        string `mapstructure:"root" validate:"required"`
	Model       string `mapstructure:"model" validate:"required"`
	Environment string `mapstructure:"environment" validate:"oneof=development production"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Source   SourceConfig   `mapstructure:"source"`
	Tokens   TokenConfig    `mapstructure:"tokens"`
	Chunk    ChunkConfig    `mapstructure:"chunk"`
	Impact   ImpactConfig   `mapstructure:"impact"`
	Generate GenerateConfig `mapstructure:"generate"`
	State    StateConfig    `mapstructure:"state"`
	Server   ServerConfig   `mapstructure:"server"`
}

type SourceConfig struct {
	Include     []string `mapstructure:"include"`
	Exclude     []string `mapstructure:"exclude"`
	MaxFileSize int64    `mapstructure:"max_file_size" validate:"gt=0"`
}

type TokenConfig struct {
	OverheadPercent  float64 `mapstructure:"overhead_percent" validate:"gte=0,lte=100"`
	MaxContextTokens int     `mapstructure:"max_context_tokens" validate:"gt=0"`
	CacheSize        int     `mapstructure:"cache_size" validate:"gte=0"`
	Exact            bool    `mapstructure:"exact"`
}

type ChunkConfig struct {
	Budget         int    `mapstructure:"budget" validate:"gt=0"`
	PromptOverhead int    `mapstructure:"prompt_overhead" validate:"gte=0"`
	Overlap        int    `mapstructure:"overlap" validate:"gte=0"`
	Strategy       string `mapstructure:"strategy" validate:"oneof=auto single group pack"`
	GroupDepth     int    `mapstructure:"group_depth" validate:"gte=1"`
	MaxEscalations int    `mapstructure:"max_escalations" validate:"gte=0"`
}

type ImpactConfig struct {
	LowThreshold    float64 `mapstructure:"low_threshold" validate:"gt=0,lte=1"`
	MediumThreshold float64 `mapstructure:"medium_threshold" validate:"gtefield=LowThreshold,lte=1"`
	ForceFull       bool    `mapstructure:"force_full"`
}

type GenerateConfig struct {
	Concurrency       int     `mapstructure:"concurrency" validate:"gte=1"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	FailurePolicy     string  `mapstructure:"failure_policy" validate:"oneof=abort continue"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"gte=0"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=file badger"`
	Path    string `mapstructure:"path" validate:"required"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=1,lte=65535"`
}

// flagBindings maps config keys onto CLI flag names.
var flagBindings = map[string]string{
	"root":                      "dir",
	"model":                     "model",
	"log_level":                 "log-level",
	"source.include":            "include",
	"source.exclude":            "exclude",
	"source.max_file_size":      "max-size",
	"tokens.overhead_percent":   "overhead-percent",
	"tokens.max_context_tokens": "max-context-tokens",
	"tokens.exact":              "exact",
	"chunk.budget":              "budget",
	"chunk.strategy":            "strategy",
	"chunk.overlap":             "overlap",
	"impact.force_full":         "force-full",
	"generate.concurrency":      "concurrency",
	"generate.failure_policy":   "failure-policy",
	"state.backend":             "state-backend",
	"state.path":                "state-path",
	"server.host":               "host",
	"server.port":               "port",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("model", "gpt-5")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("source.include", source.DefaultInclude)
	v.SetDefault("source.exclude", source.DefaultExclude)
	v.SetDefault("source.max_file_size", int64(source.DefaultMaxFileSize))

	v.SetDefault("tokens.overhead_percent", 3.0)
	v.SetDefault("tokens.max_context_tokens", 200000)
	v.SetDefault("tokens.cache_size", 4096)
	v.SetDefault("tokens.exact", false)

	v.SetDefault("chunk.budget", 140000)
	v.SetDefault("chunk.prompt_overhead", 2000)
	v.SetDefault("chunk.overlap", 0)
	v.SetDefault("chunk.strategy", "auto")
	v.SetDefault("chunk.group_depth", 1)
	v.SetDefault("chunk.max_escalations", 3)

	v.SetDefault("impact.low_threshold", 0.2)
	v.SetDefault("impact.medium_threshold", 0.5)
	v.SetDefault("impact.force_full", false)

	v.SetDefault("generate.concurrency", 4)
	v.SetDefault("generate.requests_per_second", 0.0)
	v.SetDefault("generate.failure_policy", "abort")
	v.SetDefault("generate.max_retries", 2)

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.path", ".docdelta/state.json")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8089)
}

// Load resolves configuration with priority flags > env > file > defaults.
// An empty path looks for an optional docdelta.{json,yaml} in the working
// directory; an explicit path must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("docdelta")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration without consulting files, env
// or flags.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
