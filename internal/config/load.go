package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "TASKCORE"

// setDefaults registers every recognized key, which also lets AutomaticEnv
// resolve it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.worker_count", 4)
	v.SetDefault("pool.queue_capacity", 16)
	v.SetDefault("pool.submit_timeout", "0s")
	v.SetDefault("pool.rate_limit", 0.0)
	v.SetDefault("pool.rate_burst", 1)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("demo.tasks", 20)
	v.SetDefault("demo.failure_rate", 0.3)
	v.SetDefault("demo.collect_timeout", "1m")
}

// Load reads configuration from defaults, the YAML file at path (skipped when
// path is empty) and TASKCORE_* environment variables, in increasing order of
// precedence. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
