// Package config loads the taskcore settings from defaults, an optional YAML
// file and TASKCORE_ environment variables, and validates them.
package config

import "time"

// Config holds all application configuration
type Config struct {
	Pool  PoolConfig  `mapstructure:"pool" validate:"required"`
	Retry RetryConfig `mapstructure:"retry" validate:"required"`
	Log   LogConfig   `mapstructure:"log" validate:"required"`
	Demo  DemoConfig  `mapstructure:"demo" validate:"required"`
}

// PoolConfig contains the worker pool settings
type PoolConfig struct {
	WorkerCount   int           `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueCapacity int           `mapstructure:"queue_capacity" validate:"required,gt=0"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout" validate:"gte=0"`
	RateLimit     float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst     int           `mapstructure:"rate_burst" validate:"gte=0"`
}

// RetryConfig contains the retry policy settings
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,gt=0"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
}

// LogConfig contains the logging settings
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DemoConfig drives the synthetic workload of the command line tool
type DemoConfig struct {
	Tasks          int           `mapstructure:"tasks" validate:"required,gt=0"`
	FailureRate    float64       `mapstructure:"failure_rate" validate:"gte=0,lte=1"`
	CollectTimeout time.Duration `mapstructure:"collect_timeout" validate:"required,gt=0"`
}
