// Package config loads service configuration from the environment.
// Every key has a default, so the service starts with no configuration at
// all; HARVEST_-prefixed variables override individual settings.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	RedisAddr       string        `mapstructure:"redis_addr" validate:"required"`
	RedisRetention  time.Duration `mapstructure:"redis_retention" validate:"required"`
	OllamaURL       string        `mapstructure:"ollama_url" validate:"required,url"`
	OllamaModel     string        `mapstructure:"ollama_model" validate:"required"`
	DefaultTimeout  int           `mapstructure:"default_timeout" validate:"gte=10,lte=300"`
	MaxSourceLength int           `mapstructure:"max_source_length" validate:"gt=0"`
	MaxQueryLength  int           `mapstructure:"max_query_length" validate:"gt=0"`
	MaxListLimit    int           `mapstructure:"max_list_limit" validate:"gt=0"`
	APIKeys         []string      `mapstructure:"api_keys"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_retention", "24h")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("ollama_model", "llama3.2:1b")
	v.SetDefault("default_timeout", 120)
	v.SetDefault("max_source_length", 50000)
	v.SetDefault("max_query_length", 1000)
	v.SetDefault("max_list_limit", 100)
	v.SetDefault("api_keys", []string{})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
