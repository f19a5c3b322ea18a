package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the static deployment facts; everything else (feature
// flags, tuning knobs) is parsed from the environment in cmd/analyticsd.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	APIPort     int    `yaml:"api_port"`
	FrontendURL string `yaml:"frontend_url"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
