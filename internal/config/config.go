package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Experiment ExperimentConfig `yaml:"experiment"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
}

type ExperimentConfig struct {
	Simulations  int       `yaml:"simulations"`
	Tolerance    int       `yaml:"tolerance"`
	NoiseLevels  []float64 `yaml:"noise_levels,omitempty"`
	DurationMin  int       `yaml:"duration_min,omitempty"`
	DurationMax  int       `yaml:"duration_max,omitempty"`
	Seed         int64     `yaml:"seed,omitempty"`
	Concurrency  int       `yaml:"concurrency,omitempty"`
	OutputFormat string    `yaml:"output_format,omitempty"`
}

type StorageConfig struct {
	Type string `yaml:"type,omitempty"` // "sqlite" or "memory"
	Path string `yaml:"path,omitempty"` // SQLite file path
}

type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if cfg.Experiment.Simulations <= 0 {
		cfg.Experiment.Simulations = 100
	}
	if cfg.Experiment.Tolerance <= 0 {
		cfg.Experiment.Tolerance = 50
	}
	if strings.TrimSpace(cfg.Storage.Type) == "" {
		cfg.Storage.Type = "sqlite"
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}

	if v := strings.TrimSpace(os.Getenv("NUCLEATION_DB_PATH")); v != "" {
		cfg.Storage.Type = "sqlite"
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("NUCLEATION_ADDR")); v != "" {
		cfg.Server.Addr = v
	}

	return &cfg, nil
}
