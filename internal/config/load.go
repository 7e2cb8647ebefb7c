package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates configuration from the provided path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func validate(c *Config) error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of trace, debug, info, warn, error", c.Logging.Level)
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one entry under sources is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if src.Path == "" {
			return fmt.Errorf("sources[%d].path is required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, src.Name)
		}
		seen[src.Name] = true
		if src.Parser == "" {
			c.Sources[i].Parser = "haproxy"
		}
	}

	if c.Ingestion.BatchSize == 0 {
		c.Ingestion.BatchSize = 1000
	}
	if c.Ingestion.BatchSize < 0 {
		return fmt.Errorf("ingestion.batch_size must not be negative")
	}
	if c.Ingestion.WorkerPoolSize == 0 {
		c.Ingestion.WorkerPoolSize = 4
	}
	if c.Ingestion.WorkerPoolSize < 0 {
		return fmt.Errorf("ingestion.worker_pool_size must not be negative")
	}

	if c.Database.Path == "" {
		c.Database.Path = "halog.db"
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection pool sizes must not be negative")
	}

	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}

	return nil
}
