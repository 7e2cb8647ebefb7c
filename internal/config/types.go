package config

// Config is the root configuration structure loaded from YAML.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Sources   []SourceConfig  `yaml:"sources"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Database  DatabaseConfig  `yaml:"database"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`
	API       APIConfig       `yaml:"api"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"` // "trace", "debug", "info", "warn", "error"
}

// SourceConfig describes one HAProxy log file to follow.
type SourceConfig struct {
	Name   string `yaml:"name"`   // unique label, e.g. "edge-lb"
	Path   string `yaml:"path"`   // e.g. /var/log/haproxy.log
	Parser string `yaml:"parser"` // parser type, defaults to "haproxy"
}

// IngestionConfig tunes the batch pipeline.
type IngestionConfig struct {
	BatchSize      int `yaml:"batch_size"`       // sessions per database insert
	WorkerPoolSize int `yaml:"worker_pool_size"` // parse workers per source
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	Path          string `yaml:"path"`           // e.g. /var/lib/halog/halog.db
	RetentionDays int    `yaml:"retention_days"` // 0 disables cleanup
	MaxOpenConns  int    `yaml:"max_open_conns"` // 0 sizes the pool from CPU count
	MaxIdleConns  int    `yaml:"max_idle_conns"`
}

// GeoIPConfig points at the MaxMind databases. Both are optional; enrichment
// is skipped for databases that are not configured.
type GeoIPConfig struct {
	CityDBPath string `yaml:"city_db_path"`
	ASNDBPath  string `yaml:"asn_db_path"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Listen string `yaml:"listen"` // e.g. ":8080"
}
