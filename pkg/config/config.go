package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dota-labs/dota-engine/pkg/models"
)

// Config holds all configuration for the engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the catalog password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr  string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port      string `yaml:"port" env:"PORT" env-default:"8000"`
	Env       string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	Transport string `yaml:"transport" env:"MCP_TRANSPORT" env-default:"http"` // http | stdio
	Version   string `yaml:"-"`                                               // Set at load time, not from config

	// Catalog connection (SQL Server)
	Catalog CatalogConfig `yaml:"catalog"`

	// Lineage engine knobs
	Lineage LineageConfig `yaml:"lineage"`
}

// CatalogConfig holds the catalog database connection settings.
type CatalogConfig struct {
	Host                   string `yaml:"host" env:"DB_SERVER" env-default:"localhost"`
	Port                   int    `yaml:"port" env:"DB_PORT" env-default:"1433"`
	Database               string `yaml:"database" env:"DB_NAME"`
	Username               string `yaml:"username" env:"DB_USER"`
	Password               string `yaml:"-" env:"DB_PASS"` // Secret - not in YAML
	Encrypt                bool   `yaml:"encrypt" env:"DB_ENCRYPT" env-default:"true"`
	TrustServerCertificate bool   `yaml:"trust_server_certificate" env:"DB_TRUST_SERVER_CERTIFICATE" env-default:"false"`
	ConnectionTimeout      int    `yaml:"connection_timeout" env:"DB_TIMEOUT" env-default:"30"`
}

// LineageConfig holds traversal and output settings for lineage requests.
// The hard depth cap (models.MaxLineageDepth) is deliberately not
// configurable; DefaultMaxDepth only sets the depth used when a caller
// omits one.
type LineageConfig struct {
	DefaultMaxDepth int    `yaml:"default_max_depth" env:"LINEAGE_MAX_DEPTH" env-default:"5"`
	MaxProcScan     int    `yaml:"max_proc_scan" env:"LINEAGE_MAX_PROC_SCAN" env-default:"3000"`
	DefaultDetail   string `yaml:"default_detail" env:"LINEAGE_INCLUDE_DEFS" env-default:"excerpt"`
	MemoSize        int    `yaml:"memo_size" env:"LINEAGE_MEMO_SIZE" env-default:"512"`
	ExposeDatabase  bool   `yaml:"expose_database" env:"LINEAGE_EXPOSE_DATABASE" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml is absent the environment alone is used. The
// version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Transport != "http" && c.Transport != "stdio" {
		return fmt.Errorf("transport must be http or stdio, got %q", c.Transport)
	}
	if c.Lineage.DefaultMaxDepth < 1 {
		c.Lineage.DefaultMaxDepth = 1
	}
	if c.Lineage.DefaultMaxDepth > models.MaxLineageDepth {
		return fmt.Errorf("default_max_depth %d exceeds the hard cap %d",
			c.Lineage.DefaultMaxDepth, models.MaxLineageDepth)
	}
	switch c.Lineage.DefaultDetail {
	case models.DetailNone, models.DetailExcerpt, models.DetailFull:
	default:
		return fmt.Errorf("default_detail must be none, excerpt or full, got %q", c.Lineage.DefaultDetail)
	}
	if c.Lineage.MaxProcScan <= 0 {
		return fmt.Errorf("max_proc_scan must be positive, got %d", c.Lineage.MaxProcScan)
	}
	if c.Lineage.MemoSize <= 0 {
		return fmt.Errorf("memo_size must be positive, got %d", c.Lineage.MemoSize)
	}
	return nil
}
