package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-search/internal/descriptor"
	"github.com/kozaktomas/face-search/internal/lbp"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Store backend names.
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendMariaDB  = "mariadb"
	BackendMemory   = "memory"
)

type Config struct {
	Descriptor DescriptorConfig `yaml:"descriptor"`
	Store      StoreConfig      `yaml:"store"`
	Query      QueryConfig      `yaml:"query"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type DescriptorConfig struct {
	GridRows    int     `yaml:"grid_rows" envconfig:"GRID_ROWS"`
	GridCols    int     `yaml:"grid_cols" envconfig:"GRID_COLS"`
	BinCount    int     `yaml:"bin_count" envconfig:"BIN_COUNT"`
	BlockPolicy string  `yaml:"block_policy" envconfig:"BLOCK_POLICY"`
	BitDepth    int     `yaml:"lbp_bit_depth" envconfig:"LBP_BIT_DEPTH"`
	DoG         bool    `yaml:"dog_enabled" envconfig:"DOG_ENABLED"`   // difference-of-Gaussians pre-filter
	DoGSigma1   float64 `yaml:"dog_sigma1" envconfig:"DOG_SIGMA1"`     // narrow kernel
	DoGSigma2   float64 `yaml:"dog_sigma2" envconfig:"DOG_SIGMA2"`     // wide kernel
}

// Layout returns the descriptor layout described by the config.
func (c *DescriptorConfig) Layout() descriptor.Layout {
	return descriptor.Layout{
		GridRows: c.GridRows,
		GridCols: c.GridCols,
		BinCount: c.BinCount,
		Policy:   descriptor.BlockPolicy(c.BlockPolicy),

		Extraction: descriptor.ExtractionTag(c.BitDepth, c.DoG, c.DoGSigma1, c.DoGSigma2),
	}
}

type StoreConfig struct {
	Backend       string `yaml:"backend" envconfig:"STORE_BACKEND"`
	BoltPath      string `yaml:"bolt_path" envconfig:"BOLT_PATH"`
	DatabaseURL   string `yaml:"database_url" envconfig:"DATABASE_URL"` // PostgreSQL connection URL
	MariaDBDSN    string `yaml:"mariadb_dsn" envconfig:"MARIADB_DSN"`
	MaxOpenConns  int    `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns  int    `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	HNSWEnabled   bool   `yaml:"hnsw_enabled" envconfig:"HNSW_ENABLED"`
	HNSWIndexPath string `yaml:"hnsw_index_path" envconfig:"HNSW_INDEX_PATH"` // optional, if empty the index is rebuilt on startup
}

type QueryConfig struct {
	Limit       int     `yaml:"limit" envconfig:"QUERY_LIMIT"` // 0 = unbounded
	MaxDistance float64 `yaml:"max_distance" envconfig:"QUERY_MAX_DISTANCE"`
	Candidates  int     `yaml:"candidates" envconfig:"QUERY_CANDIDATES"` // HNSW pre-selection size, 0 = full scan
}

type WebConfig struct {
	Host           string   `yaml:"host" envconfig:"WEB_HOST"`
	Port           int      `yaml:"port" envconfig:"WEB_PORT"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"WEB_ALLOWED_ORIGINS"` // CORS; localhost is always allowed
}

// Addr returns host:port for the HTTP listener.
func (c *WebConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // text or json
}

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the embedded defaults overlaid with environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	sections := []struct {
		name string
		spec any
	}{
		{"descriptor", &cfg.Descriptor},
		{"store", &cfg.Store},
		{"query", &cfg.Query},
		{"web", &cfg.Web},
		{"log", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process("", s.spec); err != nil {
			return nil, fmt.Errorf("load %s config: %w", s.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Descriptor.Layout().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Descriptor.BitDepth < 0 || c.Descriptor.BitDepth > lbp.DefaultBitDepth {
		errs = append(errs, fmt.Errorf("%w: %d", lbp.ErrInvalidBitDepth, c.Descriptor.BitDepth))
	}
	if c.Descriptor.DoG && (c.Descriptor.DoGSigma1 <= 0 || c.Descriptor.DoGSigma2 <= c.Descriptor.DoGSigma1) {
		errs = append(errs, fmt.Errorf("DoG sigmas must satisfy 0 < sigma1 < sigma2, got %v and %v",
			c.Descriptor.DoGSigma1, c.Descriptor.DoGSigma2))
	}

	switch c.Store.Backend {
	case BackendBolt:
		if c.Store.BoltPath == "" {
			errs = append(errs, errors.New("BOLT_PATH is required for the bolt backend"))
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMariaDB:
		if c.Store.MariaDBDSN == "" {
			errs = append(errs, errors.New("MARIADB_DSN is required for the mariadb backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if c.Query.Limit < 0 {
		errs = append(errs, fmt.Errorf("QUERY_LIMIT must not be negative, got %d", c.Query.Limit))
	}
	if c.Query.MaxDistance < 0 {
		errs = append(errs, fmt.Errorf("QUERY_MAX_DISTANCE must not be negative, got %v", c.Query.MaxDistance))
	}
	if c.Query.Candidates < 0 {
		errs = append(errs, fmt.Errorf("QUERY_CANDIDATES must not be negative, got %d", c.Query.Candidates))
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("WEB_PORT %d out of range", c.Web.Port))
	}

	return errors.Join(errs...)
}
