// Package config loads the spendsave service configuration.
//
// Precedence, lowest first: Default(), the YAML file, an optional .env file,
// then process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Config is the root configuration.
type Config struct {
	Logging    logger.LoggingConfig `yaml:"logging"`
	Kernel     KernelConfig         `yaml:"kernel"`
	Extraction ExtractionConfig     `yaml:"extraction"`
	Batch      BatchConfig          `yaml:"batch"`
	DCA        DCAConfig            `yaml:"dca"`
	HTTP       HTTPConfig           `yaml:"http"`
	Database   DatabaseConfig       `yaml:"database"`
}

// KernelConfig names the kernel owner, the treasury and the trusted venue.
type KernelConfig struct {
	Owner          string `yaml:"owner" env:"SPENDSAVE_OWNER" validate:"required"`
	Treasury       string `yaml:"treasury" env:"SPENDSAVE_TREASURY"`
	TreasuryFeeBps uint16 `yaml:"treasury_fee_bps" env:"SPENDSAVE_TREASURY_FEE_BPS" validate:"lte=10000"`
	// Venue, when set, is the only exchange allowed to call the interceptor.
	Venue string `yaml:"venue" env:"SPENDSAVE_VENUE"`
}

// ExtractionConfig controls contribution rounding.
type ExtractionConfig struct {
	// RoundUpUnit is the granularity contributions are rounded up to.
	RoundUpUnit uint64 `yaml:"round_up_unit" env:"SPENDSAVE_ROUND_UP_UNIT" validate:"gte=1"`
}

// BatchConfig bounds coordinator batches.
type BatchConfig struct {
	MaxSize int `yaml:"max_size" env:"SPENDSAVE_BATCH_MAX_SIZE" validate:"gte=1,lte=1000"`
}

// DCAConfig controls the deferred conversion sweep.
type DCAConfig struct {
	Enabled       bool    `yaml:"enabled" env:"SPENDSAVE_DCA_ENABLED"`
	Schedule      string  `yaml:"schedule" env:"SPENDSAVE_DCA_SCHEDULE" validate:"required_if=Enabled true"`
	RatePerSecond float64 `yaml:"rate_per_second" env:"SPENDSAVE_DCA_RATE" validate:"gte=0"`
	Burst         int     `yaml:"burst" env:"SPENDSAVE_DCA_BURST" validate:"gte=1"`
	MaxPerSweep   int     `yaml:"max_per_sweep" env:"SPENDSAVE_DCA_MAX_PER_SWEEP" validate:"gte=0"`
	// RouterURL points at the execution venue. When empty conversions run
	// at a 1:1 fixed rate, which is only useful in development.
	RouterURL     string        `yaml:"router_url" env:"SPENDSAVE_DCA_ROUTER_URL" validate:"omitempty,url"`
	RouterPath    string        `yaml:"router_path" env:"SPENDSAVE_DCA_ROUTER_PATH"`
	RouterTimeout time.Duration `yaml:"router_timeout" env:"SPENDSAVE_DCA_ROUTER_TIMEOUT"`
}

// HTTPConfig configures the read-only query API.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"SPENDSAVE_HTTP_ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SPENDSAVE_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SPENDSAVE_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SPENDSAVE_HTTP_SHUTDOWN_TIMEOUT"`
	EventBuffer     int           `yaml:"event_buffer" env:"SPENDSAVE_EVENT_BUFFER" validate:"gte=1"`
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"SPENDSAVE_HTTP_RATE_LIMIT" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" env:"SPENDSAVE_HTTP_RATE_BURST" validate:"gte=0"`
}

// DatabaseConfig enables snapshot persistence when DSN is set.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" env:"SPENDSAVE_DATABASE_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"SPENDSAVE_DATABASE_MAX_OPEN_CONNS"`
}

// Enabled reports whether persistence is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Extraction: ExtractionConfig{
			RoundUpUnit: 100000000,
		},
		Batch: BatchConfig{
			MaxSize: 50,
		},
		DCA: DCAConfig{
			Schedule:      "@every 1h",
			RatePerSecond: 5,
			Burst:         1,
		},
		HTTP: HTTPConfig{
			Addr:            ":8090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			EventBuffer:     1000,
			RateLimit:       50,
			RateBurst:       100,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
	}
}

// Load reads path (when non-empty) over Default and applies environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. Existing variables are not overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
