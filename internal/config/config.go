// Package config provides configuration for the qrlew service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/qrlew/qrlew-go/internal/dialect"
	"github.com/qrlew/qrlew-go/internal/dp"
	"github.com/qrlew/qrlew-go/internal/privacy"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QRLEW_"

// Config holds the configuration of the qrlew service.
type Config struct {
	// DataDir is the base directory for local files
	DataDir string `json:"data_dir" yaml:"data_dir" validate:"required"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Rewrite holds the defaults of rewrite requests
	Rewrite RewriteConfig `json:"rewrite" yaml:"rewrite"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the API
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`

	// MaxBodyBytes caps request bodies
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
}

// StorageConfig holds bundle storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" validate:"oneof=local s3"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is the object prefix of bundles
	Prefix string `json:"prefix" yaml:"prefix"`

	// LoadConcurrency bounds parallel bundle loads at startup
	LoadConcurrency int `json:"load_concurrency" yaml:"load_concurrency" validate:"gte=1"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// RewriteConfig holds the defaults applied when a request leaves a rewrite
// parameter out.
type RewriteConfig struct {
	Dialect              string  `json:"dialect" yaml:"dialect"`
	Strategy             string  `json:"strategy" yaml:"strategy"`
	MaxMultiplicity      float64 `json:"max_multiplicity" yaml:"max_multiplicity" validate:"gt=0"`
	MaxMultiplicityShare float64 `json:"max_multiplicity_share" yaml:"max_multiplicity_share" validate:"gt=0,lte=1"`
	TauThresholdingShare float64 `json:"tau_thresholding_share" yaml:"tau_thresholding_share" validate:"gt=0,lt=1"`
	Mechanism            string  `json:"mechanism" yaml:"mechanism"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	pp := privacy.DefaultParameters()
	return &Config{
		DataDir: "./data/qrlew",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Storage: StorageConfig{
			Type:            "local",
			LoadConcurrency: 4,
		},
		Rewrite: RewriteConfig{
			Dialect:              dialect.Default.String(),
			Strategy:             pp.Strategy.String(),
			MaxMultiplicity:      pp.MaxMultiplicity,
			MaxMultiplicityShare: pp.MaxMultiplicityShare,
			TauThresholdingShare: dp.DefaultTauThresholdingShare,
			Mechanism:            dp.MechanismLaplace.String(),
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/qrlew"
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when storage type is s3")
	}
	if _, err := dialect.Parse(c.Rewrite.Dialect); err != nil {
		return fmt.Errorf("invalid rewrite.dialect: %w", err)
	}
	if _, err := dp.ParseMechanism(c.Rewrite.Mechanism); err != nil {
		return fmt.Errorf("invalid rewrite.mechanism: %w", err)
	}
	if _, err := privacy.ParseStrategy(c.Rewrite.Strategy); err != nil {
		return fmt.Errorf("invalid rewrite.strategy: %w", err)
	}
	return nil
}

// DefaultDialect is the configured rewrite dialect.
func (c *Config) DefaultDialect() dialect.Dialect {
	d, err := dialect.Parse(c.Rewrite.Dialect)
	if err != nil {
		return dialect.Default
	}
	return d
}

// DpParameters are the rewrite defaults as DP parameters spending b.
func (c *Config) DpParameters(b dp.Budget) (dp.Parameters, error) {
	pp, err := c.PrivacyParameters()
	if err != nil {
		return dp.Parameters{}, err
	}
	mech, err := dp.ParseMechanism(c.Rewrite.Mechanism)
	if err != nil {
		return dp.Parameters{}, err
	}
	params := dp.DefaultParameters(b)
	params.Privacy = pp
	params.TauThresholdingShare = c.Rewrite.TauThresholdingShare
	params.Mechanism = mech
	return params, nil
}

// PrivacyParameters are the rewrite defaults as PUP parameters.
func (c *Config) PrivacyParameters() (privacy.Parameters, error) {
	p := privacy.DefaultParameters()
	strategy, err := privacy.ParseStrategy(c.Rewrite.Strategy)
	if err != nil {
		return p, err
	}
	p.Strategy = strategy
	p.MaxMultiplicity = c.Rewrite.MaxMultiplicity
	p.MaxMultiplicityShare = c.Rewrite.MaxMultiplicityShare
	return p, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE pairs from the given files, or from .env when
// none is given, without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadFromEnv overrides cfg from environment variables with the QRLEW_
// prefix. A malformed number or duration is an error.
func LoadFromEnv(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, EnvPrefix+key+": "+err.Error())
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *float64) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, EnvPrefix+key+": "+err.Error())
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int64) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, EnvPrefix+key+": "+err.Error())
				return
			}
			*dst = n
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	// HTTP configuration
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	dur("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	dur("HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)
	dur("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	integer("HTTP_MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes)

	// Storage configuration
	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_PREFIX", &cfg.Storage.Prefix)
	conc := int64(cfg.Storage.LoadConcurrency)
	integer("STORAGE_LOAD_CONCURRENCY", &conc)
	cfg.Storage.LoadConcurrency = int(conc)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	if v := os.Getenv(EnvPrefix + "S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Rewrite defaults
	str("DIALECT", &cfg.Rewrite.Dialect)
	str("STRATEGY", &cfg.Rewrite.Strategy)
	num("MAX_MULTIPLICITY", &cfg.Rewrite.MaxMultiplicity)
	num("MAX_MULTIPLICITY_SHARE", &cfg.Rewrite.MaxMultiplicityShare)
	num("TAU_THRESHOLDING_SHARE", &cfg.Rewrite.TauThresholdingShare)
	str("MECHANISM", &cfg.Rewrite.Mechanism)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load builds the configuration the way the binaries do: defaults, then the
// file when path is set, then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
