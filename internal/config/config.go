// Package config loads the immutable process configuration shared by both
// edge hooks, the CLI and the local emulator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"edgeresize/internal/id"
	"edgeresize/internal/observability"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendS3         = "s3"
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Domain string `yaml:"domain" mapstructure:"domain"`
	Region string `yaml:"region" mapstructure:"region"`

	Origin  OriginConfig  `yaml:"origin" mapstructure:"origin"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Resize  ResizeConfig  `yaml:"resize" mapstructure:"resize"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	IDs     IDConfig      `yaml:"id" mapstructure:"id"`

	observability.Config `yaml:",inline" mapstructure:",squash"`
}

// OriginConfig controls how originals are downloaded.
type OriginConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	CacheEntries int           `yaml:"cache_entries" mapstructure:"cache_entries"`
}

// StorageConfig selects and tunes the blob store.
type StorageConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"`
	Endpoint        string        `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey       string        `yaml:"access_key" mapstructure:"access_key"`
	SecretKey       string        `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL          bool          `yaml:"use_ssl" mapstructure:"use_ssl"`
	PathStyle       bool          `yaml:"path_style" mapstructure:"path_style"`
	Dir             string        `yaml:"dir" mapstructure:"dir"`
	CacheControl    string        `yaml:"cache_control" mapstructure:"cache_control"`
	StorageClass    string        `yaml:"storage_class" mapstructure:"storage_class"`
	PutTimeout      time.Duration `yaml:"put_timeout" mapstructure:"put_timeout"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" mapstructure:"retry_max_elapsed"`
}

// ResizeConfig bounds what viewers may request.
type ResizeConfig struct {
	MaxDimension      int      `yaml:"max_dimension" mapstructure:"max_dimension"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
}

// ServerConfig configures the local edge emulator.
type ServerConfig struct {
	Addr      string  `yaml:"addr" mapstructure:"addr"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// IDConfig selects how request and log ids are generated.
type IDConfig struct {
	Strategy string `yaml:"strategy" mapstructure:"strategy"`
}

// IDStrategy returns the configured id strategy, KSUID when unset or invalid.
func (c Config) IDStrategy() id.Strategy {
	strategy, _ := id.ParseStrategy(c.IDs.Strategy)
	return strategy
}

// BaseURL returns the origin every original is fetched from.
func (c Config) BaseURL() string {
	if c.Origin.BaseURL != "" {
		return strings.TrimRight(c.Origin.BaseURL, "/")
	}
	return "https://" + c.Domain
}

// S3Endpoint returns the configured endpoint or the regional AWS default.
func (c Config) S3Endpoint() string {
	if c.Storage.Endpoint != "" {
		return c.Storage.Endpoint
	}
	return fmt.Sprintf("s3.%s.amazonaws.com", c.Region)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Domain) == "" && c.Origin.BaseURL == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	switch c.Storage.Backend {
	case BackendS3:
		if strings.TrimSpace(c.Bucket) == "" {
			errs = append(errs, errors.New("bucket is required for the s3 backend"))
		}
		if c.Region == "" {
			errs = append(errs, errors.New("region is required for the s3 backend"))
		}
	case BackendFilesystem:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the filesystem backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if c.Resize.MaxDimension <= 0 {
		errs = append(errs, errors.New("resize.max_dimension must be positive"))
	}
	if c.Origin.MaxBytes <= 0 {
		errs = append(errs, errors.New("origin.max_bytes must be positive"))
	}
	if c.Origin.CacheEntries < 0 {
		errs = append(errs, errors.New("origin.cache_entries must not be negative"))
	}
	if _, err := id.ParseStrategy(c.IDs.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("id.strategy: %w", err))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	c.Storage.AccessKey = observability.MaskSecret(c.Storage.AccessKey)
	c.Storage.SecretKey = observability.MaskSecret(c.Storage.SecretKey)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func (c Config) String() string {
	data, err := c.YAML()
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
