package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"edgeresize/internal/observability"
	"edgeresize/internal/origin"
	"edgeresize/internal/rewriter"
	"edgeresize/internal/variant"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: storage.dir is read from
// EDGE_RESIZE_STORAGE_DIR.
const EnvPrefix = "EDGE_RESIZE"

type loadOptions struct {
	file      string
	overrides map[string]any
}

// Option customizes Load.
type Option func(*loadOptions)

// WithFile reads the given YAML file. It is an error if it does not exist.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithOverrides applies values last, typically from CLI flags. Keys use the
// dotted config names.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// Defaults lists the default of every key. Load registers each with viper so
// that environment variables can override any of them.
func Defaults() map[string]any {
	obs := observability.DefaultConfig()
	return map[string]any{
		"bucket": "",
		"domain": "",
		"region": "eu-central-1",

		"origin.base_url":      "",
		"origin.timeout":       "10s",
		"origin.max_bytes":     int64(origin.DefaultMaxBytes),
		"origin.cache_entries": 16,

		"storage.backend":           BackendS3,
		"storage.endpoint":          "",
		"storage.access_key":        "",
		"storage.secret_key":        "",
		"storage.use_ssl":           true,
		"storage.path_style":        false,
		"storage.dir":               "data/variants",
		"storage.cache_control":     "max-age=31536000",
		"storage.storage_class":     "STANDARD",
		"storage.put_timeout":       "15s",
		"storage.retry_max_elapsed": "3s",

		"resize.max_dimension":      variant.DefaultMaxDimension,
		"resize.allowed_extensions": rewriter.DefaultAllowedExtensions,

		"id.strategy": "ksuid",

		"server.addr":       ":8080",
		"server.rate_limit": 0.0,
		"server.rate_burst": 20,

		"logging.level":           obs.Logging.Level,
		"logging.format":          obs.Logging.Format,
		"metrics.enabled":         obs.Metrics.Enabled,
		"metrics.path":            obs.Metrics.Path,
		"tracing.enabled":         obs.Tracing.Enabled,
		"tracing.exporter":        obs.Tracing.Exporter,
		"tracing.otlp_endpoint":   obs.Tracing.OTLPEndpoint,
		"tracing.zipkin_endpoint": "",
		"tracing.sample_rate":     obs.Tracing.SampleRate,
		"tracing.service_name":    obs.Tracing.ServiceName,
		"tracing.service_version": obs.Tracing.ServiceVersion,
	}
}

// Load resolves defaults, then the optional file, then EDGE_RESIZE_*
// environment variables, then overrides, and validates the result.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.file != "" {
		v.SetConfigFile(options.file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", options.file, err)
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LambdaConfigFile is looked up next to the function code. Edge functions
// cannot receive environment variables, so settings ship with the bundle.
const LambdaConfigFile = "edgeresize.yaml"

// MustLoadForLambda loads the bundled config file when present, then the
// environment, and panics on failure; the edge runtime has no other way to
// surface it.
func MustLoadForLambda() Config {
	var opts []Option
	path := filepath.Join(os.Getenv("LAMBDA_TASK_ROOT"), LambdaConfigFile)
	if _, err := os.Stat(path); err == nil {
		opts = append(opts, WithFile(path))
	}
	cfg, err := Load(opts...)
	if err != nil {
		panic(errors.Join(errors.New("edgeresize: configuration"), err))
	}
	return cfg
}

func normalize(cfg *Config) {
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Origin.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Origin.BaseURL), "/")
	exts := cfg.Resize.AllowedExtensions[:0:0]
	for _, ext := range cfg.Resize.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	cfg.Resize.AllowedExtensions = exts
}
