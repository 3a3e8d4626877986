// Package config holds the server configuration: a YAML file read once
// at startup, with defaults for every field so an empty file (or no
// file at all) produces a working server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amrandil/docstream/analysis"
)

// Jaeger configures span export.
type Jaeger struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the top-level YAML structure.
type Config struct {
	// Addr is the listen address for the HTTP API.
	Addr string `yaml:"addr"`

	// Verbosity raises the log level above logrus's info baseline,
	// matching the server's --verbose flag.
	Verbosity int `yaml:"verbosity"`

	// MaxUploadBytes caps the total multipart upload size per request.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// KeepaliveSeconds is the idle keepalive period on live streams.
	// Zero means the default; negative disables keepalives.
	KeepaliveSeconds int `yaml:"keepalive_seconds"`

	// ContinueOnFileError analyzes the surviving files when one fails
	// to preprocess instead of aborting the whole session.
	ContinueOnFileError bool `yaml:"continue_on_file_error"`

	// Analysis carries the default per-session analysis options;
	// request bodies may override them.
	Analysis analysis.Options `yaml:"analysis"`

	Jaeger Jaeger `yaml:"jaeger"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:             ":8080",
		MaxUploadBytes:   32 << 20,
		KeepaliveSeconds: 15,
		Analysis:         analysis.Options{}.Normalize(),
		Jaeger: Jaeger{
			Endpoint: "http://localhost:14268/api/traces",
		},
	}
}

// Load reads a YAML config file and applies defaults. An empty path
// returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.KeepaliveSeconds == 0 {
		cfg.KeepaliveSeconds = 15
	}
	if cfg.Jaeger.Endpoint == "" {
		cfg.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	}
	cfg.Analysis = cfg.Analysis.Normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes must not be negative")
	}
	if c.Verbosity < 0 {
		return fmt.Errorf("verbosity must not be negative")
	}
	if c.Jaeger.Enabled && c.Jaeger.Endpoint == "" {
		return fmt.Errorf("jaeger.endpoint required when jaeger is enabled")
	}
	return nil
}

// KeepaliveInterval converts the configured period to a duration. A
// non-positive result disables keepalives.
func (c Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}
