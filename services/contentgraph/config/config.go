// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the content graph service configuration.
//
// Values come from Default(), then the YAML file, then CONTENTGRAPH_*
// environment variables, and are validated last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/storage/badger"
	"github.com/AleutianAI/contentgraph/services/contentgraph/telemetry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	// HTTP contains the API server settings.
	HTTP HTTPConfig `yaml:"http"`

	// Storage selects and configures the event store.
	Storage StorageConfig `yaml:"storage"`

	// Workspaces selects and configures the workspace registry.
	Workspaces WorkspacesConfig `yaml:"workspaces"`

	// Dimensions points at the dimension configuration.
	Dimensions DimensionsConfig `yaml:"dimensions"`

	// NodeTypes points at the node type schema.
	NodeTypes NodeTypesConfig `yaml:"node_types"`

	// Projection tunes the read model.
	Projection ProjectionConfig `yaml:"projection"`

	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   logging.Config   `yaml:"logging"`
}

// HTTPConfig configures the API server. RateLimit is requests per second
// across all clients; zero disables limiting.
type HTTPConfig struct {
	Address         string        `yaml:"address" validate:"required,hostname_port"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type StorageConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend" validate:"oneof=memory badger"`

	// Compression stores badger payloads zstd-compressed.
	Compression bool `yaml:"compression"`

	Badger badger.Config `yaml:"badger"`
}

type WorkspacesConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" validate:"oneof=memory sqlite"`

	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required_if=Backend sqlite"`

	// Root is the root workspace created on first start.
	Root string `yaml:"root" validate:"required"`
}

type DimensionsConfig struct {
	File     string        `yaml:"file"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

type NodeTypesConfig struct {
	File string `yaml:"file"`
}

type ProjectionConfig struct {
	CatchupTimeout     time.Duration `yaml:"catchup_timeout" validate:"gte=0"`
	RebuildConcurrency int           `yaml:"rebuild_concurrency" validate:"gte=0"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         "127.0.0.1:12230",
			RateLimit:       200,
			RateBurst:       400,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Badger:  badger.DefaultConfig(),
		},
		Workspaces: WorkspacesConfig{
			Backend: "memory",
			Root:    "live",
		},
		Dimensions: DimensionsConfig{
			Debounce: 250 * time.Millisecond,
		},
		Projection: ProjectionConfig{
			CatchupTimeout:     5 * time.Second,
			RebuildConcurrency: 4,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "contentgraph",
		},
	}
}

// Load reads path over Default(), applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONTENTGRAPH_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("CONTENTGRAPH_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("CONTENTGRAPH_STORAGE_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("CONTENTGRAPH_WORKSPACES_BACKEND"); v != "" {
		cfg.Workspaces.Backend = v
	}
	if v := os.Getenv("CONTENTGRAPH_WORKSPACES_PATH"); v != "" {
		cfg.Workspaces.Path = v
	}
	if v := os.Getenv("CONTENTGRAPH_DIMENSIONS_FILE"); v != "" {
		cfg.Dimensions.File = v
	}
	if v := os.Getenv("CONTENTGRAPH_DIMENSIONS_WATCH"); v != "" {
		cfg.Dimensions.Watch = v == "true" || v == "1"
	}
	if v := os.Getenv("CONTENTGRAPH_NODE_TYPES_FILE"); v != "" {
		cfg.NodeTypes.File = v
	}
	if v := os.Getenv("CONTENTGRAPH_CATCHUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Projection.CatchupTimeout = d
		}
	}
	if v := os.Getenv("CONTENTGRAPH_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HTTP.RateLimit = f
		}
	}
	if v := os.Getenv("CONTENTGRAPH_LOG_LEVEL"); v != "" {
		if level, err := logging.ParseLevel(v); err == nil {
			cfg.Logging.Level = level
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterStructValidation(validateStorage, StorageConfig{})
}

func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	if s.Backend == "badger" && !s.Badger.InMemory && s.Badger.Path == "" {
		sl.ReportError(s.Badger.Path, "Badger.Path", "path", "required_for_badger", "")
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
