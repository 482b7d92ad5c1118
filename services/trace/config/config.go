// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads treefinder's YAML configuration.
//
// Defaults are embedded; a user file is decoded over them so it only needs
// the keys it changes. Unknown keys are rejected and the merged result is
// validated before use.
//
// Thread Safety:
//
//	Config values are plain data. Load and Default are safe for concurrent use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize is the largest config file Load accepts.
const MaxFileSize = 1024 * 1024

// EnvPath names a config file used when Load is given no path.
const EnvPath = "TREEFINDER_CONFIG"

//go:embed default.yaml
var defaultYAML []byte

var (
	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrFileTooLarge is returned for files over MaxFileSize.
	ErrFileTooLarge = errors.New("config file too large")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Config is the complete treefinder configuration.
type Config struct {
	Resolver  ResolverConfig  `yaml:"resolver" validate:"required"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ResolverConfig describes the language server used to follow calls.
type ResolverConfig struct {
	Language              string         `yaml:"language" validate:"required"`
	Command               string         `yaml:"command" validate:"required"`
	Args                  []string       `yaml:"args"`
	Extensions            []string       `yaml:"extensions" validate:"required,min=1,dive,startswith=."`
	InitializationOptions map[string]any `yaml:"initialization_options"`

	// ReadyNotification is the server notification that ends indexing.
	// Empty means the server is used right after the handshake.
	ReadyNotification string `yaml:"ready_notification"`

	StartupTimeout    time.Duration `yaml:"startup_timeout" validate:"gt=0"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	IndexTimeout      time.Duration `yaml:"index_timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

// SearchConfig bounds the call-graph walk. Zero limits mean unlimited.
type SearchConfig struct {
	MaxDepth   int      `yaml:"max_depth" validate:"gte=0"`
	MaxMatches int      `yaml:"max_matches" validate:"gte=0"`
	Exclude    []string `yaml:"exclude" validate:"dive,required"`
}

// LoggingConfig controls the diagnostic log on stderr and in LogDir.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	MetricsFile  string `yaml:"metrics_file"`
}

// Default returns the embedded defaults.
func Default() Config {
	var cfg Config
	// The embedded file is covered by tests; a decode failure is a build defect.
	if err := decode(bytes.NewReader(defaultYAML), &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads path over the defaults and validates the result.
//
// Description:
//
//	An empty path falls back to $TREEFINDER_CONFIG. With neither set the
//	defaults are returned. Keys absent from the file keep their default;
//	lists present in the file replace the default list.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Read, decode or validation failure. Validation failures wrap
//	        ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints and exclude globs.
func (c Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, glob := range c.Search.Exclude {
		if !doublestar.ValidatePattern(glob) {
			return fmt.Errorf("%w: exclude pattern %q is malformed", ErrInvalidConfig, glob)
		}
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}

// decode reads YAML into cfg, rejecting unknown keys. An empty document
// leaves cfg untouched.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
