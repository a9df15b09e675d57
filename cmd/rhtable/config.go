// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/robinhood"
	"gopkg.in/yaml.v3"
)

const (
	hashXXHash  = "xxhash"
	hashMurmur3 = "murmur3"
)

// Config describes the table opened by rhtable.
type Config struct {
	// Path of the table file. It is created if it does not exist.
	Path string `yaml:"path"`

	// KeyWidth is the maximum length of a key in bytes. It is part of the
	// on-disk format and must not change once a table has been written.
	KeyWidth int `yaml:"key_width"`

	// Hash names the hash function, "xxhash" or "murmur3". Like KeyWidth it
	// must not change once a table has been written.
	Hash string `yaml:"hash"`

	// CacheSlots is the number of decoded slots to cache. Zero disables the
	// cache.
	CacheSlots int `yaml:"cache_slots"`

	// LogLevel is one of "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used for fields missing from a
// config file.
func DefaultConfig() *Config {
	return &Config{
		Path:     "table.rh",
		KeyWidth: 32,
		Hash:     hashXXHash,
		LogLevel: InfoLevel,
	}
}

// FromFile reads a YAML config file on top of DefaultConfig.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values that cannot open a table.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("config: path is required")
	}
	if c.KeyWidth <= 0 {
		return fmt.Errorf("config: key_width must be positive, got %d", c.KeyWidth)
	}
	if c.CacheSlots < 0 {
		return fmt.Errorf("config: cache_slots must not be negative, got %d", c.CacheSlots)
	}
	if _, err := c.Hasher(); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Hasher returns the hash function named by c.Hash.
func (c *Config) Hasher() (robinhood.Hasher[string], error) {
	switch c.Hash {
	case hashXXHash:
		return robinhood.HashString, nil
	case hashMurmur3:
		return robinhood.Murmur3String, nil
	default:
		return nil, fmt.Errorf("config: unknown hash %q", c.Hash)
	}
}
