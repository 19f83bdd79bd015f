// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the store daemon's YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/clickstore/clickstore/core/channel"
)

// Config is the daemon configuration.
type Config struct {
	// MongoURL is the mongo connection string shared by every worker.
	MongoURL string `yaml:"mongo-url"`

	// Database is the mongo database name.
	Database string `yaml:"database"`

	// DataDir and IconDir are the roots of artifact and icon storage.
	DataDir string `yaml:"data-dir"`
	IconDir string `yaml:"icon-dir"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen-addr"`

	// Channels are the channels the store publishes; DefaultChannel is
	// the one that refreshes package presentation metadata on upload.
	Channels       []string `yaml:"channels,omitempty"`
	DefaultChannel string   `yaml:"default-channel,omitempty"`

	// LockAttempts and LockDelay tune revision lock acquisition; zero
	// means the built-in defaults.
	LockAttempts int           `yaml:"lock-attempts,omitempty"`
	LockDelay    time.Duration `yaml:"lock-delay,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		MongoURL:       "localhost:27017",
		Database:       "clickstore",
		DataDir:        "/var/lib/clickstore/artifacts",
		IconDir:        "/var/lib/clickstore/icons",
		ListenAddr:     ":8080",
		Channels:       channel.Known(),
		DefaultChannel: channel.Default,
	}
}

// Read loads the configuration at path over the defaults.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot read config %q", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "cannot parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate returns an error satisfying errors.NotValid if the
// configuration is unusable.
func (c *Config) Validate() error {
	if c.MongoURL == "" {
		return errors.NotValidf("empty mongo-url")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.DataDir == "" {
		return errors.NotValidf("empty data-dir")
	}
	if c.IconDir == "" {
		return errors.NotValidf("empty icon-dir")
	}
	if c.ListenAddr == "" {
		return errors.NotValidf("empty listen-addr")
	}
	if len(c.Channels) == 0 {
		return errors.NotValidf("empty channels")
	}
	found := false
	for _, ch := range c.Channels {
		if ch == c.DefaultChannel {
			found = true
			break
		}
	}
	if !found {
		return errors.NotValidf("default-channel %q not among channels", c.DefaultChannel)
	}
	return nil
}
