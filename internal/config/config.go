// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config implements configuration loading and validation (C7): a
// JSON config file validated against an embedded JSON Schema, layered over
// built-in defaults.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rt-labs/pnlogger/internal/archiver"
)

//go:embed schema/*
var schemaFiles embed.FS

// Config is the top-level process configuration.
type Config struct {
	StorageRoot      string  `json:"storageRoot"`
	BigEndian        bool    `json:"bigEndian"`
	WriterTickMillis int     `json:"writerTickMillis"`
	FreeSpacePercent int     `json:"freeSpacePercent"`
	DropUser         string  `json:"dropUser"`
	DropGroup        string  `json:"dropGroup"`
	OpsAddr          string  `json:"opsAddr"`
	NatsURL          string  `json:"natsURL"`
	StatsIntervalSeconds      int `json:"statsIntervalSeconds"`
	SpaceCheckIntervalSeconds int `json:"spaceCheckIntervalSeconds"`

	S3 *archiver.S3Config `json:"s3,omitempty"`
}

// WriterTick returns WriterTickMillis as a time.Duration.
func (c Config) WriterTick() time.Duration {
	return time.Duration(c.WriterTickMillis) * time.Millisecond
}

// StatsInterval returns StatsIntervalSeconds as a time.Duration.
func (c Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}

// SpaceCheckInterval returns SpaceCheckIntervalSeconds as a time.Duration.
func (c Config) SpaceCheckInterval() time.Duration {
	return time.Duration(c.SpaceCheckIntervalSeconds) * time.Second
}

// Default returns the built-in defaults, applied before a config file is
// overlaid on top.
func Default() Config {
	return Config{
		StorageRoot:               "/var/opt/pnlogger/data",
		BigEndian:                 true,
		WriterTickMillis:          2,
		FreeSpacePercent:          20,
		OpsAddr:                   ":8081",
		StatsIntervalSeconds:      60,
		SpaceCheckIntervalSeconds: 300,
	}
}

// Load reads path, validates it against the embedded schema, and returns
// the result merged over Default(). An empty path returns the defaults
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return Config{}, fmt.Errorf("config: %s failed schema validation: %w", path, err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

func validate(raw []byte) error {
	s, err := compileSchema()
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	return s.Validate(v)
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	f, err := schemaFiles.Open("schema/config.schema.json")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := c.AddResource("config.schema.json", f); err != nil {
		return nil, err
	}
	return c.Compile("config.schema.json")
}
