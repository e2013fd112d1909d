package main

import (
	"fmt"

	"github.com/cacheguard/cacheguard/pkg/config/xconf"
)

// appConfig is the top-level shape loaded from the --config file, if one is
// given. Every field has a usable zero value so cacheguardctl runs against
// an in-process miniredis-free local setup with CLI flags alone.
type appConfig struct {
	Redis struct {
		Addr string `koanf:"addr"`
	} `koanf:"redis"`

	Bloom struct {
		ExpectedInsertions uint    `koanf:"expected_insertions"`
		FalsePositiveRate  float64 `koanf:"false_positive_rate"`
	} `koanf:"bloom"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`
}

func loadConfig(path string) (appConfig, error) {
	var cfg appConfig
	if path == "" {
		return cfg, nil
	}
	conf, err := xconf.New(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := conf.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
