// Package config loads runtime configuration for tgfleet-ctl.
//
// Sources, later ones overriding earlier ones:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. TGFLEET_CTL_* environment variables.
//  3. Optional JSON file selected with -c or -config.
//  4. Command-line flags.
//
// Supported flags
//
//	-a string   address:port of the engine control API
//	-t string   operator access token (see "tgfleet token")
//	-timeout    per-call timeout, e.g. 10s
//
// JSON schema:
//
//	{
//	  "endpoint_addr": "127.0.0.1:50051",
//	  "token": "eyJ...",
//	  "call_timeout": "10s"
//	}
package config

import (
	"errors"
	"os"
	"time"
)

const envPrefix = "TGFLEET_CTL_"

type Config struct {
	EndpointAddr string
	Token        string
	CallTimeout  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = "127.0.0.1:50051"
	c.CallTimeout = 10 * time.Second
}

// LoadConfig builds a Config from defaults, environment, JSON and flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.EndpointAddr == "" {
		return errors.New("endpoint address is required")
	}
	if c.CallTimeout <= 0 {
		return errors.New("call timeout must be positive")
	}
	return nil
}

func parseEnv(cfg *Config) {
	if v, ok := os.LookupEnv(envPrefix + "ADDR"); ok {
		cfg.EndpointAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "TOKEN"); ok {
		cfg.Token = v
	}
	if v, ok := os.LookupEnv(envPrefix + "TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CallTimeout = d
		}
	}
}
