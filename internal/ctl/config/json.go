package config

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/tgfleet/internal/flagx"
	"github.com/dmitrijs2005/tgfleet/internal/timex"
	json "github.com/goccy/go-json"
)

// JsonConfig is the on-disk form of Config. Empty values leave the current
// setting alone.
type JsonConfig struct {
	EndpointAddr string         `json:"endpoint_addr"`
	Token        string         `json:"token"`
	CallTimeout  timex.Duration `json:"call_timeout"`
}

// parseJson overlays cfg with the file named by -c/-config, if any.
func parseJson(cfg *Config) error {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if jc.EndpointAddr != "" {
		cfg.EndpointAddr = jc.EndpointAddr
	}
	if jc.Token != "" {
		cfg.Token = jc.Token
	}
	if jc.CallTimeout.Duration != 0 {
		cfg.CallTimeout = jc.CallTimeout.Duration
	}
	return nil
}
