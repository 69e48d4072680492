package config

import (
	"flag"
	"io"
	"os"

	"github.com/dmitrijs2005/tgfleet/internal/flagx"
)

// parseFlags reads -a, -t and -timeout. Other arguments are ignored.
func parseFlags(cfg *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-timeout", "--timeout"})

	fs := flag.NewFlagSet("tgfleet-ctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.EndpointAddr, "a", cfg.EndpointAddr, "address and port of the engine")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "operator access token")
	fs.DurationVar(&cfg.CallTimeout, "timeout", cfg.CallTimeout, "per-call timeout")
	return fs.Parse(args)
}
