package config

import (
	"flag"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/tgfleet/internal/flagx"
)

var flagNames = []string{
	"a", "m", "s", "d", "driver", "k",
	"log-format", "log-level",
	"workers", "quota", "require-proxy",
	"scratch", "backup-dir", "backup-interval",
}

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string                gRPC bind address (":50051")
//	-m string                metrics bind address, empty disables
//	-s string                JWT HMAC secret key
//	-d string                database DSN
//	-driver string           sqlite or postgres
//	-k string                master keys, comma separated version:passphrase
//	-log-format string       json, text or console
//	-log-level string        debug, info, warn or error
//	-workers int             concurrent tasks
//	-quota int               joins per account per rolling day
//	-require-proxy           never dial the platform directly
//	-scratch string          scratch directory for downloaded media
//	-backup-dir string       local backup directory
//	-backup-interval dur     backup period, 0 disables
//
// Only these flags are parsed; everything else in os.Args is left to the
// caller.
func parseFlags(config *Config) error {
	allowed := make([]string, 0, len(flagNames)*2)
	for _, n := range flagNames {
		allowed = append(allowed, "-"+n, "--"+n)
	}
	args := flagx.FilterArgs(os.Args[1:], allowed)

	fs := flag.NewFlagSet("tgfleet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.GRPCAddr, "a", config.GRPCAddr, "gRPC bind address")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics bind address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DatabaseDriver, "driver", config.DatabaseDriver, "database driver")
	keys := fs.String("k", strings.Join(config.MasterKeys, ","), "master keys")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.IntVar(&config.Workers, "workers", config.Workers, "concurrent tasks")
	fs.IntVar(&config.DailyJoinQuota, "quota", config.DailyJoinQuota, "daily join quota")
	fs.BoolVar(&config.RequireProxy, "require-proxy", config.RequireProxy, "require a proxy")
	fs.StringVar(&config.ScratchDir, "scratch", config.ScratchDir, "scratch directory")
	fs.StringVar(&config.BackupDir, "backup-dir", config.BackupDir, "backup directory")
	fs.DurationVar(&config.BackupInterval, "backup-interval", config.BackupInterval, "backup interval")

	if err := fs.Parse(args); err != nil {
		return err
	}
	config.MasterKeys = splitCSV(*keys)
	return nil
}
