package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/flagx"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the engine reads.
const EnvPrefix = "TGFLEET_"

// parseEnv overlays TGFLEET_* environment variables onto config. A dotenv
// file named by -env, or ./.env when present, is loaded first without
// overriding variables already set.
func parseEnv(config *Config) error {
	if err := loadDotenv(flagx.EnvFileFlags()); err != nil {
		return err
	}

	e := &envReader{}
	e.str("GRPC_ADDR", &config.GRPCAddr)
	e.str("METRICS_ADDR", &config.MetricsAddr)
	e.str("SECRET_KEY", &config.SecretKey)
	e.dur("TOKEN_VALIDITY", &config.TokenValidity)

	e.str("DATABASE_DRIVER", &config.DatabaseDriver)
	e.str("DATABASE_DSN", &config.DatabaseDSN)
	e.list("MASTER_KEYS", &config.MasterKeys)
	e.str("KEY_SALT", &config.KeySalt)
	e.uint32("KEY_VERSION", &config.KeyVersion)

	e.str("LOG_FORMAT", &config.LogFormat)
	e.str("LOG_LEVEL", &config.LogLevel)

	e.int("API_ID", &config.APIID)
	e.str("API_HASH", &config.APIHash)
	e.dur("CALL_TIMEOUT", &config.CallTimeout)
	e.dur("DIAL_TIMEOUT", &config.DialTimeout)
	e.dur("PACING", &config.Pacing)
	e.bool("REQUIRE_PROXY", &config.RequireProxy)
	e.str("CHECK_ADDR", &config.CheckAddr)

	e.int("DAILY_JOIN_QUOTA", &config.DailyJoinQuota)
	e.dur("FLOOD_BACKOFF_BASE", &config.FloodBackoffBase)
	e.dur("PROXY_COOLDOWN", &config.ProxyCooldown)
	e.int("PROXY_DEAD_AFTER", &config.ProxyDeadAfter)
	e.int("FETCH_RETRY_MAX", &config.FetchRetryMax)
	e.int("FETCH_PAGE_SIZE", &config.FetchPageSize)
	e.int("MAX_ATTEMPTS", &config.MaxAttempts)
	e.int("WORKERS", &config.Workers)
	e.dur("POLL_INTERVAL", &config.PollInterval)
	e.dur("TASK_RETENTION", &config.TaskRetention)
	e.dur("DEDUP_RETENTION", &config.DedupRetention)

	e.str("SCRATCH_DIR", &config.ScratchDir)
	e.dur("SCRATCH_MAX_AGE", &config.ScratchMaxAge)
	e.dur("CLEANUP_INTERVAL", &config.CleanupInterval)

	e.str("BACKUP_DIR", &config.BackupDir)
	e.dur("BACKUP_INTERVAL", &config.BackupInterval)
	e.int("BACKUP_KEEP", &config.BackupKeep)
	e.list("BACKUP_RECIPIENTS", &config.BackupRecipients)
	e.str("S3_ENDPOINT", &config.S3Endpoint)
	e.str("S3_REGION", &config.S3Region)
	e.str("S3_BUCKET", &config.S3Bucket)
	e.str("S3_PREFIX", &config.S3Prefix)
	e.str("S3_ACCESS_KEY", &config.S3AccessKey)
	e.str("S3_SECRET_KEY", &config.S3SecretKey)

	return e.err
}

func loadDotenv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// envReader copies set variables into their fields and keeps the first
// parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	if v, ok := e.lookup(name); ok {
		*dst = splitCSV(v)
	}
}

func (e *envReader) int(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) uint32(name string, dst *uint32) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = uint32(n)
	}
}

func (e *envReader) bool(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) dur(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
