// Package config handles configuration for the engine: defaults, then the
// environment (optionally seeded from a .env file), then a JSON file, then
// command-line flags. Validate reports the first unusable setting.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
)

// Config holds runtime settings for the engine.
//
// MasterKeys are "version:passphrase" pairs. Each passphrase is stretched
// with Argon2id over KeySalt; KeyVersion selects the key for new writes
// and defaults to the highest version.
type Config struct {
	GRPCAddr      string
	MetricsAddr   string
	SecretKey     string
	TokenValidity time.Duration

	DatabaseDriver string
	DatabaseDSN    string
	MasterKeys     []string
	KeySalt        string
	KeyVersion     uint32

	LogFormat string
	LogLevel  string

	APIID        int
	APIHash      string
	CallTimeout  time.Duration
	DialTimeout  time.Duration
	Pacing       time.Duration
	RequireProxy bool
	CheckAddr    string

	DailyJoinQuota   int
	FloodBackoffBase time.Duration
	ProxyCooldown    time.Duration
	ProxyDeadAfter   int
	FetchRetryMax    int
	FetchPageSize    int
	MaxAttempts      int
	Workers          int
	PollInterval     time.Duration
	// TaskRetention keeps finished tasks this long. DedupRetention prunes
	// dedup records older than it; zero keeps them forever.
	TaskRetention  time.Duration
	DedupRetention time.Duration

	ScratchDir      string
	ScratchMaxAge   time.Duration
	CleanupInterval time.Duration

	BackupDir        string
	BackupInterval   time.Duration
	BackupKeep       int
	BackupRecipients []string
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3Prefix         string
	S3AccessKey      string
	S3SecretKey      string
}

// LoadDefaults populates Config with development defaults. SecretKey and
// MasterKeys have none and must be provided.
func (c *Config) LoadDefaults() {
	c.GRPCAddr = ":50051"
	c.MetricsAddr = ":9090"
	c.TokenValidity = 12 * time.Hour

	c.DatabaseDriver = string(dbx.SQLite)
	c.DatabaseDSN = "tgfleet.db"
	c.KeySalt = "tgfleet"

	c.LogFormat = "json"
	c.LogLevel = "info"

	c.CallTimeout = 30 * time.Second
	c.DialTimeout = 10 * time.Second
	c.Pacing = time.Second
	c.CheckAddr = "149.154.167.50:443"

	c.DailyJoinQuota = 20
	c.FloodBackoffBase = 30 * time.Second
	c.ProxyCooldown = 30 * time.Second
	c.ProxyDeadAfter = 3
	c.FetchRetryMax = 5
	c.FetchPageSize = 100
	c.MaxAttempts = 20
	c.Workers = 8
	c.PollInterval = time.Second
	c.TaskRetention = 7 * 24 * time.Hour

	c.ScratchDir = "scratch"
	c.ScratchMaxAge = time.Hour
	c.CleanupInterval = time.Hour

	c.BackupDir = "backups"
	c.BackupInterval = 24 * time.Hour
	c.BackupKeep = 5
	c.S3Region = "us-east-1"
	c.S3Prefix = "tgfleet"
}

// LoadConfig builds a Config from defaults, the environment, an optional
// JSON file and command-line flags, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
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
	if c.GRPCAddr == "" {
		return errors.New("grpc address must not be empty")
	}
	if c.SecretKey == "" {
		return errors.New("secret key is required")
	}
	if c.TokenValidity <= 0 {
		return errors.New("token validity must be positive")
	}
	if _, err := dbx.ParseDialect(c.DatabaseDriver); err != nil {
		return err
	}
	if c.DatabaseDSN == "" {
		return errors.New("database dsn must not be empty")
	}
	if _, err := c.Keyring(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text", "console", "zerolog":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.APIID < 0 {
		return errors.New("api id must not be negative")
	}
	if c.DailyJoinQuota < 1 {
		return errors.New("daily join quota must be at least 1")
	}
	if c.FetchRetryMax < 1 {
		return errors.New("fetch retry max must be at least 1")
	}
	if c.FetchPageSize < 1 || c.FetchPageSize > 100 {
		return errors.New("fetch page size must be between 1 and 100")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.FloodBackoffBase <= 0 || c.PollInterval <= 0 || c.CallTimeout <= 0 || c.DialTimeout <= 0 {
		return errors.New("timeouts and intervals must be positive")
	}
	if c.ProxyDeadAfter < 1 {
		return errors.New("proxy dead after must be at least 1")
	}
	if c.TaskRetention <= 0 || c.DedupRetention < 0 {
		return errors.New("task retention must be positive and dedup retention not negative")
	}
	if c.ProxyCooldown < 0 || c.Pacing < 0 {
		return errors.New("proxy cooldown and pacing must not be negative")
	}
	if c.ScratchDir == "" || c.ScratchMaxAge <= 0 || c.CleanupInterval <= 0 {
		return errors.New("scratch dir, max age and cleanup interval are required")
	}
	if c.BackupInterval < 0 {
		return errors.New("backup interval must not be negative")
	}
	if c.BackupInterval > 0 && (c.BackupDir == "" || c.BackupKeep < 1) {
		return errors.New("backups need a directory and keep of at least 1")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return errors.New("s3 access key and secret key go together")
	}
	return nil
}

// Keyring derives the store keyring from MasterKeys.
func (c *Config) Keyring() (*cryptox.Keyring, error) {
	if len(c.MasterKeys) == 0 {
		return nil, errors.New("at least one master key is required")
	}
	keys := make(map[uint32][]byte, len(c.MasterKeys))
	var highest uint32
	for _, mk := range c.MasterKeys {
		v, pass, ok := strings.Cut(mk, ":")
		if !ok || pass == "" {
			return nil, errors.New("master keys must look like version:passphrase")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("master key version %q must be a positive integer", v)
		}
		if _, dup := keys[uint32(n)]; dup {
			return nil, fmt.Errorf("master key version %d given twice", n)
		}
		keys[uint32(n)] = cryptox.DeriveMasterKey([]byte(pass), []byte(c.KeySalt))
		highest = max(highest, uint32(n))
	}
	current := c.KeyVersion
	if current == 0 {
		current = highest
	}
	return cryptox.NewKeyring(current, keys)
}

// Backups reports whether the periodic backup job runs.
func (c *Config) Backups() bool {
	return c.BackupInterval > 0
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
