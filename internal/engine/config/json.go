package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/flagx"
	"github.com/dmitrijs2005/tgfleet/internal/timex"
	json "github.com/goccy/go-json"
)

// JsonConfig is the on-disk form of Config. Durations may be strings such
// as "90s" or integer nanoseconds. Zero values leave the current setting
// alone.
type JsonConfig struct {
	GRPCAddr      string         `json:"grpc_addr"`
	MetricsAddr   string         `json:"metrics_addr"`
	SecretKey     string         `json:"secret_key"`
	TokenValidity timex.Duration `json:"token_validity"`

	DatabaseDriver string   `json:"database_driver"`
	DatabaseDSN    string   `json:"database_dsn"`
	MasterKeys     []string `json:"master_keys"`
	KeySalt        string   `json:"key_salt"`
	KeyVersion     uint32   `json:"key_version"`

	LogFormat string `json:"log_format"`
	LogLevel  string `json:"log_level"`

	APIID        int            `json:"api_id"`
	APIHash      string         `json:"api_hash"`
	CallTimeout  timex.Duration `json:"call_timeout"`
	DialTimeout  timex.Duration `json:"dial_timeout"`
	Pacing       timex.Duration `json:"pacing"`
	RequireProxy *bool          `json:"require_proxy"`
	CheckAddr    string         `json:"check_addr"`

	DailyJoinQuota   int            `json:"daily_join_quota"`
	FloodBackoffBase timex.Duration `json:"flood_backoff_base"`
	ProxyCooldown    timex.Duration `json:"proxy_cooldown"`
	ProxyDeadAfter   int            `json:"proxy_dead_after"`
	FetchRetryMax    int            `json:"fetch_retry_max"`
	FetchPageSize    int            `json:"fetch_page_size"`
	MaxAttempts      int            `json:"max_attempts"`
	Workers          int            `json:"workers"`
	PollInterval     timex.Duration `json:"poll_interval"`
	TaskRetention    timex.Duration `json:"task_retention"`
	DedupRetention   timex.Duration `json:"dedup_retention"`

	ScratchDir      string         `json:"scratch_dir"`
	ScratchMaxAge   timex.Duration `json:"scratch_max_age"`
	CleanupInterval timex.Duration `json:"cleanup_interval"`

	BackupDir        string          `json:"backup_dir"`
	BackupInterval   *timex.Duration `json:"backup_interval"`
	BackupKeep       int             `json:"backup_keep"`
	BackupRecipients []string        `json:"backup_recipients"`
	S3Endpoint       string          `json:"s3_endpoint"`
	S3Region         string          `json:"s3_region"`
	S3Bucket         string          `json:"s3_bucket"`
	S3Prefix         string          `json:"s3_prefix"`
	S3AccessKey      string          `json:"s3_access_key"`
	S3SecretKey      string          `json:"s3_secret_key"`
}

// parseJson overlays the JSON file named by -c or -config onto config.
// Without the flag nothing is loaded.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", jsonConfigFile, err)
	}
	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.TokenValidity, c.TokenValidity)

	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	if len(c.MasterKeys) > 0 {
		config.MasterKeys = c.MasterKeys
	}
	setString(&config.KeySalt, c.KeySalt)
	if c.KeyVersion != 0 {
		config.KeyVersion = c.KeyVersion
	}

	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)

	setInt(&config.APIID, c.APIID)
	setString(&config.APIHash, c.APIHash)
	setDuration(&config.CallTimeout, c.CallTimeout)
	setDuration(&config.DialTimeout, c.DialTimeout)
	setDuration(&config.Pacing, c.Pacing)
	if c.RequireProxy != nil {
		config.RequireProxy = *c.RequireProxy
	}
	setString(&config.CheckAddr, c.CheckAddr)

	setInt(&config.DailyJoinQuota, c.DailyJoinQuota)
	setDuration(&config.FloodBackoffBase, c.FloodBackoffBase)
	setDuration(&config.ProxyCooldown, c.ProxyCooldown)
	setInt(&config.ProxyDeadAfter, c.ProxyDeadAfter)
	setInt(&config.FetchRetryMax, c.FetchRetryMax)
	setInt(&config.FetchPageSize, c.FetchPageSize)
	setInt(&config.MaxAttempts, c.MaxAttempts)
	setInt(&config.Workers, c.Workers)
	setDuration(&config.PollInterval, c.PollInterval)
	setDuration(&config.TaskRetention, c.TaskRetention)
	setDuration(&config.DedupRetention, c.DedupRetention)

	setString(&config.ScratchDir, c.ScratchDir)
	setDuration(&config.ScratchMaxAge, c.ScratchMaxAge)
	setDuration(&config.CleanupInterval, c.CleanupInterval)

	setString(&config.BackupDir, c.BackupDir)
	// an explicit 0 disables backups
	if c.BackupInterval != nil {
		config.BackupInterval = c.BackupInterval.Duration
	}
	setInt(&config.BackupKeep, c.BackupKeep)
	if len(c.BackupRecipients) > 0 {
		config.BackupRecipients = c.BackupRecipients
	}
	setString(&config.S3Endpoint, c.S3Endpoint)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
