// Package config defines the configuration of the copy-trading engine and
// provides validation helpers.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Copy       CopyConfig       `toml:"copy"`
	Risk       RiskConfig       `toml:"risk"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Mode       string           `toml:"mode"`
}

// WalletConfig holds the controlled account's credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
	SignatureType    int    `toml:"signature_type"`
	// FunderAddress is the proxy wallet holding funds and positions; the
	// signer address is used when empty.
	FunderAddress string `toml:"funder_address"`
}

// PolymarketConfig holds API endpoints and L2 credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	DataAPIHost   string `toml:"data_api_host"`
	APIKey        string `toml:"api_key"`
	APISecret     string `toml:"api_secret"`
	APIPassphrase string `toml:"api_passphrase"`
	NegRisk       bool   `toml:"neg_risk"`
}

// TierConfig is one step of the tiered multiplier.
type TierConfig struct {
	MinOrderUSD float64 `toml:"min_order_usd"`
	Multiplier  float64 `toml:"multiplier"`
}

// CopyConfig holds the worker, sizing and engine parameters.
type CopyConfig struct {
	Traders            []string     `toml:"traders"`
	PollInterval       duration     `toml:"poll_interval"`
	BatchSize          int          `toml:"batch_size"`
	AggregationEnabled bool         `toml:"aggregation_enabled"`
	DryRun             bool         `toml:"dry_run"`
	SkipSlippageGuard  bool         `toml:"skip_slippage_guard"`
	SlippageFactor     float64      `toml:"slippage_factor"`
	RetryLimit         int          `toml:"retry_limit"`
	RateLimitBackoff   duration     `toml:"rate_limit_backoff"`
	NetworkBackoff     duration     `toml:"network_backoff"`
	ExceptionBackoff   duration     `toml:"exception_backoff"`
	OtherBackoff       duration     `toml:"other_backoff"`
	BaseMultiplier     float64      `toml:"base_multiplier"`
	MultiplierTiers    []TierConfig `toml:"multiplier_tiers"`
	MinOrderUSD        float64      `toml:"min_order_usd"`
	MaxOrderUSD        float64      `toml:"max_order_usd"`
	MaxPositionUSD     float64      `toml:"max_position_usd"`
	OrderRateLimit     int          `toml:"order_rate_limit"` // orders per second
	DedupTTL           duration     `toml:"dedup_ttl"`

	// Activity ingestion from the data API into trader_activity.
	IngestEnabled  bool     `toml:"ingest_enabled"`
	IngestInterval duration `toml:"ingest_interval"`
	IngestLookback duration `toml:"ingest_lookback"`
}

// RiskConfig holds the risk gate ceilings.
type RiskConfig struct {
	Enabled      bool    `toml:"enabled"`
	MaxCostBasis float64 `toml:"max_cost_basis"`
	MaxImbalance float64 `toml:"max_imbalance"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds the archive target.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	Prefix          string   `toml:"prefix"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveAfter    duration `toml:"archive_after"`
	ArchiveInterval duration `toml:"archive_interval"`
	BatchSize       int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the status API parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	APIKey       string   `toml:"api_key"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	RateLimit    int      `toml:"rate_limit"` // requests per client per minute
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level string `toml:"level"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ChainID:       137,
			SignatureType: 2,
		},
		Polymarket: PolymarketConfig{
			ClobHost:    "https://clob.polymarket.com",
			DataAPIHost: "https://data-api.polymarket.com",
		},
		Copy: CopyConfig{
			PollInterval:       duration{time.Second},
			BatchSize:          50,
			AggregationEnabled: true,
			SlippageFactor:     1.10,
			RetryLimit:         3,
			RateLimitBackoff:   duration{5 * time.Second},
			NetworkBackoff:     duration{2 * time.Second},
			ExceptionBackoff:   duration{3 * time.Second},
			OtherBackoff:       duration{time.Second},
			BaseMultiplier:     1.0,
			MinOrderUSD:        1.0,
			OrderRateLimit:     10,
			DedupTTL:           duration{10 * time.Minute},
			IngestEnabled:      true,
			IngestInterval:     duration{2 * time.Second},
			IngestLookback:     duration{time.Hour},
		},
		Risk: RiskConfig{
			Enabled:      true,
			MaxCostBasis: 0.95,
			MaxImbalance: 0.30,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polycopy",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "polycopy",
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "polycopy-archive",
			ForcePathStyle:  true,
			ArchiveAfter:    duration{30 * 24 * time.Hour},
			ArchiveInterval: duration{24 * time.Hour},
			BatchSize:       1000,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{30 * time.Second},
			RateLimit:    120,
		},
		Notify: NotifyConfig{
			Events: []string{"fill", "partial", "abort", "exhausted", "risk_rejected"},
		},
		Log:  LogConfig{Level: "info"},
		Mode: "copy",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NeedsWorker reports whether the mode runs the copy worker.
func (c *Config) NeedsWorker() bool {
	m := strings.ToLower(c.Mode)
	return m == "copy" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	if c.NeedsWorker() {
		errs = append(errs, c.validateTrading()...)
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.LockTTL.Duration < time.Second {
		errs = append(errs, "redis: lock_ttl must be at least 1s")
	}

	// S3
	if c.S3.Enabled || strings.EqualFold(c.Mode, "archive") {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveAfter.Duration <= 0 {
			errs = append(errs, "s3: archive_after must be > 0")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateTrading() []string {
	var errs []string

	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.ChainID <= 0 {
		errs = append(errs, "wallet: chain_id must be positive")
	}
	if c.Wallet.SignatureType < 0 || c.Wallet.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("wallet: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Wallet.SignatureType))
	}
	if c.Wallet.FunderAddress != "" && !addressRe.MatchString(c.Wallet.FunderAddress) {
		errs = append(errs, fmt.Sprintf("wallet: funder_address %q is not a valid address", c.Wallet.FunderAddress))
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataAPIHost == "" {
		errs = append(errs, "polymarket: data_api_host must not be empty")
	}
	k, s, p := c.Polymarket.APIKey != "", c.Polymarket.APISecret != "", c.Polymarket.APIPassphrase != ""
	if (k || s || p) && !(k && s && p) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	if len(c.Copy.Traders) == 0 {
		errs = append(errs, "copy: at least one trader address is required")
	}
	for _, t := range c.Copy.Traders {
		if !addressRe.MatchString(t) {
			errs = append(errs, fmt.Sprintf("copy: trader %q is not a valid address", t))
		}
	}
	if c.Copy.PollInterval.Duration <= 0 {
		errs = append(errs, "copy: poll_interval must be > 0")
	}
	if c.Copy.IngestEnabled && c.Copy.IngestInterval.Duration <= 0 {
		errs = append(errs, "copy: ingest_interval must be > 0")
	}
	if c.Copy.BatchSize < 1 {
		errs = append(errs, "copy: batch_size must be >= 1")
	}
	if c.Copy.RetryLimit < 1 {
		errs = append(errs, "copy: retry_limit must be >= 1")
	}
	if c.Copy.SlippageFactor < 1 {
		errs = append(errs, "copy: slippage_factor must be >= 1")
	}
	if c.Copy.BaseMultiplier <= 0 {
		errs = append(errs, "copy: base_multiplier must be > 0")
	}
	for i, t := range c.Copy.MultiplierTiers {
		if t.MinOrderUSD < 0 || t.Multiplier <= 0 {
			errs = append(errs, fmt.Sprintf("copy: multiplier_tiers[%d] needs min_order_usd >= 0 and multiplier > 0", i))
		}
	}
	if c.Copy.MaxOrderUSD < 0 || c.Copy.MaxPositionUSD < 0 {
		errs = append(errs, "copy: max_order_usd and max_position_usd must be >= 0")
	}

	if c.Risk.Enabled {
		if c.Risk.MaxCostBasis <= 0 {
			errs = append(errs, "risk: max_cost_basis must be > 0")
		}
		if c.Risk.MaxImbalance <= 0 || c.Risk.MaxImbalance > 1 {
			errs = append(errs, "risk: max_imbalance must be in (0, 1]")
		}
	}
	return errs
}
