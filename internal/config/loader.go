package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYCOPY_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYCOPY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYCOPY_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYCOPY_WALLET_KEY_PASSWORD")
	setInt(&cfg.Wallet.ChainID, "POLYCOPY_WALLET_CHAIN_ID")
	setInt(&cfg.Wallet.SignatureType, "POLYCOPY_WALLET_SIGNATURE_TYPE")
	setStr(&cfg.Wallet.FunderAddress, "POLYCOPY_WALLET_FUNDER_ADDRESS")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCOPY_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataAPIHost, "POLYCOPY_POLYMARKET_DATA_API_HOST")
	setStr(&cfg.Polymarket.APIKey, "POLYCOPY_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.APISecret, "POLYCOPY_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.APIPassphrase, "POLYCOPY_POLYMARKET_API_PASSPHRASE")
	setBool(&cfg.Polymarket.NegRisk, "POLYCOPY_POLYMARKET_NEG_RISK")

	// ── Copy ──
	setStringSlice(&cfg.Copy.Traders, "POLYCOPY_COPY_TRADERS")
	setDuration(&cfg.Copy.PollInterval, "POLYCOPY_COPY_POLL_INTERVAL")
	setInt(&cfg.Copy.BatchSize, "POLYCOPY_COPY_BATCH_SIZE")
	setBool(&cfg.Copy.AggregationEnabled, "POLYCOPY_COPY_AGGREGATION_ENABLED")
	setBool(&cfg.Copy.DryRun, "POLYCOPY_COPY_DRY_RUN")
	setBool(&cfg.Copy.SkipSlippageGuard, "POLYCOPY_COPY_SKIP_SLIPPAGE_GUARD")
	setFloat64(&cfg.Copy.SlippageFactor, "POLYCOPY_COPY_SLIPPAGE_FACTOR")
	setInt(&cfg.Copy.RetryLimit, "POLYCOPY_COPY_RETRY_LIMIT")
	setDuration(&cfg.Copy.RateLimitBackoff, "POLYCOPY_COPY_RATE_LIMIT_BACKOFF")
	setDuration(&cfg.Copy.NetworkBackoff, "POLYCOPY_COPY_NETWORK_BACKOFF")
	setDuration(&cfg.Copy.ExceptionBackoff, "POLYCOPY_COPY_EXCEPTION_BACKOFF")
	setDuration(&cfg.Copy.OtherBackoff, "POLYCOPY_COPY_OTHER_BACKOFF")
	setFloat64(&cfg.Copy.BaseMultiplier, "POLYCOPY_COPY_BASE_MULTIPLIER")
	setFloat64(&cfg.Copy.MinOrderUSD, "POLYCOPY_COPY_MIN_ORDER_USD")
	setFloat64(&cfg.Copy.MaxOrderUSD, "POLYCOPY_COPY_MAX_ORDER_USD")
	setFloat64(&cfg.Copy.MaxPositionUSD, "POLYCOPY_COPY_MAX_POSITION_USD")
	setInt(&cfg.Copy.OrderRateLimit, "POLYCOPY_COPY_ORDER_RATE_LIMIT")
	setDuration(&cfg.Copy.DedupTTL, "POLYCOPY_COPY_DEDUP_TTL")
	setBool(&cfg.Copy.IngestEnabled, "POLYCOPY_COPY_INGEST_ENABLED")
	setDuration(&cfg.Copy.IngestInterval, "POLYCOPY_COPY_INGEST_INTERVAL")
	setDuration(&cfg.Copy.IngestLookback, "POLYCOPY_COPY_INGEST_LOOKBACK")

	// ── Risk ──
	setBool(&cfg.Risk.Enabled, "POLYCOPY_RISK_ENABLED")
	setFloat64(&cfg.Risk.MaxCostBasis, "POLYCOPY_RISK_MAX_COST_BASIS")
	setFloat64(&cfg.Risk.MaxImbalance, "POLYCOPY_RISK_MAX_IMBALANCE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYCOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYCOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCOPY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCOPY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYCOPY_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "POLYCOPY_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYCOPY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYCOPY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCOPY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCOPY_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYCOPY_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYCOPY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCOPY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYCOPY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYCOPY_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveAfter, "POLYCOPY_S3_ARCHIVE_AFTER")
	setDuration(&cfg.S3.ArchiveInterval, "POLYCOPY_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYCOPY_SERVER_ENABLED")
	setStr(&cfg.Server.Host, "POLYCOPY_SERVER_HOST")
	setInt(&cfg.Server.Port, "POLYCOPY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYCOPY_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.Log.Level, "POLYCOPY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
