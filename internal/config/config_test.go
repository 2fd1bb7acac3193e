package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const traderA = "0x1111111111111111111111111111111111111111"

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Copy.Traders = []string{traderA}
	return cfg
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsWithTraderAndKeyAreValid(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Log.Level = "verbose"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed:")
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown level "verbose"`)
	assert.Contains(t, msg, "redis: addr must not be empty")
	assert.Contains(t, msg, "server: port must be 1-65535")
}

func TestValidateTradingSection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no key", func(c *Config) { c.Wallet.PrivateKey = "" }, "wallet: either private_key or encrypted_key_path"},
		{"encrypted without password", func(c *Config) {
			c.Wallet.PrivateKey = ""
			c.Wallet.EncryptedKeyPath = "/keys/wallet.json"
		}, "key_password is required"},
		{"no traders", func(c *Config) { c.Copy.Traders = nil }, "at least one trader"},
		{"bad trader", func(c *Config) { c.Copy.Traders = []string{"0xabc"} }, `trader "0xabc" is not a valid address`},
		{"partial credentials", func(c *Config) { c.Polymarket.APIKey = "k" }, "must all be set together"},
		{"slippage below one", func(c *Config) { c.Copy.SlippageFactor = 0.9 }, "slippage_factor must be >= 1"},
		{"bad tier", func(c *Config) {
			c.Copy.MultiplierTiers = []TierConfig{{MinOrderUSD: 100, Multiplier: 0}}
		}, "multiplier_tiers[0]"},
		{"imbalance above one", func(c *Config) { c.Risk.MaxImbalance = 1.5 }, "max_imbalance must be in (0, 1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestArchiveModeSkipsTradingChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.NeedsWorker())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "full"

[copy]
traders = ["`+traderA+`"]
poll_interval = "2s"
aggregation_enabled = false

[[copy.multiplier_tiers]]
min_order_usd = 100
multiplier = 0.5

[[copy.multiplier_tiers]]
min_order_usd = 1000
multiplier = 0.25

[risk]
max_cost_basis = 0.97
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, []string{traderA}, cfg.Copy.Traders)
	assert.Equal(t, 2*time.Second, cfg.Copy.PollInterval.Duration)
	assert.False(t, cfg.Copy.AggregationEnabled)
	require.Len(t, cfg.Copy.MultiplierTiers, 2)
	assert.Equal(t, 0.25, cfg.Copy.MultiplierTiers[1].Multiplier)
	assert.Equal(t, 0.97, cfg.Risk.MaxCostBasis)
	assert.Equal(t, 0.30, cfg.Risk.MaxImbalance, "untouched defaults survive")
	assert.Equal(t, 5*time.Second, cfg.Copy.RateLimitBackoff.Duration)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, "[copy]\npoll_intervall = \"1s\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy.poll_intervall")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTOML(t, "[copy]\nretry_limit = 2\n")
	t.Setenv("POLYCOPY_COPY_RETRY_LIMIT", "7")
	t.Setenv("POLYCOPY_COPY_TRADERS", " 0xaaa , ,0xbbb")
	t.Setenv("POLYCOPY_COPY_NETWORK_BACKOFF", "250ms")
	t.Setenv("POLYCOPY_RISK_ENABLED", "false")
	t.Setenv("POLYCOPY_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Copy.RetryLimit)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Copy.Traders)
	assert.Equal(t, 250*time.Millisecond, cfg.Copy.NetworkBackoff.Duration)
	assert.False(t, cfg.Risk.Enabled)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable values are ignored")
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg"
	cfg.Notify.TelegramToken = "tg"
	cfg.Server.APIKey = ""

	red := cfg.Redacted()
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Empty(t, red.Server.APIKey)

	red.Copy.Traders[0] = "mutated"
	assert.Equal(t, traderA, cfg.Copy.Traders[0])
	assert.NotEqual(t, "***", cfg.Wallet.PrivateKey)
}

func TestPrivateKeyStripsPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "0x" + cfg.Wallet.PrivateKey
	key, err := cfg.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", key)
}
