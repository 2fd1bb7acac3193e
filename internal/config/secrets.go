package config

import (
	"github.com/alanyoungcy/polycopy/internal/crypto"
)

// Redacted returns a copy of the config with every secret masked, safe to
// log.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Polymarket.APISecret)
	redact(&out.Polymarket.APIPassphrase)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	out.Copy.Traders = append([]string(nil), c.Copy.Traders...)
	out.Copy.MultiplierTiers = append([]TierConfig(nil), c.Copy.MultiplierTiers...)
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	return out
}

// PrivateKey resolves the wallet key, preferring the raw key over the
// encrypted key file.
func (c *Config) PrivateKey() (string, error) {
	return crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    c.Wallet.PrivateKey,
		EncryptedKeyPath: c.Wallet.EncryptedKeyPath,
		KeyPassword:      c.Wallet.KeyPassword,
	})
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
