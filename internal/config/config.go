// Package config defines the top-level configuration for the hedge bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGEBOT_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Subgraph    SubgraphConfig    `toml:"subgraph"`
	Ethereum    EthereumConfig    `toml:"ethereum"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Hedging     HedgingConfig     `toml:"hedging"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the exchange signing key. Either a raw hex key or an
// encrypted keyfile produced by `hedgebot encrypt-key` must be provided for
// modes that place orders.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	Address          string `toml:"address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HyperliquidConfig holds exchange API endpoints.
type HyperliquidConfig struct {
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
	Testnet bool   `toml:"testnet"`
}

// SubgraphConfig holds the Uniswap v3 subgraph endpoint.
type SubgraphConfig struct {
	URL    string `toml:"url"`
	ApiKey string `toml:"api_key"`
}

// EthereumConfig holds the JSON-RPC endpoint used for static fee reads. An
// empty rpc_url disables uncollected-fee reads; snapshots then record zero
// uncollected fees.
type EthereumConfig struct {
	RpcURL string `toml:"rpc_url"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// HedgingConfig holds hedge sizing parameters. Ratio and Threshold are
// fractions expressed as floats in the TOML file and converted to decimals
// during wiring.
type HedgingConfig struct {
	Ratio     float64           `toml:"ratio"`
	Threshold float64           `toml:"threshold"`
	Leverage  int               `toml:"leverage"`
	Mappings  map[string]string `toml:"mappings"`
}

// PipelineConfig holds scheduling parameters for the background loops.
type PipelineConfig struct {
	SyncInterval         duration `toml:"sync_interval"`
	SnapshotInterval     duration `toml:"snapshot_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Hyperliquid: HyperliquidConfig{
			BaseURL: "https://api.hyperliquid.xyz",
			WsURL:   "wss://api.hyperliquid.xyz/ws",
		},
		Subgraph: SubgraphConfig{
			URL: "https://gateway.thegraph.com/api/subgraphs/id/5zvR82QoaXYFyDEKLZ9t6v9adgnptxYpKpSbxtgVENFV",
		},
		Ethereum: EthereumConfig{
			RpcURL: "https://eth.llamarpc.com",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedgebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hedgebot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Hedging: HedgingConfig{
			Ratio:     1.0,
			Threshold: 0.05,
			Leverage:  3,
			Mappings:  map[string]string{},
		},
		Pipeline: PipelineConfig{
			SyncInterval:         duration{5 * time.Minute},
			SnapshotInterval:     duration{1 * time.Hour},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{"rebalance_completed", "rebalance_failed", "breaker_open", "position_closed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"hedge":    true,
	"monitor":  true,
	"snapshot": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: hedge, monitor, snapshot, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — modes that place orders need a signing key.
	needsWallet := c.Mode == "hedge" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Hyperliquid endpoints
	if c.Hyperliquid.BaseURL == "" {
		errs = append(errs, "hyperliquid: base_url must not be empty")
	}

	// Subgraph
	if c.Subgraph.URL == "" {
		errs = append(errs, "subgraph: url must not be empty")
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when archival is scheduled.
	if c.Pipeline.ArchiveCron != "" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when pipeline.archive_cron is set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when pipeline.archive_cron is set")
		}
	}

	// Hedging
	if c.Hedging.Ratio <= 0 || c.Hedging.Ratio > 1 {
		errs = append(errs, fmt.Sprintf("hedging: ratio must be in (0, 1], got %v", c.Hedging.Ratio))
	}
	if c.Hedging.Threshold <= 0 || c.Hedging.Threshold >= 1 {
		errs = append(errs, fmt.Sprintf("hedging: threshold must be in (0, 1), got %v", c.Hedging.Threshold))
	}
	if c.Hedging.Leverage < 1 {
		errs = append(errs, fmt.Sprintf("hedging: leverage must be >= 1, got %d", c.Hedging.Leverage))
	}

	// Pipeline
	if c.Pipeline.SyncInterval.Duration <= 0 {
		errs = append(errs, "pipeline: sync_interval must be > 0")
	}
	if c.Pipeline.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "pipeline: snapshot_interval must be > 0")
	}
	if c.Pipeline.ArchiveRetentionDays < 1 {
		errs = append(errs, "pipeline: archive_retention_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
