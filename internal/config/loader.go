package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQ_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults
// plus the environment then form the whole configuration. The caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQ_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
// Operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "LIQ_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "LIQ_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "LIQ_POSTGRES_MAX_IDLE_CONNS")

	setStr(&cfg.NATS.URL, "LIQ_NATS_URL")
	setBool(&cfg.NATS.Enabled, "LIQ_NATS_ENABLED")

	setStr(&cfg.Server.Addr, "LIQ_SERVER_ADDR")
	setStr(&cfg.Server.MetricsAddr, "LIQ_METRICS_ADDR")
	setStr(&cfg.Server.AdminToken, "LIQ_ADMIN_TOKEN")

	setInt(&cfg.Engine.PersistChanSize, "LIQ_PERSIST_CHAN_SIZE")
	setInt(&cfg.Engine.PublishChanSize, "LIQ_PUBLISH_CHAN_SIZE")
	setInt(&cfg.Engine.ProjectionChanSize, "LIQ_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Engine.PersistBatchSize, "LIQ_PERSIST_BATCH_SIZE")
	setInt(&cfg.Engine.PersistFlushMs, "LIQ_PERSIST_FLUSH_MS")
	setInt(&cfg.Engine.DedupLRUCapacity, "LIQ_DEDUP_LRU_CAPACITY")
	setStr(&cfg.Engine.Custodian, "LIQ_CUSTODIAN")
	setStr(&cfg.Engine.JoinAccount, "LIQ_JOIN_ACCOUNT")

	setUint32(&cfg.Auction.DurationSeconds, "LIQ_AUCTION_DURATION_SECONDS")
	setInt64(&cfg.Auction.InitialOffer, "LIQ_AUCTION_INITIAL_OFFER")
	setInt64(&cfg.Auction.Dust, "LIQ_AUCTION_DUST")

	setStr(&cfg.LogLevel, "LIQ_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the
// environment variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
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
