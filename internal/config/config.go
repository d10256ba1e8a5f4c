// Package config defines the top-level configuration for the liquidation
// service and provides validation helpers.
package config

import (
	"fmt"
	"time"

	fpmath "AuctionLedger/internal/math"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LIQ_* environment variables.
type Config struct {
	Postgres Postgres `toml:"postgres"`
	NATS     NATS     `toml:"nats"`
	Server   Server   `toml:"server"`
	Engine   Engine   `toml:"engine"`
	Auction  Auction  `toml:"auction"`
	LogLevel string   `toml:"log_level"`
}

// Postgres holds the event log connection parameters.
type Postgres struct {
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// NATS holds the command/event broker parameters.
type NATS struct {
	URL     string `toml:"url"`
	Enabled bool   `toml:"enabled"`
}

// Server holds the HTTP listener parameters. MetricsAddr serves
// /metrics, /healthz and /readyz on its own listener so operational
// probes survive API saturation.
type Server struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
	AdminToken  string `toml:"admin_token"`
}

// Engine holds the event pipeline tuning knobs.
type Engine struct {
	PersistChanSize    int      `toml:"persist_chan_size"`
	PublishChanSize    int      `toml:"publish_chan_size"`
	ProjectionChanSize int      `toml:"projection_chan_size"`
	PersistBatchSize   int      `toml:"persist_batch_size"`
	PersistFlushMs     int      `toml:"persist_flush_ms"`
	DedupLRUCapacity   int      `toml:"dedup_lru_capacity"`
	Custodian          string   `toml:"custodian"`
	JoinAccount        string   `toml:"join_account"`
	RouterAccount      string   `toml:"router_account"`
	BaseSymbol         string   `toml:"base_symbol"`
	CollateralSymbol   string   `toml:"collateral_symbol"`
	Series             []Series `toml:"series"`
}

// Series declares a debt series the vault ledger should know at boot.
type Series struct {
	ID   string `toml:"id"`
	Rate int64  `toml:"rate"`
}

// Auction holds the initial auction parameters. All of them can be
// changed at runtime through the admin API.
type Auction struct {
	DurationSeconds uint32 `toml:"duration_seconds"`
	InitialOffer    int64  `toml:"initial_offer"`
	Dust            int64  `toml:"dust"`
}

// Defaults returns the built-in configuration used when the TOML file
// omits a field.
func Defaults() Config {
	return Config{
		Postgres: Postgres{
			DSN:          "postgres://localhost:5432/auctionledger?sslmode=disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		NATS: NATS{
			URL:     "nats://localhost:4222",
			Enabled: true,
		},
		Server: Server{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Engine: Engine{
			PersistChanSize:    4096,
			PublishChanSize:    4096,
			ProjectionChanSize: 4096,
			PersistBatchSize:   256,
			PersistFlushMs:     50,
			DedupLRUCapacity:   100_000,
			Custodian:          "liq-engine",
			JoinAccount:        "join",
			RouterAccount:      "router",
			BaseSymbol:         "BASE",
			CollateralSymbol:   "COLL",
		},
		Auction: Auction{
			DurationSeconds: 3600,
			InitialOffer:    fpmath.WAD / 2,
			Dust:            0,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values the service cannot start
// with.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Engine.PersistChanSize <= 0 || c.Engine.PersistBatchSize <= 0 {
		return fmt.Errorf("engine channel and batch sizes must be positive")
	}
	if c.Auction.InitialOffer < 0 || c.Auction.InitialOffer > fpmath.WAD {
		return fmt.Errorf("auction.initial_offer must be within [0, %d]", fpmath.WAD)
	}
	if c.Auction.Dust < 0 {
		return fmt.Errorf("auction.dust must not be negative")
	}
	for _, s := range c.Engine.Series {
		if s.ID == "" || s.Rate < fpmath.WAD {
			return fmt.Errorf("engine.series %q needs an id and a rate of at least %d", s.ID, fpmath.WAD)
		}
	}
	return nil
}

// PersistFlushTimeout converts the millisecond knob to a duration.
func (c *Config) PersistFlushTimeout() time.Duration {
	return time.Duration(c.Engine.PersistFlushMs) * time.Millisecond
}
