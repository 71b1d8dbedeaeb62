// Package config defines the top-level configuration for venuearb and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VENUEARB_* environment variables.
type Config struct {
	Venues    []VenueConfig   `toml:"venues"`
	Ingestion IngestionConfig `toml:"ingestion"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig describes one registered venue. Kind selects the acquisition
// protocol and Provider selects the adapter that speaks it.
type VenueConfig struct {
	Name     string `toml:"name"`
	Kind     string `toml:"kind"`
	Provider string `toml:"provider"`
	Disabled bool   `toml:"disabled"`

	BaseURL    string `toml:"base_url"`
	DataAPIURL string `toml:"data_api_url"`
	WsURL      string `toml:"ws_url"`

	// Kalshi credentials. The RSA key is read either from a plain PEM file or
	// from an encrypted key file unlocked with KeyPassword.
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`

	RequestTimeout       duration `toml:"request_timeout"`
	RateLimitDelayMs     int      `toml:"rate_limit_delay_ms"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectInterval    duration `toml:"reconnect_interval"`

	// Chain-log settings.
	RPCURL          string   `toml:"rpc_url"`
	ContractAddress string   `toml:"contract_address"`
	PollInterval    duration `toml:"poll_interval"`
	ErrorBackoff    duration `toml:"error_backoff"`
	LookbackBlocks  uint64   `toml:"lookback_blocks"`
}

// IngestionConfig holds coordinator parameters.
type IngestionConfig struct {
	Interval      duration `toml:"interval"`
	Horizon       duration `toml:"horizon"`
	AutoStart     bool     `toml:"auto_start"`
	ConnectTestTO duration `toml:"connect_test_timeout"`
}

// ArbitrageConfig holds the decision engine parameters.
type ArbitrageConfig struct {
	StalenessThreshold duration           `toml:"staleness_threshold"`
	MinEdgeBuffer      float64            `toml:"min_edge_buffer"`
	MinExecutableSize  float64            `toml:"min_executable_size"`
	MaxSlippage        float64            `toml:"max_slippage"`
	VenueFeeRates      map[string]float64 `toml:"venue_fee_rates"`
	DefaultFeeRate     float64            `toml:"default_fee_rate"`
	SignalExpiry       duration           `toml:"signal_expiry"`
	Workers            int                `toml:"workers"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	// Backend stores markets, trades, pairs, signals and venue health:
	// "postgres" or "memory".
	Backend string `toml:"backend"`
	// BookBackend stores order book levels: "postgres", "redis" or "memory".
	BookBackend string `toml:"book_backend"`
	// PairsFile optionally seeds matched pairs from a JSON array at startup.
	PairsFile string `toml:"pairs_file"`
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

// RedisConfig holds Redis connection parameters. Redis is optional unless the
// redis book backend is selected.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds scheduled sweep parameters.
type PipelineConfig struct {
	EvaluationInterval duration `toml:"evaluation_interval"`
	ExpiryInterval     duration `toml:"expiry_interval"`
	SweepLockTTL       duration `toml:"sweep_lock_ttl"`
	ArchiveEnabled     bool     `toml:"archive_enabled"`
	ArchiveCron        string   `toml:"archive_cron"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// Defaults returns a Config populated with reasonable default values. The
// default venue list registers Kalshi over REST and Polymarket over the CLOB.
func Defaults() Config {
	return Config{
		Venues: []VenueConfig{
			DefaultVenue(domain.VenueKalshi, domain.VenueKindPolling, "kalshi"),
			DefaultVenue(domain.VenuePolymarket, domain.VenueKindPolling, "polymarket"),
		},
		Ingestion: IngestionConfig{
			Interval:      duration{60 * time.Second},
			Horizon:       duration{28 * 24 * time.Hour},
			AutoStart:     true,
			ConnectTestTO: duration{10 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			StalenessThreshold: duration{30 * time.Second},
			MinEdgeBuffer:      0.02,
			MinExecutableSize:  10,
			MaxSlippage:        0.01,
			VenueFeeRates: map[string]float64{
				domain.VenueKalshi:     0.001,
				domain.VenuePolymarket: 0.002,
			},
			DefaultFeeRate: 0.002,
			SignalExpiry:   duration{5 * time.Minute},
			Workers:        8,
		},
		Storage: StorageConfig{
			Backend:     "postgres",
			BookBackend: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "venuearb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "venuearb-archive",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			EvaluationInterval: duration{30 * time.Second},
			ExpiryInterval:     duration{60 * time.Second},
			SweepLockTTL:       duration{25 * time.Second},
			ArchiveEnabled:     false,
			ArchiveCron:        "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// DefaultVenue returns a venue entry with per-protocol defaults filled in.
func DefaultVenue(name string, kind domain.VenueKind, provider string) VenueConfig {
	v := VenueConfig{
		Name:                 name,
		Kind:                 string(kind),
		Provider:             provider,
		RequestTimeout:       duration{10 * time.Second},
		RateLimitDelayMs:     100,
		MaxReconnectAttempts: 5,
		ReconnectInterval:    duration{10 * time.Second},
		PollInterval:         duration{5 * time.Second},
		ErrorBackoff:         duration{10 * time.Second},
		LookbackBlocks:       100,
	}
	switch provider {
	case "kalshi":
		v.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
		v.WsURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	case "polymarket":
		v.BaseURL = "https://clob.polymarket.com"
		v.DataAPIURL = "https://data-api.polymarket.com"
		v.WsURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	case "ctf":
		v.RPCURL = "https://polygon-rpc.com"
		v.ContractAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	}
	return v
}

// Venue returns the named venue entry.
func (c *Config) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":   true,
	"evaluate": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviders = map[string]bool{
	"kalshi":     true,
	"polymarket": true,
	"ctf":        true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, evaluate, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		prefix := fmt.Sprintf("venues[%d]", i)
		if v.Name == "" {
			errs = append(errs, prefix+": name must not be empty")
		} else if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate venue name %q", prefix, v.Name))
		}
		seen[v.Name] = true
		if !domain.VenueKind(v.Kind).Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: polling, streaming, chainlog)", prefix, v.Kind))
		}
		if !validProviders[v.Provider] {
			errs = append(errs, fmt.Sprintf("%s: unknown provider %q (valid: kalshi, polymarket, ctf)", prefix, v.Provider))
		}
		if v.RequestTimeout.Duration <= 0 {
			errs = append(errs, prefix+": request_timeout must be > 0")
		}
		if v.RateLimitDelayMs < 0 {
			errs = append(errs, prefix+": rate_limit_delay_ms must be >= 0")
		}
		switch domain.VenueKind(v.Kind) {
		case domain.VenueKindStreaming:
			if v.WsURL == "" {
				errs = append(errs, prefix+": ws_url is required for streaming venues")
			}
			if v.MaxReconnectAttempts < 1 {
				errs = append(errs, prefix+": max_reconnect_attempts must be >= 1")
			}
			if v.ReconnectInterval.Duration <= 0 {
				errs = append(errs, prefix+": reconnect_interval must be > 0")
			}
		case domain.VenueKindChainLog:
			if v.RPCURL == "" {
				errs = append(errs, prefix+": rpc_url is required for chainlog venues")
			}
			if v.ContractAddress == "" {
				errs = append(errs, prefix+": contract_address is required for chainlog venues")
			}
			if v.PollInterval.Duration <= 0 || v.ErrorBackoff.Duration <= 0 {
				errs = append(errs, prefix+": poll_interval and error_backoff must be > 0")
			}
		}
		if v.EncryptedKeyPath != "" && v.KeyPassword == "" {
			errs = append(errs, prefix+": key_password is required when encrypted_key_path is set")
		}
	}

	// Ingestion
	if c.Ingestion.Interval.Duration <= 0 {
		errs = append(errs, "ingestion: interval must be > 0")
	}
	if c.Ingestion.Horizon.Duration <= 0 {
		errs = append(errs, "ingestion: horizon must be > 0")
	}

	// Arbitrage
	a := c.Arbitrage
	if a.StalenessThreshold.Duration <= 0 {
		errs = append(errs, "arbitrage: staleness_threshold must be > 0")
	}
	if a.MinEdgeBuffer < 0 || a.MinEdgeBuffer >= 1 {
		errs = append(errs, "arbitrage: min_edge_buffer must be in [0, 1)")
	}
	if a.MinExecutableSize <= 0 {
		errs = append(errs, "arbitrage: min_executable_size must be > 0")
	}
	if a.MaxSlippage <= 0 || a.MaxSlippage >= 1 {
		errs = append(errs, "arbitrage: max_slippage must be in (0, 1)")
	}
	for venue, rate := range a.VenueFeeRates {
		if rate < 0 || rate >= 1 {
			errs = append(errs, fmt.Sprintf("arbitrage: venue_fee_rates[%s] must be in [0, 1)", venue))
		}
	}
	if a.SignalExpiry.Duration <= 0 {
		errs = append(errs, "arbitrage: signal_expiry must be > 0")
	}
	if a.Workers < 1 {
		errs = append(errs, "arbitrage: workers must be >= 1")
	}

	// Storage
	switch c.Storage.Backend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}
	switch c.Storage.BookBackend {
	case "postgres", "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "storage: book_backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown book_backend %q (valid: postgres, redis, memory)", c.Storage.BookBackend))
	}

	// Postgres
	if c.needsPostgres() {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Pipeline
	if c.Pipeline.EvaluationInterval.Duration <= 0 {
		errs = append(errs, "pipeline: evaluation_interval must be > 0")
	}
	if c.Pipeline.ExpiryInterval.Duration <= 0 {
		errs = append(errs, "pipeline: expiry_interval must be > 0")
	}
	if c.Pipeline.ArchiveEnabled {
		if !c.S3.Enabled {
			errs = append(errs, "pipeline: archive_enabled requires s3.enabled")
		}
		if len(strings.Fields(c.Pipeline.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("pipeline: archive_cron %q must have 5 fields", c.Pipeline.ArchiveCron))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) needsPostgres() bool {
	return c.Storage.Backend == "postgres" || c.Storage.BookBackend == "postgres"
}

// FeeRate returns the configured taker fee rate for venue.
func (a ArbitrageConfig) FeeRate(venue string) float64 {
	if r, ok := a.VenueFeeRates[venue]; ok {
		return r
	}
	return a.DefaultFeeRate
}
