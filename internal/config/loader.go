package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VENUEARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// The decoder reuses existing slice elements, so decode venues into an
	// empty list and fall back to the default registry when none are given.
	defaultVenues := cfg.Venues
	cfg.Venues = nil
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = defaultVenues
	}
	fillVenueDefaults(&cfg)

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// fillVenueDefaults backfills zero-valued per-venue settings for entries
// written in the file.
func fillVenueDefaults(cfg *Config) {
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		if v.Provider == "" {
			v.Provider = v.Name
		}
		if v.Kind == "" {
			v.Kind = string(domain.VenueKindPolling)
		}
		def := DefaultVenue(v.Name, domain.VenueKind(v.Kind), v.Provider)
		if v.BaseURL == "" {
			v.BaseURL = def.BaseURL
		}
		if v.DataAPIURL == "" {
			v.DataAPIURL = def.DataAPIURL
		}
		if v.WsURL == "" {
			v.WsURL = def.WsURL
		}
		if v.RPCURL == "" {
			v.RPCURL = def.RPCURL
		}
		if v.ContractAddress == "" {
			v.ContractAddress = def.ContractAddress
		}
		if v.RequestTimeout.Duration == 0 {
			v.RequestTimeout = def.RequestTimeout
		}
		if v.RateLimitDelayMs == 0 {
			v.RateLimitDelayMs = def.RateLimitDelayMs
		}
		if v.MaxReconnectAttempts == 0 {
			v.MaxReconnectAttempts = def.MaxReconnectAttempts
		}
		if v.ReconnectInterval.Duration == 0 {
			v.ReconnectInterval = def.ReconnectInterval
		}
		if v.PollInterval.Duration == 0 {
			v.PollInterval = def.PollInterval
		}
		if v.ErrorBackoff.Duration == 0 {
			v.ErrorBackoff = def.ErrorBackoff
		}
		if v.LookbackBlocks == 0 {
			v.LookbackBlocks = def.LookbackBlocks
		}
	}
}

// applyEnvOverrides reads well-known VENUEARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ── keyed by upper-cased venue name, e.g. VENUEARB_VENUE_KALSHI_API_KEY.
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		p := "VENUEARB_VENUE_" + envKey(v.Name) + "_"
		setBool(&v.Disabled, p+"DISABLED")
		setStr(&v.BaseURL, p+"BASE_URL")
		setStr(&v.WsURL, p+"WS_URL")
		setStr(&v.ApiKey, p+"API_KEY")
		setStr(&v.RsaPrivateKeyPath, p+"RSA_PRIVATE_KEY_PATH")
		setStr(&v.EncryptedKeyPath, p+"ENCRYPTED_KEY_PATH")
		setStr(&v.KeyPassword, p+"KEY_PASSWORD")
		setStr(&v.RPCURL, p+"RPC_URL")
		setInt(&v.RateLimitDelayMs, p+"RATE_LIMIT_DELAY_MS")
		setInt(&v.MaxReconnectAttempts, p+"MAX_RECONNECT_ATTEMPTS")
		setDuration(&v.ReconnectInterval, p+"RECONNECT_INTERVAL")
		setDuration(&v.RequestTimeout, p+"REQUEST_TIMEOUT")
	}

	// ── Ingestion ──
	setDuration(&cfg.Ingestion.Interval, "VENUEARB_INGESTION_INTERVAL")
	setDuration(&cfg.Ingestion.Horizon, "VENUEARB_INGESTION_HORIZON")
	setBool(&cfg.Ingestion.AutoStart, "VENUEARB_INGESTION_AUTO_START")

	// ── Arbitrage ──
	setDuration(&cfg.Arbitrage.StalenessThreshold, "VENUEARB_ARBITRAGE_STALENESS_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MinEdgeBuffer, "VENUEARB_ARBITRAGE_MIN_EDGE_BUFFER")
	setFloat64(&cfg.Arbitrage.MinExecutableSize, "VENUEARB_ARBITRAGE_MIN_EXECUTABLE_SIZE")
	setFloat64(&cfg.Arbitrage.MaxSlippage, "VENUEARB_ARBITRAGE_MAX_SLIPPAGE")
	setDuration(&cfg.Arbitrage.SignalExpiry, "VENUEARB_ARBITRAGE_SIGNAL_EXPIRY")
	setInt(&cfg.Arbitrage.Workers, "VENUEARB_ARBITRAGE_WORKERS")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "VENUEARB_STORAGE_BACKEND")
	setStr(&cfg.Storage.BookBackend, "VENUEARB_STORAGE_BOOK_BACKEND")
	setStr(&cfg.Storage.PairsFile, "VENUEARB_STORAGE_PAIRS_FILE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VENUEARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "VENUEARB_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VENUEARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VENUEARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VENUEARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VENUEARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VENUEARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VENUEARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VENUEARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VENUEARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VENUEARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VENUEARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VENUEARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VENUEARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VENUEARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VENUEARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VENUEARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VENUEARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VENUEARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VENUEARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VENUEARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "VENUEARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VENUEARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VENUEARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VENUEARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VENUEARB_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.EvaluationInterval, "VENUEARB_PIPELINE_EVALUATION_INTERVAL")
	setDuration(&cfg.Pipeline.ExpiryInterval, "VENUEARB_PIPELINE_EXPIRY_INTERVAL")
	setBool(&cfg.Pipeline.ArchiveEnabled, "VENUEARB_PIPELINE_ARCHIVE_ENABLED")
	setStr(&cfg.Pipeline.ArchiveCron, "VENUEARB_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VENUEARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VENUEARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VENUEARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VENUEARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "VENUEARB_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Top-level ──
	setStr(&cfg.Mode, "VENUEARB_MODE")
	setStr(&cfg.LogLevel, "VENUEARB_LOG_LEVEL")
}

func envKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
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
