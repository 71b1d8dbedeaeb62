package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/venuearb/internal/blob/s3"
	"github.com/alanyoungcy/venuearb/internal/cache/redis"
	"github.com/alanyoungcy/venuearb/internal/config"
	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/metrics"
	"github.com/alanyoungcy/venuearb/internal/store/memory"
	"github.com/alanyoungcy/venuearb/internal/store/postgres"
	"github.com/alanyoungcy/venuearb/internal/venue"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Markets domain.MarketStore
	Books   domain.OrderBookStore
	Trades  domain.TradeStore
	Pairs   domain.PairStore
	Signals domain.SignalStore
	Health  domain.HealthStore

	// Coordination. LockManager is nil without redis.
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Archiver is nil unless S3 archiving is enabled.
	Archiver domain.Archiver

	Metrics  *metrics.Recorder
	Sessions []venue.Session
}

// pairSeeder is implemented by pair stores that accept seeded pairs.
type pairSeeder interface {
	Upsert(ctx context.Context, p domain.MatchedPair) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := &Dependencies{Metrics: metrics.New(reg)}

	// --- PostgreSQL ---
	var pg *postgres.Client
	if cfg.Storage.Backend == "postgres" || cfg.Storage.BookBackend == "postgres" {
		var err error
		pg, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
	}

	if cfg.Storage.Backend == "postgres" {
		pool := pg.Pool()
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Pairs = postgres.NewPairStore(pool)
		deps.Signals = postgres.NewSignalStore(pool)
		deps.Health = postgres.NewHealthStore(pool)
	} else {
		deps.Markets = memory.NewMarketStore()
		deps.Trades = memory.NewTradeStore()
		deps.Pairs = memory.NewPairStore()
		deps.Signals = memory.NewSignalStore()
		deps.Health = memory.NewHealthStore()
	}

	// --- Redis ---
	var rc *redis.Client
	if cfg.Redis.Enabled {
		var err error
		rc, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.SignalBus = redis.NewSignalBus(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
	} else {
		deps.SignalBus = memory.NewBus()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	switch cfg.Storage.BookBackend {
	case "postgres":
		deps.Books = postgres.NewBookStore(pg.Pool())
	case "redis":
		deps.Books = redis.NewBookStore(rc)
	default:
		deps.Books = memory.NewBookStore()
	}

	// --- S3 signal archive ---
	if cfg.S3.Enabled && cfg.Pipeline.ArchiveEnabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Signals)
	}

	if cfg.Storage.PairsFile != "" {
		n, err := seedPairs(ctx, deps.Pairs, cfg.Storage.PairsFile)
		if err != nil {
			return fail(fmt.Errorf("wire: seed pairs: %w", err))
		}
		logger.InfoContext(ctx, "matched pairs seeded",
			slog.String("file", cfg.Storage.PairsFile),
			slog.Int("pairs", n),
		)
	}

	// --- Venue sessions ---
	sessions, closeSessions := buildSessions(ctx, cfg, logger)
	closers = append(closers, closeSessions)
	deps.Sessions = sessions

	return deps, cleanup, nil
}

// seedPairs loads a JSON array of matched pairs into store.
func seedPairs(ctx context.Context, store domain.PairStore, path string) (int, error) {
	seeder, ok := store.(pairSeeder)
	if !ok {
		return 0, fmt.Errorf("pair store %T cannot be seeded", store)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pairs []domain.MatchedPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, p := range pairs {
		if err := seeder.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("upsert pair %s: %w", p.ID, err)
		}
	}
	return len(pairs), nil
}
