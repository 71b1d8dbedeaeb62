package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/venuearb/internal/config"
	"github.com/alanyoungcy/venuearb/internal/crypto"
	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/platform/ctf"
	"github.com/alanyoungcy/venuearb/internal/platform/kalshi"
	"github.com/alanyoungcy/venuearb/internal/platform/polymarket"
	"github.com/alanyoungcy/venuearb/internal/venue"
)

const rpcDialTimeout = 15 * time.Second

// buildSessions constructs one session per enabled venue. A venue whose
// session cannot be built is logged and skipped; the others proceed.
func buildSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]venue.Session, func()) {
	var (
		sessions []venue.Session
		closers  []func()
	)
	for _, vc := range cfg.Venues {
		if vc.Disabled {
			continue
		}
		sc, closeFn, err := sessionConfig(ctx, vc, cfg.Ingestion.Horizon.Duration)
		if err == nil {
			var s venue.Session
			s, err = venue.New(sc, logger)
			if err == nil {
				sessions = append(sessions, s)
			}
		}
		if err != nil {
			if closeFn != nil {
				closeFn()
			}
			logger.ErrorContext(ctx, "venue session not started",
				slog.String("venue", vc.Name),
				slog.String("kind", vc.Kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		logger.InfoContext(ctx, "venue session ready",
			slog.String("venue", vc.Name),
			slog.String("kind", vc.Kind),
			slog.String("provider", vc.Provider),
		)
	}
	return sessions, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func sessionOptions(vc config.VenueConfig, horizon time.Duration) venue.Options {
	return venue.Options{
		RequestTimeout:       vc.RequestTimeout.Duration,
		RateLimitDelay:       time.Duration(vc.RateLimitDelayMs) * time.Millisecond,
		Horizon:              horizon,
		MaxReconnectAttempts: vc.MaxReconnectAttempts,
		ReconnectInterval:    vc.ReconnectInterval.Duration,
		PollInterval:         vc.PollInterval.Duration,
		ErrorBackoff:         vc.ErrorBackoff.Duration,
		LookbackBlocks:       vc.LookbackBlocks,
	}
}

// sessionConfig builds the provider adapters for vc. The returned close
// function, when non-nil, releases a connection the adapters hold.
func sessionConfig(ctx context.Context, vc config.VenueConfig, horizon time.Duration) (venue.Config, func(), error) {
	sc := venue.Config{
		Name:    vc.Name,
		Kind:    domain.VenueKind(strings.ToLower(vc.Kind)),
		Options: sessionOptions(vc, horizon),
	}
	timeout := vc.RequestTimeout.Duration

	switch strings.ToLower(vc.Provider) {
	case "kalshi":
		client := kalshi.NewClient(vc.Name, vc.BaseURL, vc.ApiKey, timeout)
		src := crypto.KeySource{
			Path:          vc.RsaPrivateKeyPath,
			EncryptedPath: vc.EncryptedKeyPath,
			Password:      vc.KeyPassword,
		}
		if src.Configured() {
			pemBytes, err := crypto.Load(src)
			if err != nil {
				return sc, nil, domain.ConfigurationError(vc.Name, "load rsa key", err)
			}
			if err := client.SetRSAPrivateKey(pemBytes); err != nil {
				return sc, nil, domain.ConfigurationError(vc.Name, "load rsa key", err)
			}
		}
		sc.Fetcher = client
		if sc.Kind == domain.VenueKindStreaming {
			sc.Dialer = kalshi.NewDialer(vc.Name, vc.WsURL, client)
		}
		return sc, nil, nil

	case "polymarket":
		client := polymarket.NewClobClient(vc.Name, vc.BaseURL, vc.DataAPIURL, timeout)
		sc.Fetcher = client
		if sc.Kind == domain.VenueKindStreaming {
			sc.Dialer = polymarket.NewDialer(vc.Name, vc.WsURL, client)
		}
		return sc, nil, nil

	case "ctf":
		if vc.RPCURL == "" {
			return sc, nil, domain.ConfigurationError(vc.Name, "new session", errors.New("rpc_url is required"))
		}
		decoder, err := ctf.NewDecoder(vc.ContractAddress)
		if err != nil {
			return sc, nil, domain.ConfigurationError(vc.Name, "new session", err)
		}
		dialCtx, cancel := context.WithTimeout(ctx, rpcDialTimeout)
		defer cancel()
		ec, err := ethclient.DialContext(dialCtx, vc.RPCURL)
		if err != nil {
			return sc, nil, domain.ConnectivityError(vc.Name, "dial rpc", err)
		}
		sc.Logs = ec
		sc.Decoder = decoder
		return sc, ec.Close, nil

	default:
		return sc, nil, domain.ConfigurationError(vc.Name, "new session", fmt.Errorf("unknown provider %q", vc.Provider))
	}
}
