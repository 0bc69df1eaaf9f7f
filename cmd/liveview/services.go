package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/markmastop/waedo-dohockey-live/internal/config"
	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/gateway"
	"github.com/markmastop/waedo-dohockey-live/internal/matches"
)

// Services holds the wired application components.
type Services struct {
	Pool    *pgxpool.Pool
	Gateway *gateway.Service
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up dependency injection chain:
	// Database pool -> repository -> follower/gateway layers.
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	repo := matches.NewRepository(pool)

	changeFeed, err := setupFeed(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.ResubscribeWait = cfg.Feed.ResubscribeWait

	gatewayService := gateway.NewService(
		gatewayCfg,
		repo,
		changeFeed,
		clockwork.NewRealClock(),
	)

	return &Services{
		Pool:    pool,
		Gateway: gatewayService,
	}, nil
}

func setupFeed(cfg *config.Config) (feed.Feed, error) {
	switch cfg.Feed.Driver {
	case config.FeedDriverPostgres:
		pgCfg := feed.DefaultPostgresConfig()
		pgCfg.DSN = cfg.Database.DSN()
		if cfg.Feed.Channel != "" {
			pgCfg.Channel = cfg.Feed.Channel
		}
		return feed.NewPostgresFeed(pgCfg), nil
	case config.FeedDriverNats:
		natsCfg := feed.DefaultNatsConfig()
		if cfg.Feed.Nats.URL != "" {
			natsCfg.URL = cfg.Feed.Nats.URL
		}
		if cfg.Feed.Nats.Stream != "" {
			natsCfg.StreamName = cfg.Feed.Nats.Stream
		}
		if cfg.Feed.Nats.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = cfg.Feed.Nats.SubjectPrefix
		}
		return feed.NewNatsFeed(natsCfg), nil
	default:
		return nil, fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
	}
}

// Close releases resources held by the services.
func (s *Services) Close() {
	s.Pool.Close()
}
