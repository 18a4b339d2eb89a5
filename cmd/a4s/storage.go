package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	channelstore "github.com/lunarr-ai/a4s/internal/channel/store"
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/db"
	"github.com/lunarr-ai/a4s/internal/db/dialect"
	"github.com/lunarr-ai/a4s/internal/embeddings"
	"github.com/lunarr-ai/a4s/internal/skills"
)

// provideStores opens the channel and skill stores. A configured
// database.host selects PostgreSQL with both stores sharing one pool;
// otherwise each store runs on its own SQLite file.
func provideStores(
	ctx context.Context,
	cfg *config.Config,
	embedder embeddings.Embedder,
	log *logger.Logger,
) (*channelstore.SQLStore, *skills.SQLStore, func() error, error) {
	if cfg.Database.Host != "" {
		conn, err := db.OpenPostgres(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlxDB := sqlx.NewDb(conn, dialect.PGX)
		pool := db.NewPool(sqlxDB, sqlxDB)

		channels, err := channelstore.New(pool)
		if err != nil {
			_ = pool.Close()
			return nil, nil, nil, err
		}
		skillStore, err := skills.New(pool, embedder, log)
		if err != nil {
			_ = pool.Close()
			return nil, nil, nil, err
		}

		log.Info("Stores initialized on PostgreSQL",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName))
		return channels, skillStore, pool.Close, nil
	}

	channels, err := channelstore.Open(cfg.Channels.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	skillStore, err := skills.Open(cfg.Skills.DBPath, embedder, log)
	if err != nil {
		_ = channels.Close()
		return nil, nil, nil, err
	}

	cleanup := func() error {
		sErr := skillStore.Close()
		if cErr := channels.Close(); cErr != nil {
			return cErr
		}
		return sErr
	}
	log.Info("Stores initialized on SQLite",
		zap.String("channels_db", cfg.Channels.DBPath),
		zap.String("skills_db", cfg.Skills.DBPath))
	return channels, skillStore, cleanup, nil
}
