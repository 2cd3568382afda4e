package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

// OpenAuthz loads the configured model and opens the engine over the
// Postgres rule table. When redis is non-nil, commits are broadcast and
// commits from other processes mark the engine stale until ctx ends.
func OpenAuthz(ctx context.Context, cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, registerer prometheus.Registerer, logger *slog.Logger) (*authz.Engine, error) {
	model, err := authz.LoadModel(cfg.AuthzModelPath)
	if err != nil {
		return nil, err
	}
	var watcher *authz.Watcher
	if rdb != nil {
		watcher = authz.NewWatcher(rdb, cfg.AuthzWatchChannel, logger)
	}
	opts := authz.Options{
		Adapter:           authz.NewPGAdapter(pool),
		Namespace:         cfg.AuthzNamespace,
		Model:             model,
		PersistTimeout:    cfg.AuthzPersistTimeout,
		PlaceholderObject: cfg.AuthzPlaceholderObject,
		Registerer:        registerer,
		Logger:            logger,
	}
	if watcher != nil {
		opts.Notifier = watcher
	}
	engine, err := authz.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := watcher.Listen(ctx, cfg.AuthzNamespace, engine.Enforcer.MarkStale); err != nil {
		logger.Warn("authz watcher unavailable", slog.Any("error", err))
	}
	return engine, nil
}
