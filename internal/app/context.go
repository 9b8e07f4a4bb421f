package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"lrs/internal/config"
	"lrs/internal/db"
	"lrs/internal/engine"
	"lrs/internal/errors"
	"lrs/internal/logging"
	"lrs/internal/migrate"
)

// Store bundles an opened workspace: its database, migrated schema, loaded
// config and the engine built over them.
type Store struct {
	Engine engine.Engine
	Config *config.Config
	Log    *zap.SugaredLogger
	DB     *sql.DB
}

// Close releases the database and flushes the logger.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	_ = s.Log.Sync()
	return s.DB.Close()
}

// Open loads lrs.yml (defaults when absent), opens and migrates the
// workspace database and returns a ready engine.
func Open(ctx context.Context, workspace string) (*Store, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Logger: log})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return &Store{
		Engine: engine.New(conn, cfg, log),
		Config: cfg,
		Log:    log,
		DB:     conn,
	}, nil
}
