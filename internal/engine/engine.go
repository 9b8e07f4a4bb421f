package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"lrs/internal/config"
	"lrs/internal/domain"
	"lrs/internal/engine/auth"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Config *config.Config
	Log    *zap.SugaredLogger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.SugaredLogger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Auth:   auth.Service{},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.SugaredLogger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop().Sugar()
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return tx, nil
}

// notFound converts the storage sentinel into a typed NotFoundError.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Kind: kind, ID: id}
	}
	return err
}
