package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/task"
)

// DB is the subset of pgxpool.Pool the store depends on.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a PostgreSQL implementation of task.Repository.
type Store struct {
	db     DB
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ task.Repository = (*Store)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// New creates a Store with a pgx connection pool.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, pool: pool, logger: logger}, nil
}

// NewWithDB wraps an existing connection, such as a transaction or a mock.
func NewWithDB(db DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func notFoundWrap(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || pgxscan.NotFound(err) {
		return task.NotFoundError(kind, id)
	}
	return task.RepositoryError(kind+" "+id, err)
}
