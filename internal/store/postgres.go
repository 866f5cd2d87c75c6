package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements RunStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS run_log (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	district    TEXT NOT NULL DEFAULT '',
	origin      TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	row_count   BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_run_log_stage ON run_log(stage);
CREATE INDEX IF NOT EXISTS idx_run_log_status ON run_log(status);
CREATE INDEX IF NOT EXISTS idx_run_log_started_at ON run_log(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Start(ctx context.Context, e RunEntry) (string, error) {
	id := uuid.New().String()
	started := e.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_log (id, stage, district, origin, category, status, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(e.Stage), e.District, e.Origin, e.Category, string(StatusRunning), started.UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert run log entry")
	}
	return id, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, rows int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, row_count = $2, finished_at = now() WHERE id = $3`,
		string(StatusComplete), rows, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run log entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, error = $2, finished_at = now() WHERE id = $3`,
		string(StatusFailed), msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run log entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter RunFilter) ([]RunEntry, error) {
	query := `SELECT id, stage, district, origin, category, status, row_count, error, started_at, finished_at FROM run_log WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.District != "" {
		query += fmt.Sprintf(` AND district = $%d`, argIdx)
		args = append(args, filter.District)
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run log")
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			e             RunEntry
			stage, status string
		)
		if err := rows.Scan(&e.ID, &stage, &e.District, &e.Origin, &e.Category, &status, &e.Rows, &e.Error, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log entry")
		}
		e.Stage = Stage(stage)
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate run log")
}
