package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements RunStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS run_log (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	district    TEXT NOT NULL DEFAULT '',
	origin      TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	row_count   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_run_log_stage ON run_log(stage);
CREATE INDEX IF NOT EXISTS idx_run_log_status ON run_log(status);
CREATE INDEX IF NOT EXISTS idx_run_log_started_at ON run_log(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Start(ctx context.Context, e RunEntry) (string, error) {
	id := uuid.New().String()
	started := e.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, stage, district, origin, category, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(e.Stage), e.District, e.Origin, e.Category, string(StatusRunning), started.UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run log entry")
	}
	return id, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, rows int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, row_count = ?, finished_at = ? WHERE id = ?`,
		string(StatusComplete), rows, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete entry %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(StatusFailed), msg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail entry %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) List(ctx context.Context, filter RunFilter) ([]RunEntry, error) {
	query := `SELECT id, stage, district, origin, category, status, row_count, error, started_at, finished_at FROM run_log WHERE 1=1`
	var args []any
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.District != "" {
		query += ` AND district = ?`
		args = append(args, filter.District)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run log")
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log entry")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate run log")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run log entry not found: %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*RunEntry, error) {
	var (
		e             RunEntry
		stage, status string
		finished      sql.NullTime
	)
	if err := row.Scan(&e.ID, &stage, &e.District, &e.Origin, &e.Category, &status, &e.Rows, &e.Error, &e.StartedAt, &finished); err != nil {
		return nil, err
	}
	e.Stage = Stage(stage)
	e.Status = Status(status)
	if finished.Valid {
		t := finished.Time
		e.FinishedAt = &t
	}
	return &e, nil
}
