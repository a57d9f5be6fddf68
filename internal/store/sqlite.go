package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/policy-qa/internal/pipeline"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	documents  TEXT NOT NULL,
	decision   TEXT NOT NULL,
	parsed     TEXT NOT NULL,
	result     TEXT NOT NULL,
	warnings   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_analyses_decision ON analyses(decision);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, a *pipeline.Analysis) error {
	r, err := toRecord(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, query, documents, decision, parsed, result, warnings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET result = excluded.result, decision = excluded.decision, warnings = excluded.warnings`,
		r.ID, r.Query, string(r.Documents), r.Decision, string(r.Parsed), string(r.Result), string(r.Warnings), r.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save analysis %s", r.ID)
	}
	return checkRowsAffected(res, "analysis", r.ID)
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*pipeline.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, documents, decision, parsed, result, warnings, created_at FROM analyses WHERE id = ?`,
		id,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	return r.analysis()
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]pipeline.Analysis, error) {
	query := `SELECT id, query, documents, decision, parsed, result, warnings, created_at FROM analyses WHERE 1=1`
	var args []any

	if filter.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(filter.Decision))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	var out []pipeline.Analysis
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		a, err := r.analysis()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*record, error) {
	var r record
	var docs, parsed, result string
	var warnings sql.NullString
	if err := row.Scan(&r.ID, &r.Query, &docs, &r.Decision, &parsed, &result, &warnings, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Documents = []byte(docs)
	r.Parsed = []byte(parsed)
	r.Result = []byte(result)
	if warnings.Valid {
		r.Warnings = []byte(warnings.String)
	}
	return &r, nil
}

// checkRowsAffected returns an error if the result reports zero affected rows.
func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
