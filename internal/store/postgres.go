package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/pipeline"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertAnalysisSQL = `INSERT INTO analyses (id, query, documents, decision, parsed, result, warnings, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET result = EXCLUDED.result, decision = EXCLUDED.decision, warnings = EXCLUDED.warnings`
	getAnalysisSQL = `SELECT id, query, documents, decision, parsed, result, warnings, created_at FROM analyses WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_analysis": insertAnalysisSQL,
	"get_analysis":    getAnalysisSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	documents  JSONB NOT NULL,
	decision   TEXT NOT NULL,
	parsed     JSONB NOT NULL,
	result     JSONB NOT NULL,
	warnings   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_decision ON analyses(decision);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) SaveAnalysis(ctx context.Context, a *pipeline.Analysis) error {
	r, err := toRecord(a)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, insertAnalysisSQL,
		r.ID, r.Query, r.Documents, r.Decision, r.Parsed, r.Result, r.Warnings, r.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save analysis %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("analysis not saved: %s", r.ID)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*pipeline.Analysis, error) {
	var r record
	err := s.pool.QueryRow(ctx, getAnalysisSQL, id).Scan(
		&r.ID, &r.Query, &r.Documents, &r.Decision, &r.Parsed, &r.Result, &r.Warnings, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	return r.analysis()
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]pipeline.Analysis, error) {
	query := `SELECT id, query, documents, decision, parsed, result, warnings, created_at FROM analyses`
	args := []any{}
	if filter.Decision != "" {
		args = append(args, string(filter.Decision))
		query += ` WHERE decision = $1`
	}
	args = append(args, listLimit(filter), max(filter.Offset, 0))
	if filter.Decision != "" {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var out []pipeline.Analysis
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.ID, &r.Query, &r.Documents, &r.Decision, &r.Parsed, &r.Result, &r.Warnings, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		a, err := r.analysis()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}
