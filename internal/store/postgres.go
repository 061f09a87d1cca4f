package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/admitdata/harvest-cli/internal/config"
	"github.com/admitdata/harvest-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

const applicantsSchema = `
CREATE TABLE IF NOT EXISTS applicants (
	source_id             TEXT PRIMARY KEY,
	program               TEXT,
	university            TEXT,
	comments              TEXT,
	date_added            DATE,
	url                   TEXT,
	status                TEXT,
	term                  TEXT,
	residency             TEXT,
	gpa                   DOUBLE PRECISION,
	gre                   DOUBLE PRECISION,
	gre_verbal            DOUBLE PRECISION,
	gre_writing           DOUBLE PRECISION,
	degree                TEXT,
	normalized_program    TEXT,
	normalized_university TEXT
);
`

var applicantsIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_applicants_term ON applicants(term)`,
	`CREATE INDEX IF NOT EXISTS idx_applicants_status ON applicants(status)`,
	`CREATE INDEX IF NOT EXISTS idx_applicants_degree ON applicants(degree)`,
	`CREATE INDEX IF NOT EXISTS idx_applicants_norm_program ON applicants(normalized_program)`,
	`CREATE INDEX IF NOT EXISTS idx_applicants_norm_university ON applicants(normalized_university)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 2
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

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// EnsureSchema creates the applicants table and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, applicantsSchema); err != nil {
		return eris.Wrap(err, "postgres: create applicants table")
	}
	for _, idx := range applicantsIndexes {
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			return eris.Wrap(err, "postgres: create index")
		}
	}
	return nil
}

// UpsertApplicants merges rows keyed on source_id.
func (s *PostgresStore) UpsertApplicants(ctx context.Context, rows [][]any) (int64, error) {
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "applicants",
		Columns:      ApplicantColumns,
		ConflictKeys: []string{"source_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert applicants")
	}
	return n, nil
}

// CountApplicants counts rows matching the filter.
func (s *PostgresStore) CountApplicants(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applicants`+where, args...).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count applicants")
	}
	return n, nil
}

var scoreColumns = map[string]bool{
	"gpa":         true,
	"gre":         true,
	"gre_verbal":  true,
	"gre_writing": true,
}

// AverageScore averages one score column over matching rows.
func (s *PostgresStore) AverageScore(ctx context.Context, column string, f Filter) (*float64, error) {
	if !scoreColumns[column] {
		return nil, eris.Errorf("postgres: unknown score column %q", column)
	}
	where, args := buildWhere(f)
	var avg *float64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT AVG(%s) FROM applicants`, pgx.Identifier{column}.Sanitize())+where,
		args...,
	).Scan(&avg)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: average %s", column)
	}
	return avg, nil
}

// ScoreAverages returns overall averages of the four score columns.
func (s *PostgresStore) ScoreAverages(ctx context.Context) (Averages, error) {
	var a Averages
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(gpa), AVG(gre), AVG(gre_verbal), AVG(gre_writing) FROM applicants`,
	).Scan(&a.GPA, &a.GRE, &a.GREVerbal, &a.GREWriting)
	if err != nil {
		return Averages{}, eris.Wrap(err, "postgres: score averages")
	}
	return a, nil
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.TermPrefix != "" {
		add("term ILIKE $%d", f.TermPrefix+"%")
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Residency != "" {
		add("residency = $%d", string(f.Residency))
	}
	if f.DegreePrefix != "" {
		add("degree ILIKE $%d", f.DegreePrefix+"%")
	}
	if f.ProgramContains != "" {
		args = append(args, "%"+f.ProgramContains+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(program ILIKE $%d OR normalized_program ILIKE $%d)", n, n))
	}
	if len(f.UniversityContains) > 0 {
		var alts []string
		for _, u := range f.UniversityContains {
			args = append(args, "%"+u+"%")
			n := len(args)
			alts = append(alts, fmt.Sprintf("(university ILIKE $%d OR normalized_university ILIKE $%d)", n, n))
		}
		clauses = append(clauses, "("+strings.Join(alts, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
