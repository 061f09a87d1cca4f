package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitdata/harvest-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestEnsureSchema_CreatesTableAndIndexes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS applicants`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for range applicantsIndexes {
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountApplicants_NoFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applicants$`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.CountApplicants(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountApplicants_Filtered(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applicants WHERE term ILIKE \$1 AND status = \$2`).
		WithArgs("Fall 2026%", "accepted").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountApplicants(context.Background(), Filter{
		TermPrefix: "Fall 2026",
		Status:     model.StatusAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAverageScore_WhitelistsColumn(t *testing.T) {
	s, _ := newMockStore(t)

	_, err := s.AverageScore(context.Background(), "status; DROP TABLE applicants", Filter{})
	require.Error(t, err)
}

func TestAverageScore_Filtered(t *testing.T) {
	s, mock := newMockStore(t)

	want := 3.71
	mock.ExpectQuery(`SELECT AVG\("gpa"\) FROM applicants WHERE residency = \$1`).
		WithArgs("international").
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(&want))

	avg, err := s.AverageScore(context.Background(), "gpa", Filter{
		Residency: model.ResidencyInternational,
	})
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 3.71, *avg, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreAverages(t *testing.T) {
	s, mock := newMockStore(t)

	gpa, gre := 3.6, 321.4
	mock.ExpectQuery(`SELECT AVG\(gpa\), AVG\(gre\), AVG\(gre_verbal\), AVG\(gre_writing\) FROM applicants`).
		WillReturnRows(pgxmock.NewRows([]string{"gpa", "gre", "gre_verbal", "gre_writing"}).
			AddRow(&gpa, &gre, nil, nil))

	a, err := s.ScoreAverages(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a.GPA)
	assert.InDelta(t, 3.6, *a.GPA, 1e-9)
	assert.Nil(t, a.GREVerbal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildWhere_UniversityAlternatives(t *testing.T) {
	where, args := buildWhere(Filter{
		UniversityContains: []string{"Johns Hopkins", "JHU"},
	})
	assert.Equal(t, " WHERE ((university ILIKE $1 OR normalized_university ILIKE $1) OR (university ILIKE $2 OR normalized_university ILIKE $2))", where)
	assert.Equal(t, []any{"%Johns Hopkins%", "%JHU%"}, args)
}
