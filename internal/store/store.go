// Package store persists applicant rows in Postgres and answers the
// dashboard's aggregate questions.
package store

import (
	"context"

	"github.com/admitdata/harvest-cli/internal/model"
)

// Filter narrows applicant queries. Zero values mean "no constraint".
type Filter struct {
	// TermPrefix matches term with a case-insensitive prefix
	// ("Fall 2026" matches "Fall 2026" and "fall 2026 (deferred)").
	TermPrefix string
	Status     model.Status
	Residency  model.Residency
	// DegreePrefix matches degree with a case-insensitive prefix.
	DegreePrefix string
	// ProgramContains matches program or normalized_program.
	ProgramContains string
	// UniversityContains matches the raw university text or
	// normalized_university; any one of the values suffices.
	UniversityContains []string
}

// Averages holds AVG() over the numeric score columns, nil when no row
// has the value.
type Averages struct {
	GPA        *float64 `json:"gpa"`
	GRE        *float64 `json:"gre"`
	GREVerbal  *float64 `json:"gre_verbal"`
	GREWriting *float64 `json:"gre_writing"`
}

// Store defines the persistence interface for the loader and analytics.
type Store interface {
	// EnsureSchema creates the applicants table and its indexes if
	// absent. Safe to call on every run.
	EnsureSchema(ctx context.Context) error

	// UpsertApplicants merges rows keyed on source_id: new keys insert,
	// existing keys overwrite all non-key columns.
	UpsertApplicants(ctx context.Context, rows [][]any) (int64, error)

	// CountApplicants counts rows matching the filter.
	CountApplicants(ctx context.Context, f Filter) (int, error)

	// AverageScore averages one numeric column over matching rows.
	// Column must be one of gpa, gre, gre_verbal, gre_writing.
	AverageScore(ctx context.Context, column string, f Filter) (*float64, error)

	// ScoreAverages returns the overall averages of all four columns.
	ScoreAverages(ctx context.Context) (Averages, error)

	Close() error
}

// ApplicantColumns is the column order used by UpsertApplicants rows.
var ApplicantColumns = []string{
	"source_id",
	"program",
	"university",
	"comments",
	"date_added",
	"url",
	"status",
	"term",
	"residency",
	"gpa",
	"gre",
	"gre_verbal",
	"gre_writing",
	"degree",
	"normalized_program",
	"normalized_university",
}
