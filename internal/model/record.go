// Package model defines the core types shared across the harvest pipeline.
package model

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// Status is the decision reported in a listing entry.
type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusWaitlisted Status = "waitlisted"
	StatusOther      Status = "other"
)

// ParseStatus maps free-text decision strings ("Accepted on 15 Mar",
// "Wait listed", ...) to a Status. Unknown text maps to StatusOther.
func ParseStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "accept"):
		return StatusAccepted
	case strings.HasPrefix(s, "reject"), strings.HasPrefix(s, "denied"):
		return StatusRejected
	case strings.HasPrefix(s, "wait"):
		return StatusWaitlisted
	default:
		return StatusOther
	}
}

// Residency distinguishes domestic from international applicants.
type Residency string

const (
	ResidencyDomestic      Residency = "domestic"
	ResidencyInternational Residency = "international"
	ResidencyUnspecified   Residency = "unspecified"
)

// ParseResidency maps the site's "American"/"International" labels to a
// Residency value.
func ParseResidency(raw string) Residency {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "international"):
		return ResidencyInternational
	case strings.HasPrefix(s, "american"), strings.HasPrefix(s, "domestic"), strings.HasPrefix(s, "us"):
		return ResidencyDomestic
	default:
		return ResidencyUnspecified
	}
}

// Record is one application result entry. Nullable fields are pointers so
// that partial extraction degrades to NULL in storage rather than zero
// values. DateAdded holds the raw scraped text; the loader parses it.
type Record struct {
	SourceID   string    `json:"source_id"`
	Program    *string   `json:"program,omitempty"`
	University *string   `json:"university,omitempty"`
	Status     Status    `json:"status"`
	Term       *string   `json:"term,omitempty"`
	DateAdded  string    `json:"date_added,omitempty"`
	Degree     *string   `json:"degree,omitempty"`
	GPA        *float64  `json:"gpa,omitempty"`
	GRE        *float64  `json:"gre,omitempty"`
	GREVerbal  *float64  `json:"gre_verbal,omitempty"`
	GREWriting *float64  `json:"gre_writing,omitempty"`
	Residency  Residency `json:"residency"`
	Comments   *string   `json:"comments,omitempty"`
	URL        string    `json:"url"`

	NormalizedProgram    *string `json:"normalized_program,omitempty"`
	NormalizedUniversity *string `json:"normalized_university,omitempty"`
}

var resultPathRe = regexp.MustCompile(`/result/(\d+)(?:/|$)`)

// SourceID derives the stable record identifier from a source URL. Listing
// URLs carry a numeric result path (/result/12345) which is used directly;
// anything else falls back to an FNV-64a digest of the trimmed URL. The
// derivation is pure: the same URL always yields the same ID.
func SourceID(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if m := resultPathRe.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	h := fnv.New64a()
	h.Write([]byte(u))
	return fmt.Sprintf("u%016x", h.Sum64())
}

// RunOutcome summarizes how an ingestion run ended.
type RunOutcome string

const (
	OutcomeSuccess RunOutcome = "success"
	OutcomePartial RunOutcome = "partial"
	OutcomeFailed  RunOutcome = "failed"
)

// Progress is the externally visible snapshot of a run in flight. All
// counters are cumulative for the current run.
type Progress struct {
	Stage           string `json:"stage"`
	PagesCompleted  int    `json:"pages_completed"`
	PagesFailed     int    `json:"pages_failed"`
	RecordsCaptured int    `json:"records_captured"`
	RecordsSkipped  int    `json:"records_skipped"`
	CacheHits       int    `json:"cache_hits"`
	ClassifyCalls   int    `json:"classify_calls"`
	ClassifyFailed  int    `json:"classify_failed"`
	RowsLoaded      int    `json:"rows_loaded"`
	LoadErrors      int    `json:"load_errors"`
}
