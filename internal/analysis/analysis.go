// Package analysis answers the dashboard questions over the applicants
// table.
package analysis

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/store"
)

// QA is one answered dashboard question.
type QA struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Analyzer computes the question set against a store.
type Analyzer struct {
	store store.Store
	// term scopes the per-term questions, e.g. "Fall 2026".
	term string
}

func New(st store.Store, term string) *Analyzer {
	return &Analyzer{store: st, term: term}
}

// Run answers every question. The first store error aborts the run;
// individual empty results render as N/A.
func (a *Analyzer) Run(ctx context.Context) ([]QA, error) {
	var out []QA

	total, err := a.store.CountApplicants(ctx, store.Filter{})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: total count")
	}

	termCount, err := a.store.CountApplicants(ctx, store.Filter{TermPrefix: a.term})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: term count")
	}
	out = append(out, QA{
		ID:       "q1",
		Question: fmt.Sprintf("How many total applications were submitted for the %s term?", a.term),
		Answer:   fmt.Sprintf("%d applications", termCount),
	})

	intl, err := a.store.CountApplicants(ctx, store.Filter{Residency: model.ResidencyInternational})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: international count")
	}
	out = append(out, QA{
		ID:       "q2",
		Question: "What percentage of all applicants are international?",
		Answer:   percent(intl, total),
	})

	avgs, err := a.store.ScoreAverages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: score averages")
	}
	out = append(out, QA{
		ID:       "q3",
		Question: "What are the average GPA and GRE scores across the entire dataset?",
		Answer: fmt.Sprintf("Average GPA: %s\nAverage GRE(Q): %s\nAverage GRE(V): %s\nAverage GRE(AW): %s",
			num(avgs.GPA), num(avgs.GRE), num(avgs.GREVerbal), num(avgs.GREWriting)),
	})

	domGPA, err := a.store.AverageScore(ctx, "gpa", store.Filter{
		TermPrefix: a.term,
		Residency:  model.ResidencyDomestic,
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: domestic gpa")
	}
	out = append(out, QA{
		ID:       "q4",
		Question: fmt.Sprintf("What is the average GPA of American students who applied for %s?", a.term),
		Answer:   num(domGPA),
	})

	accepted, err := a.store.CountApplicants(ctx, store.Filter{
		TermPrefix: a.term,
		Status:     model.StatusAccepted,
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: accepted count")
	}
	out = append(out, QA{
		ID:       "q5",
		Question: fmt.Sprintf("What is the overall acceptance rate for the %s term?", a.term),
		Answer:   fmt.Sprintf("%s (%d accepted out of %d)", percent(accepted, termCount), accepted, termCount),
	})

	accGPA, err := a.store.AverageScore(ctx, "gpa", store.Filter{
		TermPrefix: a.term,
		Status:     model.StatusAccepted,
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: accepted gpa")
	}
	out = append(out, QA{
		ID:       "q6",
		Question: fmt.Sprintf("What is the average GPA of students who were accepted for %s?", a.term),
		Answer:   num(accGPA),
	})

	jhuCS, err := a.store.CountApplicants(ctx, store.Filter{
		DegreePrefix:       "Master",
		ProgramContains:    "Computer Science",
		UniversityContains: []string{"Johns Hopkins", "JHU"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: jhu cs masters")
	}
	out = append(out, QA{
		ID:       "q7",
		Question: "How many CS Masters applicants applied to Johns Hopkins (JHU)?",
		Answer:   fmt.Sprintf("%d entries", jhuCS),
	})

	topPhD, err := a.store.CountApplicants(ctx, store.Filter{
		Status:          model.StatusAccepted,
		DegreePrefix:    "PhD",
		ProgramContains: "Computer Science",
		UniversityContains: []string{
			"Georgetown University",
			"Massachusetts Institute of Technology",
			"MIT",
			"Stanford University",
			"Carnegie Mellon University",
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: top school phd")
	}
	out = append(out, QA{
		ID:       "q8",
		Question: "How many CS PhD applicants were accepted to top schools?",
		Answer:   fmt.Sprintf("%d entries", topPhD),
	})

	phdGRE, err := a.store.AverageScore(ctx, "gre", store.Filter{DegreePrefix: "PhD"})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: phd gre")
	}
	mastersGRE, err := a.store.AverageScore(ctx, "gre", store.Filter{DegreePrefix: "Master"})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: masters gre")
	}
	out = append(out, QA{
		ID:       "q9",
		Question: "How does average GRE Quant compare between PhD and Masters applicants?",
		Answer:   fmt.Sprintf("PhD: %s\nMasters: %s", num(phdGRE), num(mastersGRE)),
	})

	return out, nil
}

func percent(part, whole int) string {
	if whole == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", 100*float64(part)/float64(whole))
}

func num(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}
