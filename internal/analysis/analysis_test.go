package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/store"
)

type fakeStore struct {
	store.Store

	counts   map[string]int
	total    int
	avgs     store.Averages
	scoreErr error
}

func (f *fakeStore) CountApplicants(_ context.Context, flt store.Filter) (int, error) {
	switch {
	case len(flt.UniversityContains) > 0:
		return f.counts["other"], nil
	case flt.Residency == model.ResidencyInternational:
		return f.counts["international"], nil
	case flt.Status == model.StatusAccepted && flt.TermPrefix != "":
		return f.counts["accepted"], nil
	case flt.TermPrefix != "":
		return f.counts["term"], nil
	default:
		return f.total, nil
	}
}

func (f *fakeStore) AverageScore(_ context.Context, column string, _ store.Filter) (*float64, error) {
	if f.scoreErr != nil {
		return nil, f.scoreErr
	}
	v := 3.5
	if column == "gre" {
		v = 320
	}
	return &v, nil
}

func (f *fakeStore) ScoreAverages(_ context.Context) (store.Averages, error) {
	return f.avgs, nil
}

func TestRun_AnswersAllQuestions(t *testing.T) {
	gpa := 3.61
	fs := &fakeStore{
		total: 200,
		counts: map[string]int{
			"term":          80,
			"international": 50,
			"accepted":      20,
			"other":         7,
		},
		avgs: store.Averages{GPA: &gpa},
	}

	qas, err := New(fs, "Fall 2026").Run(context.Background())
	require.NoError(t, err)
	require.Len(t, qas, 9)

	byID := map[string]QA{}
	for _, qa := range qas {
		byID[qa.ID] = qa
	}

	assert.Equal(t, "80 applications", byID["q1"].Answer)
	assert.Equal(t, "25.00%", byID["q2"].Answer)
	assert.Contains(t, byID["q3"].Answer, "Average GPA: 3.61")
	assert.Contains(t, byID["q3"].Answer, "Average GRE(Q): N/A")
	assert.Equal(t, "25.00% (20 accepted out of 80)", byID["q5"].Answer)
	assert.Equal(t, "7 entries", byID["q7"].Answer)
	assert.Contains(t, byID["q9"].Answer, "PhD: 320.00")
}

func TestRun_EmptyTableAvoidsDivideByZero(t *testing.T) {
	fs := &fakeStore{counts: map[string]int{}}

	qas, err := New(fs, "Fall 2026").Run(context.Background())
	require.NoError(t, err)

	byID := map[string]QA{}
	for _, qa := range qas {
		byID[qa.ID] = qa
	}
	assert.Equal(t, "0%", byID["q2"].Answer)
	assert.Equal(t, "0% (0 accepted out of 0)", byID["q5"].Answer)
}

func TestRun_StoreErrorAborts(t *testing.T) {
	fs := &fakeStore{scoreErr: errors.New("connection refused")}

	_, err := New(fs, "Fall 2026").Run(context.Background())
	require.Error(t, err)
}
