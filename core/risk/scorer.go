// Package risk merges external model scores and trend signals into one
// explainable risk score per subject.
package risk

import "github.com/jtonini/nomad/core/domain"

// Scorer is the single capability the combiner needs from any predictive
// model: given a subject, produce a score in [0,1] or signal unavailable.
// The combiner neither knows nor cares which technique backs a score.
type Scorer interface {
	Name() string
	Weight() float64

	// Score returns (score, true) or (0, false) when the model has no
	// opinion for this subject, e.g. insufficient history. Unavailable is
	// distinct from a score of zero and is excluded from the ensemble.
	Score(subjectID string, vec domain.FeatureVector) (float64, bool)
}

// ScoreTable adapts a precomputed (subject -> score) map to the Scorer
// interface, the adapter used when model inference happens out of process.
type ScoreTable struct {
	ModelName   string
	ModelWeight float64
	Scores      map[string]float64
}

func (t *ScoreTable) Name() string    { return t.ModelName }
func (t *ScoreTable) Weight() float64 { return t.ModelWeight }

func (t *ScoreTable) Score(subjectID string, _ domain.FeatureVector) (float64, bool) {
	score, ok := t.Scores[subjectID]
	return score, ok
}

// Collect evaluates every scorer for one subject and keeps the available
// opinions as ModelScore records.
func Collect(subjectID string, vec domain.FeatureVector, scorers []Scorer) []domain.ModelScore {
	var out []domain.ModelScore
	for _, s := range scorers {
		if score, ok := s.Score(subjectID, vec); ok {
			out = append(out, domain.ModelScore{
				Model:  s.Name(),
				Score:  score,
				Weight: s.Weight(),
			})
		}
	}
	return out
}
