package features

import (
	"log/slog"
	"math"
	"sort"

	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

// Vectorizer turns raw metric maps into schema-ordered feature vectors.
// It is stateless and safe for concurrent use.
type Vectorizer struct {
	schema *Schema
	logger *slog.Logger
}

// NewVectorizer builds a vectorizer over an immutable schema. A nil logger
// falls back to slog.Default.
func NewVectorizer(schema *Schema, logger *slog.Logger) *Vectorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vectorizer{schema: schema, logger: logger}
}

// Schema returns the schema the vectorizer was built with.
func (v *Vectorizer) Schema() *Schema { return v.schema }

// Vectorize produces exactly Dim() components for one subject. Missing
// source metrics are imputed to the neutral value and reported through the
// vector's Imputed set, never silently folded in. Raw keys that name no
// schema feature are a schema mismatch: the input cannot have been produced
// for this schema.
func (v *Vectorizer) Vectorize(subjectID string, raw map[string]float64) (domain.FeatureVector, error) {
	for name := range raw {
		if _, ok := v.schema.index[name]; !ok {
			return domain.FeatureVector{}, nerrors.Newf(nerrors.ClassSchemaMismatch,
				"unknown feature name %q", name).WithSubject(subjectID)
		}
	}

	vec := domain.FeatureVector{
		Names:  v.schema.Names(),
		Values: make([]float32, v.schema.Dim()),
	}
	for i, spec := range v.schema.specs {
		value, ok := raw[spec.Name]
		if !ok {
			vec.Values[i] = domain.NeutralValue
			vec.Imputed = append(vec.Imputed, spec.Name)
			continue
		}
		// NaN and Inf pass through clamping untouched and would poison
		// every similarity involving this vector.
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return domain.FeatureVector{}, nerrors.Newf(nerrors.ClassSchemaMismatch,
				"non-finite value %v for feature %q", value, spec.Name).WithSubject(subjectID)
		}
		vec.Values[i] = spec.normalize(value)
	}
	sort.Strings(vec.Imputed)

	if len(vec.Imputed) > 0 {
		v.logger.Debug("imputed missing features",
			slog.String("subject_id", subjectID),
			slog.Int("imputed", len(vec.Imputed)),
			slog.Int("dim", vec.Dim()))
	}
	return vec, nil
}

// VectorizeAll maps a batch of subjects, isolating per-subject failures:
// a malformed subject is recorded in the returned error map and skipped,
// never aborting the batch.
func (v *Vectorizer) VectorizeAll(raw map[string]map[string]float64) (map[string]domain.FeatureVector, map[string]error) {
	vectors := make(map[string]domain.FeatureVector, len(raw))
	failures := make(map[string]error)
	for subjectID, metrics := range raw {
		vec, err := v.Vectorize(subjectID, metrics)
		if err != nil {
			v.logger.Warn("subject skipped during vectorization",
				slog.String("subject_id", subjectID),
				slog.String("error", err.Error()))
			failures[subjectID] = err
			continue
		}
		vectors[subjectID] = vec
	}
	return vectors, failures
}
