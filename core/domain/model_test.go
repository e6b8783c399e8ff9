package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubjectIDMintsUniqueUUIDs(t *testing.T) {
	a := NewSubjectID()
	b := NewSubjectID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
	_, err = uuid.Parse(b)
	require.NoError(t, err)
}

func TestOutcomeLabeled(t *testing.T) {
	assert.False(t, OutcomeUnknown.Labeled())
	assert.True(t, OutcomeSuccess.Labeled())
	assert.True(t, OutcomeFailure.Labeled())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "unknown", OutcomeLabel(42).String())
}

func TestSimilarityEdgeCanonicalOrdering(t *testing.T) {
	forward := NewSimilarityEdge("a", "b", 0.9)
	backward := NewSimilarityEdge("b", "a", 0.9)

	assert.Equal(t, forward, backward)
	assert.Equal(t, "a", forward.A)
	assert.Equal(t, "b", forward.B)
}

func TestFeatureVectorIsZero(t *testing.T) {
	assert.True(t, FeatureVector{Values: []float32{0, 0, 0}}.IsZero())
	assert.False(t, FeatureVector{Values: []float32{0, 0.1, 0}}.IsZero())
	assert.True(t, FeatureVector{}.IsZero())
}

func TestFeatureVectorCloneIsDeep(t *testing.T) {
	orig := FeatureVector{
		Names:   []string{"a", "b"},
		Values:  []float32{0.1, 0.2},
		Imputed: []string{"b"},
	}
	clone := orig.Clone()
	require.Equal(t, orig, clone)

	clone.Values[0] = 0.9
	clone.Imputed[0] = "a"
	assert.Equal(t, float32(0.1), orig.Values[0])
	assert.Equal(t, "b", orig.Imputed[0])
}
