package features

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := NewSchema([]FeatureSpec{
		{Name: "cpu_efficiency", Rule: RuleRatio},
		{Name: "runtime_hours", Rule: RuleMinMax, Min: 0, Max: 100},
		{Name: "free_ratio", Rule: RuleRatio, Invert: true},
	})
	require.NoError(t, err)
	return schema
}

func TestSchemaValidation(t *testing.T) {
	cases := []struct {
		name  string
		specs []FeatureSpec
	}{
		{"empty", nil},
		{"unnamed", []FeatureSpec{{Rule: RuleRatio}}},
		{"duplicate", []FeatureSpec{
			{Name: "a", Rule: RuleRatio},
			{Name: "a", Rule: RuleRatio},
		}},
		{"unknown rule", []FeatureSpec{{Name: "a", Rule: "zscore"}}},
		{"empty range", []FeatureSpec{{Name: "a", Rule: RuleMinMax, Min: 5, Max: 5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSchema(tc.specs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, nerrors.ErrSchemaMismatch))
		})
	}
}

func TestParseSchemaYAML(t *testing.T) {
	schema, err := ParseSchema([]byte(`
features:
  - name: cpu_efficiency
    rule: ratio
  - name: runtime_hours
    rule: minmax
    min: 0
    max: 168
`))
	require.NoError(t, err)
	assert.Equal(t, 2, schema.Dim())
	assert.Equal(t, []string{"cpu_efficiency", "runtime_hours"}, schema.Names())
}

func TestNormalizationRules(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)

	vec, err := v.Vectorize("job-1", map[string]float64{
		"cpu_efficiency": 0.42,
		"runtime_hours":  25,
		"free_ratio":     0.2,
	})
	require.NoError(t, err)
	require.Equal(t, 3, vec.Dim())

	assert.InDelta(t, 0.42, float64(vec.Values[0]), 1e-6)
	assert.InDelta(t, 0.25, float64(vec.Values[1]), 1e-6) // (25-0)/100
	assert.InDelta(t, 0.80, float64(vec.Values[2]), 1e-6) // inverted
	assert.Empty(t, vec.Imputed)
}

func TestNormalizationClamps(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)

	vec, err := v.Vectorize("job-1", map[string]float64{
		"cpu_efficiency": 1.7,
		"runtime_hours":  -12,
		"free_ratio":     2.0,
	})
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec.Values[0])
	assert.Equal(t, float32(0), vec.Values[1])
	assert.Equal(t, float32(0), vec.Values[2]) // clamp to 1, then invert
}

func TestMissingMetricsImputedWithSideChannel(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)

	vec, err := v.Vectorize("job-1", map[string]float64{"cpu_efficiency": 0.9})
	require.NoError(t, err)

	// Imputed components hold the documented neutral value, and the
	// side channel names them so consumers can discount the vector.
	assert.Equal(t, domain.NeutralValue, vec.Values[1])
	assert.Equal(t, domain.NeutralValue, vec.Values[2])
	assert.Equal(t, []string{"free_ratio", "runtime_hours"}, vec.Imputed)
	assert.Equal(t, 3, vec.Dim())
}

func TestNonFiniteValuesRejected(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)

	for name, value := range map[string]float64{
		"nan":      math.NaN(),
		"plus inf": math.Inf(1),
		"neg inf":  math.Inf(-1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Vectorize("job-1", map[string]float64{"cpu_efficiency": value})
			require.Error(t, err)
			assert.True(t, errors.Is(err, nerrors.ErrSchemaMismatch))
		})
	}
}

func TestUnknownFeatureNameFails(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)

	_, err := v.Vectorize("job-1", map[string]float64{"gpu_hours": 12})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nerrors.ErrSchemaMismatch))
}

func TestVectorizeAllIsolatesFailures(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)

	vectors, failures := v.VectorizeAll(map[string]map[string]float64{
		"job-ok":  {"cpu_efficiency": 0.5},
		"job-bad": {"not_a_feature": 1.0},
	})
	assert.Len(t, vectors, 1)
	assert.Contains(t, vectors, "job-ok")
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures["job-bad"], nerrors.ErrSchemaMismatch))
}

func TestVectorizeDeterministic(t *testing.T) {
	v := NewVectorizer(testSchema(t), nil)
	raw := map[string]float64{"cpu_efficiency": 0.3, "runtime_hours": 50}

	a, err := v.Vectorize("job-1", raw)
	require.NoError(t, err)
	b, err := v.Vectorize("job-1", raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDefaultJobSchema(t *testing.T) {
	schema := DefaultJobSchema()
	assert.Equal(t, 6, schema.Dim())
	assert.Contains(t, schema.Names(), "cpu_efficiency")
	assert.Contains(t, schema.Names(), "memory_ratio")
}
