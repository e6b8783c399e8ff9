// Package features normalizes heterogeneous raw metrics into fixed-length,
// bounded feature vectors. Normalization rules are pure and deterministic:
// they scale against fixed reference ranges, never per-batch statistics, so
// vectors stay comparable across runs with different batch compositions.
package features

import (
	"fmt"

	"gopkg.in/yaml.v3"

	nerrors "github.com/jtonini/nomad/core/errors"
)

// RuleKind selects the normalization applied to one raw metric.
type RuleKind string

const (
	// RuleRatio treats the raw value as an already-unit ratio and clamps
	// it to [0,1].
	RuleRatio RuleKind = "ratio"

	// RuleMinMax scales (value - min) / (max - min) against a fixed
	// reference range, clamped to [0,1].
	RuleMinMax RuleKind = "minmax"
)

// FeatureSpec is one ordered component of the schema.
type FeatureSpec struct {
	Name string   `yaml:"name"`
	Rule RuleKind `yaml:"rule"`

	// Min and Max are the fixed reference range for RuleMinMax.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// Invert flips the normalized value (1 - x), for metrics where a
	// high raw value is healthy.
	Invert bool `yaml:"invert"`
}

// Schema is the immutable ordered feature definition shared by every
// subject compared in one run.
type Schema struct {
	specs []FeatureSpec
	index map[string]int
}

// NewSchema validates the specs and freezes them into a schema.
func NewSchema(specs []FeatureSpec) (*Schema, error) {
	if len(specs) == 0 {
		return nil, nerrors.New(nerrors.ClassSchemaMismatch, "feature schema has no components")
	}
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, nerrors.Newf(nerrors.ClassSchemaMismatch, "feature %d has empty name", i)
		}
		if _, dup := index[spec.Name]; dup {
			return nil, nerrors.Newf(nerrors.ClassSchemaMismatch, "duplicate feature name %q", spec.Name)
		}
		switch spec.Rule {
		case RuleRatio:
		case RuleMinMax:
			if spec.Max <= spec.Min {
				return nil, nerrors.Newf(nerrors.ClassSchemaMismatch,
					"feature %q: minmax range [%v, %v] is empty", spec.Name, spec.Min, spec.Max)
			}
		default:
			return nil, nerrors.Newf(nerrors.ClassSchemaMismatch,
				"feature %q: unknown rule %q", spec.Name, spec.Rule)
		}
		index[spec.Name] = i
	}
	frozen := make([]FeatureSpec, len(specs))
	copy(frozen, specs)
	return &Schema{specs: frozen, index: index}, nil
}

// ParseSchema reads a schema from a YAML document of the form:
//
//	features:
//	  - name: cpu_efficiency
//	    rule: ratio
//	  - name: runtime_hours
//	    rule: minmax
//	    min: 0
//	    max: 168
func ParseSchema(data []byte) (*Schema, error) {
	var doc struct {
		Features []FeatureSpec `yaml:"features"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nerrors.Wrap(nerrors.ClassSchemaMismatch, "parse feature schema", err)
	}
	return NewSchema(doc.Features)
}

// Dim returns the fixed dimensionality D every vector must have.
func (s *Schema) Dim() int { return len(s.specs) }

// Names returns the ordered component names.
func (s *Schema) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// Specs returns a copy of the ordered specs.
func (s *Schema) Specs() []FeatureSpec {
	out := make([]FeatureSpec, len(s.specs))
	copy(out, s.specs)
	return out
}

// normalize applies one spec's rule to a raw value.
func (spec FeatureSpec) normalize(raw float64) float32 {
	var x float64
	switch spec.Rule {
	case RuleMinMax:
		x = (raw - spec.Min) / (spec.Max - spec.Min)
	default:
		x = raw
	}
	x = clamp01(x)
	if spec.Invert {
		x = 1 - x
	}
	return float32(x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// DefaultJobSchema is the compute-job feature set: efficiency and pressure
// ratios plus reference-scaled runtime and queue wait.
func DefaultJobSchema() *Schema {
	schema, err := NewSchema([]FeatureSpec{
		{Name: "cpu_efficiency", Rule: RuleRatio},
		{Name: "memory_ratio", Rule: RuleRatio},
		{Name: "runtime_hours", Rule: RuleMinMax, Min: 0, Max: 168},
		{Name: "queue_wait_hours", Rule: RuleMinMax, Min: 0, Max: 48},
		{Name: "exit_class", Rule: RuleRatio},
		{Name: "io_wait_ratio", Rule: RuleRatio},
	})
	if err != nil {
		panic(fmt.Sprintf("default job schema invalid: %v", err))
	}
	return schema
}
