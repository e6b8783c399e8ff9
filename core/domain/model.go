// Package domain defines the shared data model for the analysis core.
// All types are plain structs with no framework dependencies so that
// callers can serialize them to any interchange format.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeLabel is the categorical outcome of a subject. In-flight subjects
// carry OutcomeUnknown and are excluded from label-dependent statistics.
type OutcomeLabel int

const (
	OutcomeUnknown OutcomeLabel = iota
	OutcomeSuccess
	OutcomeFailure
)

var outcomeNames = map[OutcomeLabel]string{
	OutcomeUnknown: "unknown",
	OutcomeSuccess: "success",
	OutcomeFailure: "failure",
}

func (l OutcomeLabel) String() string {
	if name, ok := outcomeNames[l]; ok {
		return name
	}
	return "unknown"
}

// Labeled reports whether the outcome is known.
func (l OutcomeLabel) Labeled() bool {
	return l == OutcomeSuccess || l == OutcomeFailure
}

// Subject is one measured unit of work: a job, session, or node-epoch.
// The core never persists subjects; it operates on snapshots passed in.
type Subject struct {
	ID        string
	Outcome   OutcomeLabel
	CreatedAt time.Time
}

// NewSubjectID mints an identifier for callers that do not have one,
// such as synthetic node-epoch subjects.
func NewSubjectID() string {
	return uuid.NewString()
}

// FeatureVector is a fixed-length, bounded numeric summary of one subject.
// Components are pre-scaled to [0,1]; missing source metrics are imputed to
// the neutral value and recorded in Imputed. Vectors are immutable once
// produced and recomputed fresh each analysis cycle.
type FeatureVector struct {
	Names  []string
	Values []float32

	// Imputed lists the feature names whose values were filled with the
	// neutral value because the source metric was absent. Downstream
	// consumers may discount vectors with many imputed fields.
	Imputed []string
}

// NeutralValue is the documented imputation value for missing metrics:
// "unknown/average" on a [0,1] scale.
const NeutralValue float32 = 0.5

// Dim returns the vector dimensionality.
func (v FeatureVector) Dim() int { return len(v.Values) }

// IsZero reports whether every component is zero. Zero vectors have
// undefined cosine similarity and must be isolated, not compared.
func (v FeatureVector) IsZero() bool {
	for _, x := range v.Values {
		if x != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (v FeatureVector) Clone() FeatureVector {
	out := FeatureVector{
		Names:  make([]string, len(v.Names)),
		Values: make([]float32, len(v.Values)),
	}
	copy(out.Names, v.Names)
	copy(out.Values, v.Values)
	if v.Imputed != nil {
		out.Imputed = make([]string, len(v.Imputed))
		copy(out.Imputed, v.Imputed)
	}
	return out
}

// SimilarityEdge connects two subjects whose feature vectors are alike
// beyond the configured threshold. Edges are undirected with no self-loops;
// A and B are stored in lexical order so edge sets compare deterministically.
type SimilarityEdge struct {
	A      string
	B      string
	Weight float64
}

// NewSimilarityEdge builds an edge with canonical endpoint ordering.
func NewSimilarityEdge(a, b string, weight float64) SimilarityEdge {
	if b < a {
		a, b = b, a
	}
	return SimilarityEdge{A: a, B: b, Weight: weight}
}

// Cluster is one connected component or community. Every subject belongs to
// exactly one cluster per run; singletons are allowed. Members are sorted.
type Cluster struct {
	ID      int
	Members []string
}

// Size returns the member count.
func (c Cluster) Size() int { return len(c.Members) }

// MetricSample is one (timestamp, value) observation of a named metric.
// Samples within one series are append-only and strictly increasing in time.
type MetricSample struct {
	Timestamp time.Time
	Value     float64
}

// NetworkStatistics is the per-run statistical evidence of failure
// clustering. When Defined is false the statistics could not be computed and
// Reason states why; numeric fields must then be ignored, never read as zero.
type NetworkStatistics struct {
	Defined bool
	Reason  string

	Assortativity  float64
	AssortativityZ float64

	// MeanClustering averages the per-node clustering coefficient over
	// nodes with degree >= 2 only (defined-only averaging). LowDegree
	// reports how many nodes were excluded by that rule.
	MeanClustering float64
	ClusteringZ    float64
	LowDegree      int

	Permutations int
	Significant  bool

	LabeledSubjects int
	AdverseSubjects int
	Edges           int
}

// TrendState is the detector state for one metric series.
type TrendState int

const (
	// TrendQuiet: rate at or below the noise floor, or too few samples.
	TrendQuiet TrendState = iota
	// TrendWatching: approaching the threshold, forecast beyond the horizon.
	TrendWatching
	// TrendAlerting: forecast within the safety horizon, or already crossed.
	TrendAlerting
)

var trendNames = map[TrendState]string{
	TrendQuiet:    "quiet",
	TrendWatching: "watching",
	TrendAlerting: "alerting",
}

func (s TrendState) String() string {
	if name, ok := trendNames[s]; ok {
		return name
	}
	return "quiet"
}

// Severity classifies the raw value against static warning/critical levels,
// independent of the predictive state machine.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "none",
	SeverityWarning:  "warning",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "none"
}

// TrendForecast is the per-series output of the trend detector.
type TrendForecast struct {
	SubjectID string
	Metric    string

	State    TrendState
	Severity Severity

	CurrentValue float64
	Threshold    float64

	// InstantRate is the finite difference of the two most recent samples,
	// per second. SmoothedRate is its exponentially-weighted average.
	InstantRate  float64
	SmoothedRate float64

	// LeadTime is the forecast duration until the threshold is crossed at
	// the current smoothed rate. Valid only when HasForecast is true.
	// Already-crossed values clamp to zero.
	HasForecast   bool
	LeadTime      time.Duration
	CrossingValue float64

	Reason string
}

// SignalContribution is the weighted share one input signal added to a
// combined risk score.
type SignalContribution struct {
	Signal string
	Score  float64
	Weight float64
}

// Factor is one ranked "why" behind a risk score: a feature whose value
// deviates from the healthy baseline.
type Factor struct {
	Feature   string
	Value     float64
	Baseline  float64
	Deviation float64
}

// ModelScore is one externally-computed model opinion for one subject.
// Absence of a ModelScore means "unavailable", which is distinct from a
// score of zero and is excluded from the ensemble entirely.
type ModelScore struct {
	Model  string
	Score  float64
	Weight float64
}

// RiskRecord is the combined, explainable failure-risk output for one
// subject in one analysis cycle. Records are recomputed every cycle and
// never merged across cycles; persistence is the caller's concern.
type RiskRecord struct {
	SubjectID     string
	Score         float64
	Contributions []SignalContribution
	Factors       []Factor
}
