// Package config holds the tunable parameters of the analysis core.
// The core performs no file I/O; callers hand in raw YAML bytes (or build
// the struct directly) and every component receives its knobs explicitly.
package config

import (
	"fmt"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Similarity SimilarityConfig `yaml:"similarity"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Statistics StatisticsConfig `yaml:"statistics"`
	Trend      TrendConfig      `yaml:"trend"`
	Risk       RiskConfig       `yaml:"risk"`
}

type SimilarityConfig struct {
	// Threshold is tau: keep edge (a,b) iff cosine(a,b) >= tau.
	Threshold float64 `yaml:"threshold"`

	// MaxSubjects caps the pairwise comparison size. Exceeding it without
	// a candidate subset is a hard failure, never silent truncation.
	MaxSubjects int `yaml:"max_subjects"`

	// Workers shards the pairwise computation. Zero means NumCPU.
	Workers int `yaml:"workers"`
}

type ClusteringConfig struct {
	// RefineCommunities enables the greedy modularity pass over the
	// connected components.
	RefineCommunities bool `yaml:"refine_communities"`

	// MaxIterations bounds the modularity pass. The pass also terminates
	// on any iteration that fails to strictly improve modularity.
	MaxIterations int `yaml:"max_iterations"`
}

type StatisticsConfig struct {
	// Permutations is the label-shuffle count for the significance test.
	Permutations int `yaml:"permutations"`

	// Seed makes the permutation test reproducible. Zero derives a seed
	// from the clock, which forfeits run-to-run byte identity.
	Seed int64 `yaml:"seed"`

	// ZThreshold flags significance when |z| exceeds it.
	ZThreshold float64 `yaml:"z_threshold"`

	// Workers parallelizes permutation trials. Zero means NumCPU.
	Workers int `yaml:"workers"`
}

type TrendConfig struct {
	// Decay is the EWMA factor applied to each new instantaneous rate.
	Decay float64 `yaml:"decay"`

	// SafetyHorizon is the forecast lead time at or below which a series
	// transitions to alerting.
	SafetyHorizon time.Duration `yaml:"safety_horizon"`

	// NoiseFloor is the smoothed rate magnitude below which a series is
	// considered quiet, in value units per second.
	NoiseFloor float64 `yaml:"noise_floor"`

	// MaxSeries bounds the number of (subject, metric) trackers held in
	// memory at once. Least-recently-updated series are evicted.
	MaxSeries int `yaml:"max_series"`
}

type RiskConfig struct {
	// AlertingFloor is the minimum combined risk when any trend series
	// for the subject is in the alerting state.
	AlertingFloor float64 `yaml:"alerting_floor"`

	// TopFactors is how many contributing factors each record ranks.
	TopFactors int `yaml:"top_factors"`

	// TrendWeight is the ensemble weight given to the trend signal when
	// trend states are supplied alongside model scores.
	TrendWeight float64 `yaml:"trend_weight"`
}

// Default returns the documented defaults for every knob.
func Default() *Config {
	return &Config{
		Similarity: SimilarityConfig{
			Threshold:   0.7,
			MaxSubjects: 5000,
			Workers:     runtime.NumCPU(),
		},
		Clustering: ClusteringConfig{
			RefineCommunities: false,
			MaxIterations:     100,
		},
		Statistics: StatisticsConfig{
			Permutations: 1000,
			Seed:         0,
			ZThreshold:   2.0,
			Workers:      runtime.NumCPU(),
		},
		Trend: TrendConfig{
			Decay:         0.3,
			SafetyHorizon: 30 * time.Minute,
			NoiseFloor:    0,
			MaxSeries:     8192,
		},
		Risk: RiskConfig{
			AlertingFloor: 0.8,
			TopFactors:    3,
			TrendWeight:   1.0,
		},
	}
}

// Load overlays YAML onto the defaults. Absent keys keep their default
// values; present keys win.
func Load(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse analysis config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range knobs before any component sees them.
func (c *Config) Validate() error {
	if c.Similarity.Threshold <= -1 || c.Similarity.Threshold >= 1 {
		return fmt.Errorf("similarity threshold %v outside (-1, 1)", c.Similarity.Threshold)
	}
	if c.Similarity.MaxSubjects < 0 {
		return fmt.Errorf("similarity max_subjects %d negative", c.Similarity.MaxSubjects)
	}
	if c.Clustering.MaxIterations < 1 {
		return fmt.Errorf("clustering max_iterations %d < 1", c.Clustering.MaxIterations)
	}
	if c.Statistics.Permutations < 1 {
		return fmt.Errorf("statistics permutations %d < 1", c.Statistics.Permutations)
	}
	if c.Statistics.ZThreshold <= 0 {
		return fmt.Errorf("statistics z_threshold %v must be positive", c.Statistics.ZThreshold)
	}
	if c.Trend.Decay <= 0 || c.Trend.Decay > 1 {
		return fmt.Errorf("trend decay %v outside (0, 1]", c.Trend.Decay)
	}
	if c.Trend.SafetyHorizon < 0 {
		return fmt.Errorf("trend safety_horizon %v negative", c.Trend.SafetyHorizon)
	}
	if c.Trend.MaxSeries < 1 {
		return fmt.Errorf("trend max_series %d < 1", c.Trend.MaxSeries)
	}
	if c.Risk.AlertingFloor < 0 || c.Risk.AlertingFloor > 1 {
		return fmt.Errorf("risk alerting_floor %v outside [0, 1]", c.Risk.AlertingFloor)
	}
	if c.Risk.TopFactors < 0 {
		return fmt.Errorf("risk top_factors %d negative", c.Risk.TopFactors)
	}
	if c.Risk.TrendWeight < 0 {
		return fmt.Errorf("risk trend_weight %v negative", c.Risk.TrendWeight)
	}
	return nil
}
