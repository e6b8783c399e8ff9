package risk

import (
	"log/slog"
	"math"
	"sort"

	"github.com/jtonini/nomad/core/config"
	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

// Baseline holds the documented healthy value per feature, the reference
// that contributing-factor deviations are measured against. Features with
// no entry fall back to the neutral value.
type Baseline struct {
	Values map[string]float64
}

func (b Baseline) value(feature string) float64 {
	if v, ok := b.Values[feature]; ok {
		return v
	}
	return float64(domain.NeutralValue)
}

// Combiner produces the per-subject RiskRecord. It is deterministic: two
// runs on identical input yield byte-identical records.
type Combiner struct {
	cfg      config.RiskConfig
	baseline Baseline
	logger   *slog.Logger
}

func NewCombiner(cfg config.RiskConfig, baseline Baseline, logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{cfg: cfg, baseline: baseline, logger: logger}
}

// Combine computes risk = sum(w_m * s_m) / sum(w_m) over the available
// model scores. Unavailable models are simply absent from scores and bias
// nothing. Any alerting trend state raises the result to the configured
// floor: an imminent threshold breach is authoritative over model
// disagreement. With no models and no alerting trend there is nothing to
// combine, which is an explicit insufficient-data result.
func (c *Combiner) Combine(subjectID string, vec domain.FeatureVector, scores []domain.ModelScore, trends []domain.TrendForecast) (domain.RiskRecord, error) {
	record := domain.RiskRecord{SubjectID: subjectID}

	var weightedSum, weightTotal float64
	for _, s := range scores {
		if s.Weight <= 0 {
			continue
		}
		weightedSum += s.Weight * clamp01(s.Score)
		weightTotal += s.Weight
		record.Contributions = append(record.Contributions, domain.SignalContribution{
			Signal: s.Model,
			Score:  clamp01(s.Score),
			Weight: s.Weight,
		})
	}
	sort.Slice(record.Contributions, func(i, j int) bool {
		return record.Contributions[i].Signal < record.Contributions[j].Signal
	})

	alerting := false
	for _, t := range trends {
		if t.State == domain.TrendAlerting {
			alerting = true
			break
		}
	}

	switch {
	case weightTotal > 0:
		record.Score = weightedSum / weightTotal
	case alerting:
		record.Score = 0
	default:
		return domain.RiskRecord{}, nerrors.Newf(nerrors.ClassInsufficientData,
			"no model scores available and no alerting trend").WithSubject(subjectID)
	}

	if alerting && record.Score < c.cfg.AlertingFloor {
		record.Score = c.cfg.AlertingFloor
		record.Contributions = append(record.Contributions, domain.SignalContribution{
			Signal: "trend",
			Score:  1,
			Weight: c.cfg.TrendWeight,
		})
	}

	record.Factors = c.rankFactors(vec)

	c.logger.Debug("risk combined",
		slog.String("subject_id", subjectID),
		slog.Float64("score", record.Score),
		slog.Int("models", len(scores)),
		slog.Bool("trend_alerting", alerting))
	return record, nil
}

// rankFactors orders features by absolute deviation from the healthy
// baseline and keeps the top K. Ties break on vector position so the
// ranking is reproducible for identical input.
func (c *Combiner) rankFactors(vec domain.FeatureVector) []domain.Factor {
	if c.cfg.TopFactors == 0 || vec.Dim() == 0 {
		return nil
	}

	type ranked struct {
		factor domain.Factor
		pos    int
	}
	all := make([]ranked, 0, vec.Dim())
	for i, name := range vec.Names {
		value := float64(vec.Values[i])
		base := c.baseline.value(name)
		all = append(all, ranked{
			factor: domain.Factor{
				Feature:   name,
				Value:     value,
				Baseline:  base,
				Deviation: math.Abs(value - base),
			},
			pos: i,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].factor.Deviation != all[j].factor.Deviation {
			return all[i].factor.Deviation > all[j].factor.Deviation
		}
		return all[i].pos < all[j].pos
	})

	k := c.cfg.TopFactors
	if k > len(all) {
		k = len(all)
	}
	factors := make([]domain.Factor, k)
	for i := 0; i < k; i++ {
		factors[i] = all[i].factor
	}
	return factors
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
