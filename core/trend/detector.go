// Package trend detects accelerating metric streams before they cross fixed
// thresholds. The signal of concern is the rate of approach, not only the
// instantaneous value: each series advances a quiet/watching/alerting state
// machine driven by an exponentially-weighted rate estimate.
package trend

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jtonini/nomad/core/config"
	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

// Thresholds configures one monitored series. Limit is the value whose
// predicted crossing drives the state machine. Warning and Critical are the
// static severity levels recovered from the raw value; zero disables them.
type Thresholds struct {
	Limit    float64
	Warning  float64
	Critical float64
}

// maxLeadSeconds is the largest lead time representable as a time.Duration.
const maxLeadSeconds = float64(math.MaxInt64 / int64(time.Second))

type seriesKey struct {
	SubjectID string
	Metric    string
}

// tracker is the per-series sequential state: the previous sample and the
// smoothed rate. Series are independent; the registry lock only guards the
// map, each series is advanced one sample at a time.
type tracker struct {
	last         domain.MetricSample
	hasLast      bool
	smoothedRate float64
	hasRate      bool
	forecast     domain.TrendForecast
}

// Detector tracks every observed (subject, metric) series in a bounded LRU
// registry: least-recently-updated series are evicted so unbounded series
// cardinality cannot exhaust memory.
type Detector struct {
	cfg      config.TrendConfig
	logger   *slog.Logger
	mu       sync.Mutex
	trackers *lru.Cache[seriesKey, *tracker]
}

func NewDetector(cfg config.TrendConfig, logger *slog.Logger) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{cfg: cfg, logger: logger}
	cache, err := lru.NewWithEvict(cfg.MaxSeries, func(key seriesKey, _ *tracker) {
		logger.Debug("trend series evicted",
			slog.String("subject_id", key.SubjectID),
			slog.String("metric", key.Metric))
	})
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ClassInternal, "create trend registry", err)
	}
	d.trackers = cache
	return d, nil
}

// Observe advances one series with a new sample and returns the resulting
// forecast. Samples must arrive in strictly increasing timestamp order
// within a series; an out-of-order sample is rejected without mutating the
// tracker.
func (d *Detector) Observe(subjectID, metric string, sample domain.MetricSample, th Thresholds) (domain.TrendForecast, error) {
	key := seriesKey{SubjectID: subjectID, Metric: metric}

	d.mu.Lock()
	defer d.mu.Unlock()

	tr, ok := d.trackers.Get(key)
	if !ok {
		tr = &tracker{}
		d.trackers.Add(key, tr)
	}

	if tr.hasLast && !sample.Timestamp.After(tr.last.Timestamp) {
		return domain.TrendForecast{}, nerrors.Newf(nerrors.ClassSchemaMismatch,
			"out-of-order sample for metric %q: %s not after %s",
			metric, sample.Timestamp.Format(time.RFC3339Nano),
			tr.last.Timestamp.Format(time.RFC3339Nano)).WithSubject(subjectID)
	}

	forecast := domain.TrendForecast{
		SubjectID:    subjectID,
		Metric:       metric,
		CurrentValue: sample.Value,
		Threshold:    th.Limit,
		State:        domain.TrendQuiet,
		Severity:     severity(sample.Value, th),
	}

	if tr.hasLast {
		dt := sample.Timestamp.Sub(tr.last.Timestamp).Seconds()
		forecast.InstantRate = (sample.Value - tr.last.Value) / dt
		if tr.hasRate {
			tr.smoothedRate = d.cfg.Decay*forecast.InstantRate + (1-d.cfg.Decay)*tr.smoothedRate
		} else {
			tr.smoothedRate = forecast.InstantRate
			tr.hasRate = true
		}
		forecast.SmoothedRate = tr.smoothedRate
		d.classify(&forecast, th)
	}

	tr.last = sample
	tr.hasLast = true
	tr.forecast = forecast

	if forecast.State == domain.TrendAlerting {
		d.logger.Info("trend alerting",
			slog.String("subject_id", subjectID),
			slog.String("metric", metric),
			slog.Float64("value", forecast.CurrentValue),
			slog.Float64("smoothed_rate", forecast.SmoothedRate),
			slog.Duration("lead_time", forecast.LeadTime))
	}
	return forecast, nil
}

// ObserveSeries replays an ordered sample sequence and returns the final
// forecast, the common path when the collection layer hands over a batch.
func (d *Detector) ObserveSeries(subjectID, metric string, samples []domain.MetricSample, th Thresholds) (domain.TrendForecast, error) {
	if len(samples) == 0 {
		return domain.TrendForecast{}, nerrors.Newf(nerrors.ClassInsufficientData,
			"empty series for metric %q", metric).WithSubject(subjectID)
	}
	var last domain.TrendForecast
	var err error
	for _, s := range samples {
		last, err = d.Observe(subjectID, metric, s, th)
		if err != nil {
			return domain.TrendForecast{}, err
		}
	}
	return last, nil
}

// classify applies the state machine to a series that has at least two
// samples and therefore a smoothed rate.
func (d *Detector) classify(forecast *domain.TrendForecast, th Thresholds) {
	// No predictive threshold configured: rates are still estimated but
	// there is nothing to forecast against.
	if th.Limit == 0 {
		forecast.State = domain.TrendQuiet
		return
	}

	// Already past the threshold: lead time clamps to zero, immediate
	// alerting regardless of rate.
	if forecast.CurrentValue >= th.Limit {
		forecast.State = domain.TrendAlerting
		forecast.HasForecast = true
		forecast.LeadTime = 0
		forecast.CrossingValue = th.Limit
		forecast.Reason = fmt.Sprintf("%s at %.4g, already past threshold %.4g",
			forecast.Metric, forecast.CurrentValue, th.Limit)
		return
	}

	// Not approaching: flat or receding series stay quiet.
	if forecast.SmoothedRate <= d.cfg.NoiseFloor || forecast.SmoothedRate <= 0 {
		forecast.State = domain.TrendQuiet
		return
	}

	leadSeconds := (th.Limit - forecast.CurrentValue) / forecast.SmoothedRate
	// A near-zero rate forecasts a crossing beyond time.Duration's int64
	// range; converting would wrap negative and read as inside the horizon.
	// The series is approaching but has no finite forecast: watching.
	if leadSeconds > maxLeadSeconds {
		forecast.State = domain.TrendWatching
		return
	}
	forecast.HasForecast = true
	forecast.LeadTime = time.Duration(leadSeconds * float64(time.Second))
	forecast.CrossingValue = th.Limit

	if forecast.LeadTime <= d.cfg.SafetyHorizon {
		forecast.State = domain.TrendAlerting
		forecast.Reason = fmt.Sprintf("%s at %.4g rising %.4g/s, threshold %.4g in %s",
			forecast.Metric, forecast.CurrentValue, forecast.SmoothedRate, th.Limit,
			forecast.LeadTime.Round(time.Second))
	} else {
		forecast.State = domain.TrendWatching
	}
}

// severity grades the raw value against the static warning/critical levels.
// Critical wins over warning; zero levels are disabled.
func severity(value float64, th Thresholds) domain.Severity {
	if th.Critical != 0 && value >= th.Critical {
		return domain.SeverityCritical
	}
	if th.Warning != 0 && value >= th.Warning {
		return domain.SeverityWarning
	}
	return domain.SeverityNone
}

// Snapshot returns the latest forecast for every tracked series of one
// subject, the combiner's view of current trend states.
func (d *Detector) Snapshot(subjectID string) []domain.TrendForecast {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.TrendForecast
	for _, key := range d.trackers.Keys() {
		if key.SubjectID != subjectID {
			continue
		}
		if tr, ok := d.trackers.Peek(key); ok && tr.hasLast {
			out = append(out, tr.forecast)
		}
	}
	return out
}

// Reset drops all tracked series, used between unrelated analysis runs.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trackers.Purge()
}
