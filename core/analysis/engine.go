// Package analysis orchestrates one stateless analysis cycle over a bounded
// snapshot of subjects: vectorize, build the similarity graph, cluster,
// derive network statistics, advance trends, and combine risk. Cycles share
// no mutable state, so concurrent cycles over different snapshots are safe.
package analysis

import (
	"context"
	"log/slog"
	"sort"

	"github.com/jtonini/nomad/core/cluster"
	"github.com/jtonini/nomad/core/config"
	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
	"github.com/jtonini/nomad/core/features"
	"github.com/jtonini/nomad/core/netstats"
	"github.com/jtonini/nomad/core/risk"
	"github.com/jtonini/nomad/core/simgraph"
	"github.com/jtonini/nomad/core/trend"
)

// Snapshot is the immutable input to one cycle, supplied synchronously in
// memory by the collection layer. The core issues no I/O of its own.
type Snapshot struct {
	Subjects []domain.Subject

	// Metrics holds the raw feature-source values per subject, keyed by
	// feature name. Absent features are imputed by the vectorizer.
	Metrics map[string]map[string]float64

	// Series holds ordered metric samples per subject and metric name,
	// consumed by the trend detector.
	Series map[string]map[string][]domain.MetricSample

	// SeriesThresholds configures the trend detector per metric name.
	SeriesThresholds map[string]trend.Thresholds

	// Candidates optionally restricts pairwise similarity to a subset,
	// the required escape hatch for batches beyond the comparison cap.
	Candidates []string
}

// Report is the full cycle output handed to alerting and dashboard
// collaborators: plain structured records, deterministically ordered.
type Report struct {
	Vectors    map[string]domain.FeatureVector
	Edges      []domain.SimilarityEdge
	Clusters   []domain.Cluster
	Statistics domain.NetworkStatistics
	Forecasts  []domain.TrendForecast
	Risks      []domain.RiskRecord

	// SubjectErrors records per-subject failures that were skipped
	// without aborting the batch.
	SubjectErrors map[string]error

	// Degenerate lists zero-norm subjects reported as isolated
	// singletons.
	Degenerate []string
}

// Engine wires the components of one analysis pipeline.
type Engine struct {
	cfg      *config.Config
	vec      *features.Vectorizer
	builder  *simgraph.Builder
	detector *cluster.Detector
	stats    *netstats.Engine
	trends   *trend.Detector
	combiner *risk.Combiner
	scorers  []risk.Scorer
	logger   *slog.Logger
}

// NewEngine assembles an engine. Scorers are the external model adapters;
// they may be empty, in which case risk records exist only for subjects
// with an alerting trend.
func NewEngine(cfg *config.Config, schema *features.Schema, scorers []risk.Scorer, baseline risk.Baseline, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nerrors.Wrap(nerrors.ClassInternal, "invalid analysis config", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	trends, err := trend.NewDetector(cfg.Trend, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		vec:      features.NewVectorizer(schema, logger),
		builder:  simgraph.NewBuilder(cfg.Similarity, logger),
		detector: cluster.NewDetector(cfg.Clustering, logger),
		stats:    netstats.NewEngine(cfg.Statistics, logger),
		trends:   trends,
		combiner: risk.NewCombiner(cfg.Risk, baseline, logger),
		scorers:  scorers,
		logger:   logger,
	}, nil
}

// Trends exposes the detector so long-lived callers can stream samples
// between cycles instead of replaying whole series each snapshot.
func (e *Engine) Trends() *trend.Detector { return e.trends }

// RunCycle executes one full pass. Per-subject failures are isolated in
// Report.SubjectErrors; only run-level failures (empty snapshot,
// cancellation, oversize batch) return an error.
func (e *Engine) RunCycle(ctx context.Context, snap Snapshot) (*Report, error) {
	if len(snap.Subjects) == 0 {
		return nil, nerrors.New(nerrors.ClassInsufficientData, "snapshot contains no subjects")
	}

	report := &Report{SubjectErrors: make(map[string]error)}

	// Vectorize. Malformed subjects are recorded and skipped.
	report.Vectors = make(map[string]domain.FeatureVector, len(snap.Subjects))
	for _, s := range sortedSubjects(snap.Subjects) {
		if err := ctx.Err(); err != nil {
			return nil, nerrors.Wrap(nerrors.ClassCancelled, "cycle cancelled during vectorization", err)
		}
		vec, err := e.vec.Vectorize(s.ID, snap.Metrics[s.ID])
		if err != nil {
			e.logger.Warn("subject excluded from cycle",
				slog.String("subject_id", s.ID),
				slog.String("error", err.Error()))
			report.SubjectErrors[s.ID] = err
			continue
		}
		report.Vectors[s.ID] = vec
	}

	// Similarity graph over the surviving subjects.
	inputs := make([]simgraph.Input, 0, len(report.Vectors))
	for id, vec := range report.Vectors {
		inputs = append(inputs, simgraph.Input{ID: id, Vector: vec})
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].ID < inputs[j].ID })

	var graph *simgraph.Result
	var err error
	if len(snap.Candidates) > 0 {
		graph, err = e.builder.BuildCandidates(ctx, inputs, snap.Candidates)
	} else {
		graph, err = e.builder.Build(ctx, inputs)
	}
	if err != nil {
		return nil, err
	}
	report.Edges = graph.Edges
	report.Degenerate = graph.Degenerate
	for id, serr := range graph.Skipped {
		report.SubjectErrors[id] = serr
	}

	// Cluster every surviving subject, degenerate singletons included.
	clusterIDs := make([]string, 0, len(report.Vectors))
	for id := range report.Vectors {
		if _, skipped := graph.Skipped[id]; skipped {
			continue
		}
		clusterIDs = append(clusterIDs, id)
	}
	report.Clusters = e.detector.Detect(clusterIDs, report.Edges)

	// Network statistics over the labeled graph.
	statSubjects := make([]domain.Subject, 0, len(snap.Subjects))
	for _, s := range snap.Subjects {
		if _, skipped := report.SubjectErrors[s.ID]; skipped {
			continue
		}
		statSubjects = append(statSubjects, s)
	}
	report.Statistics, err = e.stats.Compute(ctx, statSubjects, report.Edges)
	if err != nil {
		return nil, err
	}

	// Trend pass: replay each series in deterministic order.
	forecastsBySubject := make(map[string][]domain.TrendForecast)
	for _, subjectID := range sortedKeys(snap.Series) {
		for _, metric := range sortedKeys(snap.Series[subjectID]) {
			if err := ctx.Err(); err != nil {
				return nil, nerrors.Wrap(nerrors.ClassCancelled, "cycle cancelled during trend pass", err)
			}
			forecast, terr := e.trends.ObserveSeries(subjectID, metric,
				snap.Series[subjectID][metric], snap.SeriesThresholds[metric])
			if terr != nil {
				if nerrors.ShouldSkipSubject(terr) {
					report.SubjectErrors[subjectID] = terr
					continue
				}
				e.logger.Debug("trend series not computed",
					slog.String("subject_id", subjectID),
					slog.String("metric", metric),
					slog.String("reason", terr.Error()))
				continue
			}
			report.Forecasts = append(report.Forecasts, forecast)
			forecastsBySubject[subjectID] = append(forecastsBySubject[subjectID], forecast)
		}
	}

	// Risk pass over every vectorized subject.
	for _, id := range sortedKeys(report.Vectors) {
		if _, skipped := report.SubjectErrors[id]; skipped {
			continue
		}
		scores := risk.Collect(id, report.Vectors[id], e.scorers)
		record, rerr := e.combiner.Combine(id, report.Vectors[id], scores, forecastsBySubject[id])
		if rerr != nil {
			// No models and no alerting trend: nothing to combine for
			// this subject this cycle. Not a batch failure.
			e.logger.Debug("no risk record",
				slog.String("subject_id", id),
				slog.String("reason", rerr.Error()))
			continue
		}
		report.Risks = append(report.Risks, record)
	}

	e.logger.Info("analysis cycle complete",
		slog.Int("subjects", len(snap.Subjects)),
		slog.Int("edges", len(report.Edges)),
		slog.Int("clusters", len(report.Clusters)),
		slog.Int("risk_records", len(report.Risks)),
		slog.Int("skipped", len(report.SubjectErrors)),
		slog.Bool("stats_defined", report.Statistics.Defined))
	return report, nil
}

func sortedSubjects(subjects []domain.Subject) []domain.Subject {
	out := make([]domain.Subject, len(subjects))
	copy(out, subjects)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
