package netstats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/jtonini/nomad/core/config"
	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

// Engine runs the per-cycle network statistics pass.
type Engine struct {
	cfg    config.StatisticsConfig
	logger *slog.Logger
}

func NewEngine(cfg config.StatisticsConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Compute derives assortativity, mean clustering coefficient, and their
// permutation z-scores for the labeled graph. Insufficient data is an
// explicit not-computed result with a reason, never a crash and never a
// silent zero. Only cancellation surfaces as an error.
func (e *Engine) Compute(ctx context.Context, subjects []domain.Subject, edges []domain.SimilarityEdge) (domain.NetworkStatistics, error) {
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	g := buildGraph(ids, edges)

	// labels[i]: -1 unlabeled, 0 not adverse, 1 adverse.
	labels := make([]int8, len(g.ids))
	for i := range labels {
		labels[i] = -1
	}
	var adverse, good int
	for _, s := range subjects {
		idx, ok := g.index[s.ID]
		if !ok || !s.Outcome.Labeled() {
			continue
		}
		if s.Outcome == domain.OutcomeFailure {
			labels[idx] = 1
			adverse++
		} else {
			labels[idx] = 0
			good++
		}
	}

	stats := domain.NetworkStatistics{
		LabeledSubjects: adverse + good,
		AdverseSubjects: adverse,
		Edges:           len(g.edges),
		Permutations:    e.cfg.Permutations,
	}

	if reason := insufficiency(adverse, good, g, labels); reason != "" {
		stats.Reason = reason
		e.logger.Info("network statistics not computed",
			slog.String("reason", reason))
		return stats, nil
	}

	coeffs := g.clusteringCoefficients()
	defined := make([]float64, 0, len(coeffs))
	for _, c := range coeffs {
		if math.IsNaN(c) {
			stats.LowDegree++
			continue
		}
		defined = append(defined, c)
	}
	if len(defined) > 0 {
		stats.MeanClustering = stat.Mean(defined, nil)
	}

	observedAssort := g.assortativity(labels)
	observedAdverseCC := adverseMeanClustering(coeffs, labels)
	if math.IsNaN(observedAssort) {
		stats.Reason = "assortativity undefined: labeled edges carry a single outcome class"
		return stats, nil
	}
	stats.Assortativity = observedAssort

	null, err := e.permute(ctx, g, labels, coeffs)
	if err != nil {
		return domain.NetworkStatistics{}, err
	}

	assortStd := null.assort.stdDev()
	if null.assort.count < 2 || assortStd == 0 {
		stats.Reason = "degenerate null distribution: permuted assortativity has zero variance"
		return stats, nil
	}
	stats.AssortativityZ = (observedAssort - null.assort.mean) / assortStd

	if ccStd := null.adverseCC.stdDev(); ccStd > 0 && !math.IsNaN(observedAdverseCC) {
		stats.ClusteringZ = (observedAdverseCC - null.adverseCC.mean) / ccStd
	}

	stats.Defined = true
	stats.Significant = math.Abs(stats.AssortativityZ) > e.cfg.ZThreshold

	e.logger.Debug("network statistics computed",
		slog.Float64("assortativity", stats.Assortativity),
		slog.Float64("assortativity_z", stats.AssortativityZ),
		slog.Float64("mean_clustering", stats.MeanClustering),
		slog.Int("permutations", stats.Permutations),
		slog.Bool("significant", stats.Significant))
	return stats, nil
}

// insufficiency returns the operator-visible reason statistics cannot be
// computed, or empty when they can.
func insufficiency(adverse, good int, g *graph, labels []int8) string {
	if adverse < 2 || good < 2 {
		return fmt.Sprintf(
			"insufficient labeled subjects: need >=2 per class, got %d failed / %d succeeded",
			adverse, good)
	}
	labeledEdges := 0
	for _, edge := range g.edges {
		if labels[edge[0]] >= 0 && labels[edge[1]] >= 0 {
			labeledEdges++
		}
	}
	if labeledEdges < 2 {
		return fmt.Sprintf("insufficient edges: need >=2 between labeled subjects, got %d", labeledEdges)
	}
	return ""
}

// nullDistributions accumulates the permuted statistics.
type nullDistributions struct {
	assort    welford
	adverseCC welford
}

// permute runs the label-shuffle trials. Trials are assigned to workers by
// static striding and each trial derives its RNG from seed+trial, so the
// parallel and sequential paths produce identical statistics; worker
// partials merge in worker order to keep the accumulation deterministic.
// Cancellation is checked between trials.
func (e *Engine) permute(ctx context.Context, g *graph, labels []int8, coeffs []float64) (nullDistributions, error) {
	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	labeledIdx := make([]int, 0, len(labels))
	for i, l := range labels {
		if l >= 0 {
			labeledIdx = append(labeledIdx, i)
		}
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > e.cfg.Permutations {
		workers = e.cfg.Permutations
	}

	partials := make([]nullDistributions, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			shuffled := make([]int8, len(labels))

			for trial := w; trial < e.cfg.Permutations; trial += workers {
				select {
				case <-ctx.Done():
					errs[w] = nerrors.Wrap(nerrors.ClassCancelled,
						"permutation test cancelled", ctx.Err())
					return
				default:
				}

				copy(shuffled, labels)
				rng := rand.New(rand.NewSource(seed + int64(trial)))
				// Fisher-Yates over labeled positions only; the graph
				// structure and the unlabeled holes stay fixed.
				for i := len(labeledIdx) - 1; i > 0; i-- {
					j := rng.Intn(i + 1)
					a, b := labeledIdx[i], labeledIdx[j]
					shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
				}

				if r := g.assortativity(shuffled); !math.IsNaN(r) {
					partials[w].assort.add(r)
				}
				if cc := adverseMeanClustering(coeffs, shuffled); !math.IsNaN(cc) {
					partials[w].adverseCC.add(cc)
				}
			}
		}(w)
	}
	wg.Wait()

	var merged nullDistributions
	for w := 0; w < workers; w++ {
		if errs[w] != nil {
			return nullDistributions{}, errs[w]
		}
		merged.assort.merge(partials[w].assort)
		merged.adverseCC.merge(partials[w].adverseCC)
	}
	return merged, nil
}
