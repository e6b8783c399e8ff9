package simgraph

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/jtonini/nomad/core/config"
	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

// Result is the edge set plus everything excluded from comparison.
type Result struct {
	Edges []domain.SimilarityEdge

	// Degenerate lists zero-norm subjects. They join no edges and must be
	// reported downstream as isolated singleton clusters.
	Degenerate []string

	// Skipped records per-subject schema mismatches. The batch survives;
	// these subjects are simply absent from the graph.
	Skipped map[string]error

	Compared int
}

// Builder computes cosine similarity for every unordered pair above the
// threshold. Pairwise comparison is pure and symmetric, so outer rows are
// sharded across workers and merged by edge-set union with no ordering
// requirement.
type Builder struct {
	cfg    config.SimilarityConfig
	logger *slog.Logger
}

func NewBuilder(cfg config.SimilarityConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build computes the thresholded edge set over all subjects. Exceeding the
// comparison cap is a hard failure: the caller must restrict to a candidate
// subset via BuildCandidates rather than accept silent truncation.
func (b *Builder) Build(ctx context.Context, subjects []Input) (*Result, error) {
	if b.cfg.MaxSubjects > 0 && len(subjects) > b.cfg.MaxSubjects {
		return nil, nerrors.Newf(nerrors.ClassInternal,
			"%d subjects exceed comparison cap %d: restrict to a candidate subset",
			len(subjects), b.cfg.MaxSubjects)
	}
	return b.build(ctx, subjects)
}

// BuildCandidates restricts pairwise comparison to the named candidate
// subset, the supported escape hatch when a full batch would make the
// O(N^2 D) comparison intractable. Candidates not present in subjects are
// ignored.
func (b *Builder) BuildCandidates(ctx context.Context, subjects []Input, candidateIDs []string) (*Result, error) {
	allowed := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		allowed[id] = struct{}{}
	}
	var subset []Input
	for _, s := range subjects {
		if _, ok := allowed[s.ID]; ok {
			subset = append(subset, s)
		}
	}
	return b.Build(ctx, subset)
}

func (b *Builder) build(ctx context.Context, subjects []Input) (*Result, error) {
	outcome := newVectorIndex(subjects)
	result := &Result{
		Degenerate: outcome.degenerate,
		Skipped:    outcome.skipped,
	}
	for id, err := range outcome.skipped {
		b.logger.Warn("subject skipped during similarity",
			slog.String("subject_id", id),
			slog.String("error", err.Error()))
	}

	idx := outcome.index
	if idx == nil || idx.n < 2 {
		sortEdges(result.Edges)
		return result, nil
	}
	result.Compared = idx.n

	workers := b.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > idx.n {
		workers = idx.n
	}

	edges, err := b.compareRows(ctx, idx, workers)
	if err != nil {
		return nil, err
	}
	result.Edges = edges
	sortEdges(result.Edges)

	b.logger.Debug("similarity graph built",
		slog.Int("subjects", idx.n),
		slog.Int("edges", len(result.Edges)),
		slog.Int("degenerate", len(result.Degenerate)),
		slog.Float64("threshold", b.cfg.Threshold))
	return result, nil
}

// compareRows shards outer rows across workers. Each worker owns one dot
// buffer reused across its rows; cancellation is checked between rows so a
// large batch aborts promptly with a typed error, never a partial result.
func (b *Builder) compareRows(ctx context.Context, idx *vectorIndex, workers int) ([]domain.SimilarityEdge, error) {
	rows := make(chan int, idx.n)
	edgeParts := make(chan []domain.SimilarityEdge, workers)
	var wg sync.WaitGroup
	var cancelled sync.Once
	var cancelErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dots := make([]float32, idx.n)
			var local []domain.SimilarityEdge

			for i := range rows {
				select {
				case <-ctx.Done():
					cancelled.Do(func() {
						cancelErr = nerrors.Wrap(nerrors.ClassCancelled,
							"similarity computation cancelled", ctx.Err())
					})
					return
				default:
				}

				idx.dotsFrom(i, dots)
				normI := float64(idx.norms[i])
				for j := i + 1; j < idx.n; j++ {
					sim := clampSim(float64(dots[j-i-1]) / (normI * float64(idx.norms[j])))
					if sim >= b.cfg.Threshold {
						local = append(local, domain.NewSimilarityEdge(idx.ids[i], idx.ids[j], sim))
					}
				}
			}
			edgeParts <- local
		}()
	}

	go func() {
		defer close(rows)
		for i := 0; i < idx.n-1; i++ {
			select {
			case <-ctx.Done():
				return
			case rows <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(edgeParts)
	}()

	var edges []domain.SimilarityEdge
	for part := range edgeParts {
		edges = append(edges, part...)
	}
	if cancelErr != nil {
		return nil, cancelErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nerrors.Wrap(nerrors.ClassCancelled, "similarity computation cancelled", err)
	}
	return edges, nil
}

// sortEdges orders edges by canonical endpoints so identical inputs always
// produce byte-identical edge lists regardless of worker interleaving.
func sortEdges(edges []domain.SimilarityEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
}
