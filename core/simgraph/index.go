// Package simgraph builds the thresholded similarity graph over subjects.
// Vectors are packed into a flat row-major matrix with precomputed norms so
// each outer row resolves to one BLAS matrix-vector product instead of a
// per-pair scalar loop.
package simgraph

import (
	"math"

	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/jtonini/nomad/core/domain"
	nerrors "github.com/jtonini/nomad/core/errors"
)

// vectorIndex is the packed comparison arena: subject ids indexed by row,
// vectors as one contiguous float32 slab, Euclidean norms precomputed once.
type vectorIndex struct {
	ids   []string
	flat  []float32
	norms []float32
	dim   int
	n     int
}

// buildOutcome separates the comparable rows from the subjects excluded
// before any pairwise work happens.
type buildOutcome struct {
	index      *vectorIndex
	degenerate []string
	skipped    map[string]error
}

// newVectorIndex packs the inputs. Dimension is fixed by the first usable
// vector; subjects with a different dimensionality are schema mismatches
// and are skipped, zero-norm subjects are degenerate and isolated.
func newVectorIndex(subjects []Input) buildOutcome {
	out := buildOutcome{skipped: make(map[string]error)}

	dim := -1
	for _, s := range subjects {
		if s.Vector.Dim() > 0 {
			dim = s.Vector.Dim()
			break
		}
	}
	if dim <= 0 {
		return out
	}

	idx := &vectorIndex{dim: dim}
	for _, s := range subjects {
		if s.Vector.Dim() != dim {
			out.skipped[s.ID] = nerrors.Newf(nerrors.ClassSchemaMismatch,
				"vector dimensionality %d, expected %d", s.Vector.Dim(), dim).WithSubject(s.ID)
			continue
		}
		norm := float32(math.Sqrt(float64(vek32.Dot(s.Vector.Values, s.Vector.Values))))
		if norm == 0 {
			out.degenerate = append(out.degenerate, s.ID)
			continue
		}
		idx.ids = append(idx.ids, s.ID)
		idx.flat = append(idx.flat, s.Vector.Values...)
		idx.norms = append(idx.norms, norm)
		idx.n++
	}
	out.index = idx
	return out
}

// dotsFrom computes row i's dot products against every later row in one
// GEMV: out[j] = v_i . v_{i+1+j}. The out buffer must hold n-i-1 entries.
func (idx *vectorIndex) dotsFrom(i int, out []float32) {
	rows := idx.n - i - 1
	if rows <= 0 {
		return
	}
	blas32.Gemv(
		blas.NoTrans, 1.0,
		blas32.General{Rows: rows, Cols: idx.dim, Stride: idx.dim, Data: idx.flat[(i+1)*idx.dim:]},
		blas32.Vector{N: idx.dim, Inc: 1, Data: idx.flat[i*idx.dim : (i+1)*idx.dim]},
		0.0,
		blas32.Vector{N: rows, Inc: 1, Data: out[:rows]},
	)
}

// Cosine is the pairwise similarity kernel: sim(a,b) = (a.b)/(|a||b|).
// It is symmetric, and exactly 1 for a non-zero vector against itself up to
// float rounding. Zero-norm inputs return 0 and ok=false; callers must
// isolate such subjects instead of comparing them.
func Cosine(a, b []float32) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	aNorm := math.Sqrt(float64(vek32.Dot(a, a)))
	bNorm := math.Sqrt(float64(vek32.Dot(b, b)))
	if aNorm == 0 || bNorm == 0 {
		return 0, false
	}
	sim = float64(vek32.Dot(a, b)) / (aNorm * bNorm)
	return clampSim(sim), true
}

// clampSim pins float rounding back inside [-1, 1].
func clampSim(sim float64) float64 {
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// Input pairs a subject id with its feature vector.
type Input struct {
	ID     string
	Vector domain.FeatureVector
}
