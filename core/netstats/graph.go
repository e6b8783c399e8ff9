// Package netstats derives statistical evidence of failure clustering from
// a labeled similarity graph: label assortativity, clustering coefficient,
// and permutation-based significance.
package netstats

import (
	"math"
	"sort"

	"github.com/jtonini/nomad/core/domain"
)

// graph is the integer-indexed adjacency arena built from the edge list:
// subjects in a sorted string arena, edges as index pairs, neighbors as
// sorted int slices. No pointer-based node objects.
type graph struct {
	ids       []string
	index     map[string]int
	neighbors [][]int
	edges     [][2]int
}

// buildGraph indexes the subject set and folds the edge list into adjacency.
// Edges naming unknown subjects are dropped; duplicates collapse.
func buildGraph(subjectIDs []string, edges []domain.SimilarityEdge) *graph {
	ids := make([]string, len(subjectIDs))
	copy(ids, subjectIDs)
	sort.Strings(ids)

	g := &graph{
		ids:       ids,
		index:     make(map[string]int, len(ids)),
		neighbors: make([][]int, len(ids)),
	}
	for i, id := range ids {
		g.index[id] = i
	}

	seen := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		a, okA := g.index[e.A]
		b, okB := g.index[e.B]
		if !okA || !okB || a == b {
			continue
		}
		if b < a {
			a, b = b, a
		}
		key := [2]int{a, b}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.edges = append(g.edges, key)
		g.neighbors[a] = append(g.neighbors[a], b)
		g.neighbors[b] = append(g.neighbors[b], a)
	}
	for i := range g.neighbors {
		sort.Ints(g.neighbors[i])
	}
	sort.Slice(g.edges, func(i, j int) bool {
		if g.edges[i][0] != g.edges[j][0] {
			return g.edges[i][0] < g.edges[j][0]
		}
		return g.edges[i][1] < g.edges[j][1]
	})
	return g
}

func (g *graph) degree(i int) int { return len(g.neighbors[i]) }

// hasEdge relies on the sorted neighbor lists.
func (g *graph) hasEdge(a, b int) bool {
	nb := g.neighbors[a]
	lo, hi := 0, len(nb)
	for lo < hi {
		mid := (lo + hi) / 2
		if nb[mid] < b {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(nb) && nb[lo] == b
}

// clusteringCoefficients returns C_i = 2 T_i / (k_i (k_i - 1)) per node.
// Nodes with degree < 2 have an undefined coefficient and return NaN; the
// engine averages over defined nodes only (documented defined-only choice).
func (g *graph) clusteringCoefficients() []float64 {
	coeffs := make([]float64, len(g.ids))
	for i := range g.ids {
		k := g.degree(i)
		if k < 2 {
			coeffs[i] = math.NaN()
			continue
		}
		links := 0
		nb := g.neighbors[i]
		for x := 0; x < len(nb); x++ {
			for y := x + 1; y < len(nb); y++ {
				if g.hasEdge(nb[x], nb[y]) {
					links++
				}
			}
		}
		coeffs[i] = 2 * float64(links) / float64(k*(k-1))
	}
	return coeffs
}

// assortativity computes Newman's discrete assortativity for the binary
// adverse label over edges whose endpoints are both labeled. labels[i] < 0
// means unlabeled, 0 not-adverse, 1 adverse. Returns NaN when undefined
// (no labeled edges, or all labeled edges carry one class).
func (g *graph) assortativity(labels []int8) float64 {
	// Mixing counts with both edge orientations, per Newman.
	var e [2][2]float64
	var total float64
	for _, edge := range g.edges {
		la, lb := labels[edge[0]], labels[edge[1]]
		if la < 0 || lb < 0 {
			continue
		}
		e[la][lb]++
		e[lb][la]++
		total += 2
	}
	if total == 0 {
		return math.NaN()
	}
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			e[x][y] /= total
		}
	}
	var trace, squares float64
	for x := 0; x < 2; x++ {
		trace += e[x][x]
		marginal := e[x][0] + e[x][1]
		squares += marginal * marginal
	}
	if squares == 1 {
		return math.NaN()
	}
	return (trace - squares) / (1 - squares)
}

// adverseMeanClustering averages the clustering coefficient over adverse
// nodes with a defined coefficient. NaN when no adverse node qualifies.
func adverseMeanClustering(coeffs []float64, labels []int8) float64 {
	var sum float64
	var n int
	for i, c := range coeffs {
		if labels[i] == 1 && !math.IsNaN(c) {
			sum += c
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
