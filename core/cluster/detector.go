package cluster

import (
	"log/slog"
	"sort"

	"github.com/jtonini/nomad/core/config"
	"github.com/jtonini/nomad/core/domain"
)

// Detector computes the cluster partition for one analysis run.
type Detector struct {
	cfg    config.ClusteringConfig
	logger *slog.Logger
}

func NewDetector(cfg config.ClusteringConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Detect partitions subjectIDs using the edge set. Connected components come
// from union-find; when refinement is enabled each component may split into
// finer communities by greedy modularity agglomeration. The returned
// clusters are pairwise disjoint, cover the input exactly, and are ordered
// deterministically (by smallest member id).
func (d *Detector) Detect(subjectIDs []string, edges []domain.SimilarityEdge) []domain.Cluster {
	ids := make([]string, len(subjectIDs))
	copy(ids, subjectIDs)
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	var membership []int
	if d.cfg.RefineCommunities {
		membership = d.refine(ids, index, edges)
	} else {
		uf := newUnionFind(len(ids))
		for _, e := range edges {
			ia, okA := index[e.A]
			ib, okB := index[e.B]
			if !okA || !okB {
				continue
			}
			uf.union(ia, ib)
		}
		membership = make([]int, len(ids))
		for i := range ids {
			membership[i] = uf.find(i)
		}
	}

	return assemble(ids, membership)
}

// assemble groups members by community id and renumbers clusters in order
// of their smallest member.
func assemble(ids []string, membership []int) []domain.Cluster {
	groups := make(map[int][]string)
	for i, id := range ids {
		groups[membership[i]] = append(groups[membership[i]], id)
	}

	clusters := make([]domain.Cluster, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		clusters = append(clusters, domain.Cluster{Members: members})
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Members[0] < clusters[j].Members[0]
	})
	for i := range clusters {
		clusters[i].ID = i
	}
	return clusters
}
