package wrh

import (
	"sort"
)

// unitFloat maps the low 53 bits of v into [0, 1).
func unitFloat(v uint64) float64 {
	const mantissa = uint64(1)<<53 - 1
	return float64(v&mantissa) / float64(uint64(1)<<53)
}

// Pick returns the index of the highest-scoring node for key, or -1 when
// nodes is empty.
func Pick(nodes Nodes, key []byte) int {
	idx := -1
	var max float64
	for i := range nodes {
		sc := nodes[i].Score(key)
		if idx < 0 || sc > max {
			idx, max = i, sc
		}
	}
	return idx
}

// Rank returns at most count nodes ordered by descending score for key. The
// first element is the one Pick chooses.
func Rank(nodes Nodes, key []byte, count int) Nodes {
	if count <= 0 || len(nodes) == 0 {
		return nil
	}
	ranked := make(Nodes, len(nodes))
	copy(ranked, nodes)
	for i := range ranked {
		ranked[i].score = ranked[i].Score(key)
	}
	sort.Stable(ranked)
	if count < len(ranked) {
		ranked = ranked[:count]
	}
	return ranked
}

// FindSeed returns the index of the node with the given seed, or -1.
func FindSeed(nodes Nodes, seed uint32) int {
	for i := range nodes {
		if nodes[i].Seed == seed {
			return i
		}
	}
	return -1
}
