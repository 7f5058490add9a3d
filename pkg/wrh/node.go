// Package wrh implements weighted rendezvous hashing over a small set of
// nodes.
package wrh

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Node is a hashing candidate. Seed identifies the node in the hash, so two
// nodes with the same seed always score alike.
type Node struct {
	Seed   uint32
	Weight float64
	Data   interface{}
	score  float64
}

// NewNode returns a node seeded from id. A zero or negative weight is
// treated as 1.
func NewNode(id string, weight float64, data interface{}) Node {
	if weight <= 0 {
		weight = 1
	}
	return Node{
		Seed:   murmur3.Sum32([]byte(id)),
		Weight: weight,
		Data:   data,
	}
}

// Score returns the weighted score of the node for key. Higher wins.
func (nd *Node) Score(key []byte) float64 {
	_, h2 := murmur3.Sum128WithSeed(key, nd.Seed)
	hf := unitFloat(h2)
	if hf <= 0 {
		return 0
	}
	return nd.Weight / -math.Log(hf)
}

type Nodes []Node

func (n Nodes) Len() int {
	return len(n)
}

func (n Nodes) Less(i, j int) bool {
	return n[i].score > n[j].score
}

func (n Nodes) Swap(i, j int) {
	n[i], n[j] = n[j], n[i]
}
