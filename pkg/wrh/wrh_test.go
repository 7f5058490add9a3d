package wrh

import (
	"fmt"
	"testing"
)

func testNodes(count int) Nodes {
	nodes := make(Nodes, count)
	for i := range nodes {
		nodes[i] = Node{Seed: uint32(i + 1), Weight: 1.0, Data: fmt.Sprintf("10.0.0.%d:80", i+1)}
	}
	return nodes
}

func TestRankAgreesWithPick(t *testing.T) {
	nodes := testNodes(10)
	for _, key := range []string{"test", "example.com", "a", ""} {
		ranked := Rank(nodes, []byte(key), 3)
		if len(ranked) != 3 {
			t.Fatalf("key=%q: ranked %d nodes", key, len(ranked))
		}
		idx := Pick(nodes, []byte(key))
		if nodes[idx].Seed != ranked[0].Seed {
			t.Errorf("key=%q: pick=%d rank[0]=%d", key, nodes[idx].Seed, ranked[0].Seed)
		}
		for i := 1; i < len(ranked); i++ {
			if ranked[i-1].score < ranked[i].score {
				t.Errorf("key=%q: rank not descending at %d", key, i)
			}
		}
	}
}

func TestPickStableUnderRemoval(t *testing.T) {
	nodes := testNodes(8)
	key := []byte("host.example")
	winner := nodes[Pick(nodes, key)].Seed
	var others Nodes
	for _, nd := range nodes {
		if nd.Seed != winner && nd.Seed%2 == 0 {
			continue
		}
		others = append(others, nd)
	}
	if got := others[Pick(others, key)].Seed; got != winner {
		t.Errorf("winner moved from %d to %d after removing other nodes", winner, got)
	}
	if FindSeed(others, winner) < 0 {
		t.Errorf("seed %d not found", winner)
	}
}

func TestPickEmpty(t *testing.T) {
	if Pick(nil, []byte("x")) != -1 {
		t.Error("pick on empty set")
	}
	if Rank(nil, []byte("x"), 2) != nil {
		t.Error("rank on empty set")
	}
}

func TestPickWeight(t *testing.T) {
	nodes := Nodes{
		{Seed: 1, Weight: 0},
		{Seed: 2, Weight: 1},
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if nodes[Pick(nodes, key)].Seed != 2 {
			t.Fatalf("zero-weight node picked for %q", key)
		}
	}
}

func TestNewNode(t *testing.T) {
	a := NewNode("10.0.0.1:80", 0, "a")
	b := NewNode("10.0.0.1:80", 2, "b")
	if a.Seed != b.Seed || a.Weight != 1 || b.Weight != 2 {
		t.Errorf("unexpected nodes %+v %+v", a, b)
	}
	if c := NewNode("10.0.0.2:80", 1, nil); c.Seed == a.Seed {
		t.Error("distinct ids share a seed")
	}
}
