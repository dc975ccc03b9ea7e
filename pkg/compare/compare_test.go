package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccltopo/graphsearch/pkg/topo"
)

func ringSystem() *topo.System {
	s := &topo.System{}
	s.Nodes[topo.GPU] = []topo.TopoNode{
		{Type: topo.GPU, Dev: 0, Ranks: []int{0}},
		{Type: topo.GPU, Dev: 1, Ranks: []int{1}},
		{Type: topo.GPU, Dev: 2, Ranks: []int{2}},
	}
	s.Links = []topo.TopoLink{
		{Type: topo.LinkNVL, Bw: 20, RemNode: topo.NodeRef{Type: topo.GPU, Index: 1}},
		{Type: topo.LinkNVL, Bw: 20, RemNode: topo.NodeRef{Type: topo.GPU, Index: 0}},
	}
	s.Nodes[topo.GPU][0].Links = []topo.LinkID{0}
	s.Nodes[topo.GPU][1].Links = []topo.LinkID{1}
	s.GPUPaths = make([][4][]topo.Path, 3)
	s.GPUPaths[0][topo.GPU] = []topo.Path{{Type: topo.PathLOC, Count: 0}, {Type: topo.PathNVL, List: []topo.LinkID{0}, Count: 1}, {}}
	s.GPUPaths[1][topo.GPU] = []topo.Path{{Type: topo.PathNVL, List: []topo.LinkID{1}, Count: 1}, {Type: topo.PathLOC, Count: 0}, {}}
	s.GPUPaths[2][topo.GPU] = []topo.Path{{}, {}, {Type: topo.PathLOC, Count: 0}}
	return s
}

func TestSupersedesRejectsBelowMinChannels(t *testing.T) {
	s := ringSystem()
	cand := &topo.Graph{NChannels: 1, MinChannels: 2}
	ref := &topo.Graph{NChannels: 0, MinChannels: 1}
	assert.False(t, Supersedes(s, cand, ref))
}

func TestSupersedesHigherBandwidthWins(t *testing.T) {
	s := ringSystem()
	cand := &topo.Graph{NChannels: 2, BwIntra: 10, MinChannels: 1}
	ref := &topo.Graph{NChannels: 1, BwIntra: 10, MinChannels: 1}
	assert.True(t, Supersedes(s, cand, ref))
}

func TestSupersedesTieOnFewerHopsWins(t *testing.T) {
	s := ringSystem()
	cand := &topo.Graph{NChannels: 1, BwIntra: 10, MinChannels: 1, Pattern: topo.PatternRing, CrossNic: 0, NHops: 2}
	ref := &topo.Graph{NChannels: 1, BwIntra: 10, MinChannels: 1, Pattern: topo.PatternRing, CrossNic: 0, NHops: 5}
	assert.True(t, Supersedes(s, cand, ref))
}

func TestSupersedesReflexiveIsFalse(t *testing.T) {
	s := ringSystem()
	g := &topo.Graph{NChannels: 1, BwIntra: 10, MinChannels: 1, Pattern: topo.PatternRing, NHops: 3}
	assert.False(t, Supersedes(s, g, g))
}

func TestCountXGMICountsSingleHopNVLinkAdjacencies(t *testing.T) {
	s := ringSystem()
	g := &topo.Graph{NChannels: 1, Intra: [][]int{{0, 1, 2}}}
	// 0->1 is a single NVLink hop (count 1). 1->2 and 2->0 have no
	// precomputed path (Count defaults to 0, List empty), so they don't
	// count.
	assert.Equal(t, 1, CountXGMI(s, g))
}
