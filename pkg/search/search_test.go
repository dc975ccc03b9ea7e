package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccltopo/graphsearch/pkg/topo"
)

func twoGpuRingSystem() *topo.System {
	s := &topo.System{}
	s.Nodes[topo.GPU] = []topo.TopoNode{
		{Type: topo.GPU, Dev: 0, Ranks: []int{0}},
		{Type: topo.GPU, Dev: 1, Ranks: []int{1}},
	}
	s.Links = []topo.TopoLink{
		{Type: topo.LinkNVL, Bw: 20, RemNode: topo.NodeRef{Type: topo.GPU, Index: 1}},
		{Type: topo.LinkNVL, Bw: 20, RemNode: topo.NodeRef{Type: topo.GPU, Index: 0}},
	}
	s.Nodes[topo.GPU][0].Links = []topo.LinkID{0}
	s.Nodes[topo.GPU][1].Links = []topo.LinkID{1}
	s.GPUPaths = [][4][]topo.Path{
		{topo.GPU: {{Type: topo.PathLOC}, {Type: topo.PathNVL, List: []topo.LinkID{0}, Bw: 20, Count: 1}}},
		{topo.GPU: {{Type: topo.PathNVL, List: []topo.LinkID{1}, Bw: 20, Count: 1}, {Type: topo.PathLOC}}},
	}
	return s
}

func TestParamsRingNoNet(t *testing.T) {
	s := twoGpuRingSystem()
	backToNet, backToFirstRank := Params(s, topo.PatternRing)
	assert.Equal(t, -1, backToNet)
	assert.Equal(t, 1, backToFirstRank)
}

func TestParamsTreeWithNet(t *testing.T) {
	s := twoGpuRingSystem()
	s.Nodes[topo.NIC] = []topo.TopoNode{{Type: topo.NIC}}
	backToNet, backToFirstRank := Params(s, topo.PatternTree)
	assert.Equal(t, 0, backToNet)
	assert.Equal(t, -1, backToFirstRank)
}

func TestFollowPathTrivialWhenNoPredecessor(t *testing.T) {
	s := twoGpuRingSystem()
	g := topo.NewGraph(1)
	to, ok, err := FollowPath(s, g, topo.InvalidNodeRef, topo.GPU, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, topo.GPU, to.Type)
	assert.Equal(t, 1, to.Index)
}

func TestFollowPathChargesAndRestores(t *testing.T) {
	s := twoGpuRingSystem()
	g := topo.NewGraph(1)
	g.TypeIntra = topo.PathNVL
	g.BwIntra = 20

	from := topo.NodeRef{Type: topo.GPU, Index: 0}
	before := s.Links[0].Bw
	to, ok, err := FollowPath(s, g, from, topo.GPU, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, to.Valid())
	assert.Equal(t, 0.0, s.Links[0].Bw)
	assert.Equal(t, 1, g.NHops)

	_, _, err = FollowPath(s, g, from, topo.GPU, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, before, s.Links[0].Bw)
	assert.Equal(t, 0, g.NHops)
}

func TestSearchRecFindsTwoGpuRing(t *testing.T) {
	s := twoGpuRingSystem()
	graph := topo.NewGraph(1)
	graph.Pattern = topo.PatternRing
	graph.TypeIntra = topo.PathNVL
	graph.TypeInter = topo.PathNVL
	graph.BwIntra = 20
	graph.BwInter = 20
	graph.MinChannels = 1

	save := topo.NewGraph(1)
	tm := NewTime(1 << 12)
	require.NoError(t, SearchRec(s, graph, save, tm))

	require.Equal(t, 1, save.NChannels)
	assert.Len(t, save.Intra[0], 2)
	assert.ElementsMatch(t, []int{0, 1}, save.Intra[0])

	// Zero-leakage: every link restored to its starting bandwidth once the
	// whole search (with all try/untry pairs unwound) has returned.
	assert.Equal(t, 20.0, s.Links[0].Bw)
	assert.Equal(t, 20.0, s.Links[1].Bw)
}

func TestSearchRecAbortsCleanlyUnderTightBudgetLeavesLedgerIntact(t *testing.T) {
	s := twoGpuRingSystem()
	graph := topo.NewGraph(1)
	graph.Pattern = topo.PatternRing
	graph.TypeIntra = topo.PathNVL
	graph.BwIntra = 20
	graph.MinChannels = 1

	save := topo.NewGraph(1)
	// A budget of one tick lets the very first SearchRecGpu entry run, but
	// the recursive call it makes into the second GPU returns immediately
	// without ever completing a channel, exercising the try/untry unwind
	// on the abort path rather than the completed-search path.
	tm := NewTime(1)
	require.NoError(t, SearchRec(s, graph, save, tm))

	assert.True(t, tm.Done())
	assert.Equal(t, 0, save.NChannels)
	assert.Equal(t, 20.0, s.Links[0].Bw)
	assert.Equal(t, 20.0, s.Links[1].Bw)
}

func TestTimeDoneAndOptimal(t *testing.T) {
	tm := NewTime(2)
	assert.False(t, tm.Done())
	tm.Tick()
	tm.Tick()
	assert.True(t, tm.Done())

	tm2 := NewTime(10)
	tm2.StopOptimal()
	assert.True(t, tm2.Optimal())
	assert.True(t, tm2.Done())
}
