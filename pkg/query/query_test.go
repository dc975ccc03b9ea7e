package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccltopo/graphsearch/pkg/topo"
)

func systemWithNetGraph() (*topo.System, *topo.Graph) {
	s := &topo.System{}
	s.Nodes[topo.GPU] = []topo.TopoNode{
		{Type: topo.GPU, Dev: 0, Ranks: []int{0}},
		{Type: topo.GPU, Dev: 1, Ranks: []int{1}},
	}
	s.Nodes[topo.NIC] = []topo.TopoNode{
		{Type: topo.NIC, ID: 0xA},
		{Type: topo.NIC, ID: 0xB},
	}
	g := &topo.Graph{
		NChannels: 1,
		Intra:     [][]int{{0, 1}},
		Inter:     [][2]int64{{0xA, 0xB}},
	}
	return s, g
}

func TestGetNetDevEntryVsExit(t *testing.T) {
	s, g := systemWithNetGraph()

	entry, err := GetNetDev(s, g, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0xA), entry.Dev)

	exit, err := GetNetDev(s, g, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0xB), exit.Dev)
}

func TestGetNetDevRejectsEmptyGraph(t *testing.T) {
	s, _ := systemWithNetGraph()
	_, err := GetNetDev(s, &topo.Graph{}, 0, 0)
	assert.Error(t, err)
}

func TestGetNetDevPXNLevelZeroNeverProxies(t *testing.T) {
	s, g := systemWithNetGraph()
	s.Config.P2PPXNLevel = 0
	res, err := GetNetDev(s, g, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ProxyRank)
}

func directNvlinkSystem() *topo.System {
	s := &topo.System{}
	s.Nodes[topo.GPU] = []topo.TopoNode{
		{Type: topo.GPU, Dev: 0, Ranks: []int{0}},
		{Type: topo.GPU, Dev: 1, Ranks: []int{1}},
		{Type: topo.GPU, Dev: 2, Ranks: []int{2}},
	}
	s.Links = []topo.TopoLink{
		{Type: topo.LinkNVL, Bw: 20, RemNode: topo.NodeRef{Type: topo.GPU, Index: 1}},
	}
	s.Nodes[topo.GPU][0].Links = []topo.LinkID{0}
	s.GPUPaths = [][4][]topo.Path{
		{topo.GPU: {{Type: topo.PathLOC}, {Type: topo.PathNVL, List: []topo.LinkID{0}, Count: 1}, {}}},
		{topo.GPU: {{}, {Type: topo.PathLOC}, {}}},
		{topo.GPU: {{}, {}, {Type: topo.PathLOC}}},
	}
	return s
}

func TestGetLinkTypeDirect(t *testing.T) {
	s := directNvlinkSystem()
	ok, err := GetLinkType(s, 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetLinkTypeNoConnection(t *testing.T) {
	s := directNvlinkSystem()
	ok, err := GetLinkType(s, 0, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetLinkTypeUnknownDevIsInternalError(t *testing.T) {
	s := directNvlinkSystem()
	_, err := GetLinkType(s, 99, 1)
	assert.Error(t, err)
}
