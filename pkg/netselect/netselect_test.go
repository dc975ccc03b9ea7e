package netselect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccltopo/graphsearch/pkg/topo"
)

// twoGpuTwoNicSystem builds a system where GPU 0 has a PIX-class path to
// NIC 0 and a PXB-class path to NIC 1, and GPU 1 the reverse, so
// SelectNets must surface both NICs once each in the right order.
func twoGpuTwoNicSystem() *topo.System {
	s := &topo.System{}
	s.Nodes[topo.GPU] = []topo.TopoNode{
		{Type: topo.GPU, Dev: 0},
		{Type: topo.GPU, Dev: 1},
	}
	s.Nodes[topo.NIC] = []topo.TopoNode{
		{Type: topo.NIC, ID: 0xA},
		{Type: topo.NIC, ID: 0xB},
	}
	s.GPUPaths = make([][4]([]topo.Path), 2)
	s.GPUPaths[0][topo.NIC] = []topo.Path{{Type: topo.PathPIX}, {Type: topo.PathPXB}}
	s.GPUPaths[1][topo.NIC] = []topo.Path{{Type: topo.PathPXB}, {Type: topo.PathPIX}}
	return s
}

func TestSelectNetsAllGpus(t *testing.T) {
	s := twoGpuTwoNicSystem()
	nets := SelectNets(s, topo.PathPXB, -1)
	assert.ElementsMatch(t, []int{0, 1}, nets)
}

func TestSelectNetsSingleGpu(t *testing.T) {
	s := twoGpuTwoNicSystem()
	nets := SelectNets(s, topo.PathPXB, 0)
	assert.Equal(t, []int{0, 1}, nets)
}

func TestSelectNetsNoNics(t *testing.T) {
	s := &topo.System{}
	s.Nodes[topo.GPU] = []topo.TopoNode{{Type: topo.GPU}}
	assert.Nil(t, SelectNets(s, topo.PathSYS, -1))
}

func TestRotate(t *testing.T) {
	s := []int{0, 1, 2, 3}
	rotate(s, 1)
	assert.Equal(t, []int{1, 2, 3, 0}, s)

	s2 := []int{0, 1, 2, 3}
	rotate(s2, 0)
	assert.Equal(t, []int{0, 1, 2, 3}, s2)
}
