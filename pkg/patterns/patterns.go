package patterns

import "github.com/ccltopo/graphsearch/pkg/topo"

// Matcher is the opaque-oracle contract every pattern matcher satisfies:
// given the discovered system and a partial graph, it either fully
// populates the graph and returns true, or leaves the graph untouched and
// returns false.
type Matcher func(system *topo.System, graph *topo.Graph) bool

// Matchers lists the four matchers in the order Planner tries them.
var Matchers = []Matcher{
	ParseChordalRing,
	ParseRome4P2H,
	Parse1H16P,
	Parse4H4P,
}

func applyShape(system *topo.System, graph *topo.Graph, shape Shape) bool {
	if shape.NGPUs != system.NumGPUs() {
		return false
	}
	ranks := make([]int, shape.NGPUs)
	for i, gpuIdx := range shape.Order {
		gpu := system.GPU(gpuIdx)
		if len(gpu.Ranks) > 0 {
			ranks[i] = gpu.Ranks[0]
		} else {
			ranks[i] = gpuIdx
		}
	}
	graph.Pattern = topo.PatternRing
	graph.NChannels = 1
	graph.Intra = [][]int{ranks}
	graph.Inter = [][2]int64{{-1, -1}}
	graph.BwIntra = shape.BwIntra
	graph.BwInter = shape.BwIntra
	graph.TypeIntra = topo.PathNVL
	graph.NHops = len(ranks)
	return true
}

// ParseChordalRing matches a declared "chordalring*" server shape against
// ChordalRingTables.
func ParseChordalRing(system *topo.System, graph *topo.Graph) bool {
	shape, ok := lookup(ChordalRingTables, system.NumGPUs(), system.ServerShape)
	if !ok {
		return false
	}
	return applyShape(system, graph, shape)
}

// ParseRome4P2H matches a declared "rome4p2h" shape against Rome4P2HTables.
func ParseRome4P2H(system *topo.System, graph *topo.Graph) bool {
	shape, ok := lookup(Rome4P2HTables, system.NumGPUs(), system.ServerShape)
	if !ok {
		return false
	}
	return applyShape(system, graph, shape)
}

// Parse1H16P matches a declared "1h16p" shape against
// OneHost16PartitionTables.
func Parse1H16P(system *topo.System, graph *topo.Graph) bool {
	shape, ok := lookup(OneHost16PartitionTables, system.NumGPUs(), system.ServerShape)
	if !ok {
		return false
	}
	return applyShape(system, graph, shape)
}

// Parse4H4P matches a declared "4h4p" shape against FourHost4PartitionTables.
func Parse4H4P(system *topo.System, graph *topo.Graph) bool {
	shape, ok := lookup(FourHost4PartitionTables, system.NumGPUs(), system.ServerShape)
	if !ok {
		return false
	}
	return applyShape(system, graph, shape)
}
