package topo

// Graph is the candidate channel layout being built and searched.
type Graph struct {
	ID      int
	Pattern Pattern

	CrossNic     int
	CollNet      int
	SameChannels int

	TypeIntra PathType
	TypeInter PathType

	BwIntra float64
	BwInter float64

	LatencyInter float64

	MinChannels int
	MaxChannels int
	NChannels   int

	// Intra[c] is the ordered permutation of GPU ranks on channel c.
	Intra [][]int
	// Inter[c] is the [entry, exit] NIC ids for channel c, or [-1,-1] if
	// the channel has no NIC endpoints.
	Inter [][2]int64

	NHops int

	// NIntraChannels is not read by search and not carried by xmlcodec; the
	// planner only resets it to zero.
	NIntraChannels int
}

// NewGraph returns a zero-initialized graph with maxChannels set and
// MinChannels set to 1, matching the zero-init-by-Planner lifecycle rule.
func NewGraph(maxChannels int) *Graph {
	return &Graph{
		MaxChannels: maxChannels,
		MinChannels: 1,
	}
}

// Clone deep-copies the graph, the Go analog of the memcpy-into-saveGraph
// step, necessary because Intra/Inter are slices and a shallow struct copy
// would alias them.
func (g *Graph) Clone() *Graph {
	out := *g
	if g.Intra != nil {
		out.Intra = make([][]int, len(g.Intra))
		for i, ch := range g.Intra {
			out.Intra[i] = append([]int(nil), ch...)
		}
	}
	if g.Inter != nil {
		out.Inter = append([][2]int64(nil), g.Inter...)
	}
	return &out
}

// CopyFrom overwrites g in place with a deep copy of src, so a *Graph that
// callers hold stays valid across relaxation attempts. The copy is built
// with Clone, so it allocates.
func (g *Graph) CopyFrom(src *Graph) {
	*g = *src.Clone()
}
