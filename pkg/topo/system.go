package topo

// System is the top-level discovered-topology container: the node arena,
// the link arena and the precomputed path table, plus summary bandwidth
// figures used to seed the Planner's speed ladder.
type System struct {
	Nodes [numNodeTypes][]TopoNode
	Links []TopoLink

	// GPUPaths[gpuIndex][dstType][dstIndex] is the precomputed path from
	// that GPU to the node of dstType at dstIndex.
	GPUPaths [][numNodeTypes][]Path
	// NICPaths[nicIndex][dstType][dstIndex] is the analogous table rooted
	// at NICs, used by the search for paths that start at a NIC.
	NICPaths [][numNodeTypes][]Path

	MaxBw   float64
	TotalBw float64

	// ServerShape is an optional hint, set by the external topology
	// discovery collaborator, naming a canonical server shape (e.g.
	// "rome4p2h", "chordalring8", "1h16p", "4h4p") this system is known to
	// match. Shape *inference* from raw link topology is out of scope
	// here (topology discovery is an external collaborator per the
	// engine's scope); the pattern matchers only confirm and expand a
	// declared shape against its canonical GPU ordering table.
	ServerShape string

	// NRanks is the total rank count across all GPUs, used by the RINGS-
	// env / Rome 4P2H system-type check.
	NRanks int

	Config Config
}

// Config is the dependency-injected configuration struct read once at
// Planner entry, per the env-var-as-config-struct design note.
type Config struct {
	CrossNic             int // 0 forbid, 1 require, 2 allow if multi-NIC
	P2PPXNLevel          int // 0 off, 1 if-needed, 2 aggressive
	GraphFile            string
	Rings                string
	GraphDumpFile        string
	ModelMatchingDisable bool
}

// Node resolves a NodeRef to the TopoNode it addresses.
func (s *System) Node(ref NodeRef) *TopoNode {
	if !ref.Valid() {
		return nil
	}
	return &s.Nodes[ref.Type][ref.Index]
}

// GPU returns the GPU node at index i.
func (s *System) GPU(i int) *TopoNode { return &s.Nodes[GPU][i] }

// NIC returns the NIC node at index i.
func (s *System) NIC(i int) *TopoNode { return &s.Nodes[NIC][i] }

// NumGPUs returns the number of discovered GPUs.
func (s *System) NumGPUs() int { return len(s.Nodes[GPU]) }

// NumNICs returns the number of discovered NICs.
func (s *System) NumNICs() int { return len(s.Nodes[NIC]) }

// Link returns the link at id, or nil for InvalidID.
func (s *System) Link(id LinkID) *TopoLink {
	if id == InvalidID {
		return nil
	}
	return &s.Links[id]
}

// FindRevLink scans toRef's outgoing links for one whose remote is fromRef,
// looked up on demand rather than cached: an implementer keeping at most
// one lookup per hop is sufficient and matches the original's intent
// despite the revLink variable being reset every step.
func (s *System) FindRevLink(fromRef, toRef NodeRef) (LinkID, bool) {
	toNode := s.Node(toRef)
	if toNode == nil {
		return InvalidID, false
	}
	for _, lid := range toNode.Links {
		if s.Links[lid].RemNode == fromRef {
			return lid, true
		}
	}
	return InvalidID, false
}

// PathTo returns the precomputed path from GPU gpuIdx to the node of type
// dstType at index dstIdx.
func (s *System) PathTo(gpuIdx int, dstType NodeType, dstIdx int) *Path {
	if gpuIdx < 0 || gpuIdx >= len(s.GPUPaths) {
		return nil
	}
	paths := s.GPUPaths[gpuIdx][dstType]
	if dstIdx < 0 || dstIdx >= len(paths) {
		return nil
	}
	return &paths[dstIdx]
}

// PathFromNIC returns the precomputed path from NIC nicIdx to the node of
// type dstType at index dstIdx.
func (s *System) PathFromNIC(nicIdx int, dstType NodeType, dstIdx int) *Path {
	if nicIdx < 0 || nicIdx >= len(s.NICPaths) {
		return nil
	}
	paths := s.NICPaths[nicIdx][dstType]
	if dstIdx < 0 || dstIdx >= len(paths) {
		return nil
	}
	return &paths[dstIdx]
}

// PathFrom resolves the precomputed path starting at the arbitrary node
// from, to the node of type dstType at index dstIdx. Only GPU and NIC
// sources carry a precomputed path table in this model, matching the set
// of source types ncclTopoFollowPath is ever called with.
func (s *System) PathFrom(from NodeRef, dstType NodeType, dstIdx int) *Path {
	switch from.Type {
	case GPU:
		return s.PathTo(from.Index, dstType, dstIdx)
	case NIC:
		return s.PathFromNIC(from.Index, dstType, dstIdx)
	default:
		return nil
	}
}
