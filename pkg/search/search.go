// Package search implements SearchCore: the recursive backtracking search
// over GPU orderings (and, when NICs are involved, over NIC entry/exit
// choices) that materializes channels into a topo.Graph, driven by a
// shared time countdown and reported back through the Comparator.
package search

import (
	"fmt"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/ccltopo/graphsearch/pkg/compare"
	"github.com/ccltopo/graphsearch/pkg/ledger"
	"github.com/ccltopo/graphsearch/pkg/netselect"
	"github.com/ccltopo/graphsearch/pkg/scorer"
	"github.com/ccltopo/graphsearch/pkg/topo"
	"github.com/ccltopo/graphsearch/pkg/topoerr"
)

// gpuVisits counts SearchRecGpu entries across the whole process, so
// callers (such as metrics) can report search pressure without
// threading a counter through every recursive call.
var gpuVisits atomic.Int64

// GpuVisits returns the running total of SearchRecGpu entries.
func GpuVisits() int64 { return gpuVisits.Load() }

// ForcedOrder constrains SearchRecGpu's next-GPU choice.
type ForcedOrder int

const (
	ForcedOrderNone ForcedOrder = iota
	ForcedOrderPCI
	ForcedOrderReplay
)

// Time is the mutable countdown shared across the whole recursion. Reaching
// zero unwinds the search returning whatever was found so far; -1 means "a
// provably-best solution was found, stop further search."
type Time struct {
	n int
}

func NewTime(budget int) *Time { return &Time{n: budget} }

// Done reports whether the search should stop immediately without
// attempting any further branch.
func (t *Time) Done() bool { return t.n <= 0 }

// Tick decrements the countdown by one, called once per SearchRecGpu entry.
func (t *Time) Tick() { t.n-- }

// StopOptimal sets the sentinel meaning a provably-best solution was found.
func (t *Time) StopOptimal() { t.n = -1 }

// Optimal reports whether StopOptimal was called.
func (t *Time) Optimal() bool { return t.n == -1 }

// Remaining returns the raw countdown value (may be negative/-1).
func (t *Time) Remaining() int { return t.n }

// Params computes backToNet/backToFirstRank for the given pattern, per the
// pattern-parameter table: multi-host graphs with NICs route every channel
// back through a NIC; single-host graphs close rings directly GPU-to-GPU.
func Params(sys *topo.System, pattern topo.Pattern) (backToNet, backToFirstRank int) {
	backToNet, backToFirstRank = -1, -1
	ngpus := sys.NumGPUs()
	if sys.NumNICs() > 0 {
		switch pattern {
		case topo.PatternRing:
			backToNet = ngpus - 1
		case topo.PatternSplitTree:
			backToNet = 1
		default:
			backToNet = 0
		}
		return backToNet, -1
	}
	if pattern == topo.PatternRing {
		backToFirstRank = ngpus - 1
	}
	return -1, backToFirstRank
}

// FollowPath mirrors ncclTopoFollowPath: it charges (mult=1) or refunds
// (mult=-1) the intra-/inter-node bandwidth of graph along the precomputed
// path from `from` to the node of type toType at toIdx, updating
// graph.NHops on success. An invalid `from` (topo.InvalidNodeRef, type1 ==
// -1 in the original) is the "no path check, trivially reachable" case used
// when the caller has no predecessor yet.
func FollowPath(sys *topo.System, graph *topo.Graph, from topo.NodeRef, toType topo.NodeType, toIdx int, mult int) (topo.NodeRef, bool, error) {
	to := topo.NodeRef{Type: toType, Index: toIdx}
	if !from.Valid() {
		return to, true, nil
	}

	path := sys.PathFrom(from, toType, toIdx)
	if path == nil || len(path.List) == 0 {
		return to, true, nil
	}

	intra := from.Type == topo.GPU && toType == topo.GPU
	bw, typ := graph.BwInter, graph.TypeInter
	if intra {
		bw, typ = graph.BwIntra, graph.TypeIntra
	}

	if mult == 1 && path.Type > typ {
		return topo.InvalidNodeRef, false, nil
	}

	bw *= float64(mult)

	steps, err := ledger.Follow(sys, path, from, len(path.List), bw)
	if err != nil {
		return topo.InvalidNodeRef, false, fmt.Errorf("search: %w", err)
	}
	if steps < len(path.List) {
		if _, err := ledger.Follow(sys, path, from, steps, -bw); err != nil {
			return topo.InvalidNodeRef, false, fmt.Errorf("search: rewind: %w", err)
		}
		return topo.InvalidNodeRef, false, nil
	}
	graph.NHops += mult * len(path.List)
	return to, true, nil
}

// Result pairs a best graph found (possibly zero-channel) with whether the
// search proved it optimal (Time hit the -1 sentinel). Compute itself
// returns a *topo.Graph, not a Result.
type Result struct {
	Best    *topo.Graph
	Optimal bool
}

// SearchRec is the per-channel entry point. Single-host, no-NIC graphs try
// three seeds in order: PCI-index order on the first channel, replay of the
// previous channel's order otherwise, then (unless sameChannels pins the
// order) every GPU as a starting seed.
func SearchRec(sys *topo.System, graph, save *topo.Graph, t *Time) error {
	if t.Done() {
		return nil
	}
	backToNet, backToFirstRank := Params(sys, graph.Pattern)

	if sys.NumNICs() > 0 {
		return SearchRecNet(sys, graph, save, backToNet, backToFirstRank, t)
	}

	if graph.NChannels == 0 {
		g0 := sys.GPU(0)
		if err := SearchTryGpu(sys, graph, save, 0, backToNet, backToFirstRank, ForcedOrderPCI, t, topo.InvalidNodeRef, g0); err != nil {
			return err
		}
	} else {
		g, err := replayGetGpu(sys, graph, -1)
		if err != nil {
			return err
		}
		if err := SearchTryGpu(sys, graph, save, 0, backToNet, backToFirstRank, ForcedOrderReplay, t, topo.InvalidNodeRef, sys.GPU(g)); err != nil {
			return err
		}
	}
	if t.Done() || (graph.SameChannels != 0 && graph.NChannels != 0) {
		return nil
	}
	for g := 0; g < sys.NumGPUs(); g++ {
		if err := SearchTryGpu(sys, graph, save, 0, backToNet, backToFirstRank, ForcedOrderNone, t, topo.InvalidNodeRef, sys.GPU(g)); err != nil {
			return err
		}
		if t.Done() {
			return nil
		}
	}
	return nil
}

// replayGetGpu resolves the GPU index that held `step+1` on the previous
// channel, mirroring ncclTopoReplayGetGpu. step == -1 asks for the GPU that
// started the previous channel.
func replayGetGpu(sys *topo.System, graph *topo.Graph, step int) (int, error) {
	if graph.NChannels == 0 {
		return 0, fmt.Errorf("search: %w: no previous channel to replay", topoerr.ErrInternal)
	}
	rank := graph.Intra[graph.NChannels-1][step+1]
	for g := 0; g < sys.NumGPUs(); g++ {
		for _, r := range sys.GPU(g).Ranks {
			if r == rank {
				return g, nil
			}
		}
	}
	return 0, fmt.Errorf("search: %w: could not find gpu rank %d", topoerr.ErrInternal, rank)
}

func getGpuIndex(sys *topo.System, rank int) (int, error) {
	for g := 0; g < sys.NumGPUs(); g++ {
		for _, r := range sys.GPU(g).Ranks {
			if r == rank {
				return g, nil
			}
		}
	}
	return 0, fmt.Errorf("search: %w: could not find gpu rank %d", topoerr.ErrInternal, rank)
}

func getNetIndex(sys *topo.System, id int64) (int, error) {
	for n := 0; n < sys.NumNICs(); n++ {
		if sys.NIC(n).ID == id {
			return n, nil
		}
	}
	return 0, fmt.Errorf("search: %w: could not find net id %x", topoerr.ErrInternal, id)
}

// gpuPciBw returns the lesser of the GPU's PCI link bandwidth and the
// matching reverse link's bandwidth, or -1 if the GPU has no PCI link.
func gpuPciBw(sys *topo.System, gpuIdx int) float64 {
	gpu := sys.GPU(gpuIdx)
	gpuRef := topo.NodeRef{Type: topo.GPU, Index: gpuIdx}
	for _, lid := range gpu.Links {
		link := sys.Link(lid)
		if link.Type != topo.LinkPCI {
			continue
		}
		pci := sys.Node(link.RemNode)
		for _, plid := range pci.Links {
			plink := sys.Link(plid)
			if plink.RemNode != gpuRef {
				continue
			}
			if link.Bw < plink.Bw {
				return link.Bw
			}
			return plink.Bw
		}
	}
	return -1
}

// SearchTryGpu follows the path from (type,index) to GPU g, flips g's used
// bit for the current channel, recurses into SearchRecGpu, then unwinds
// both the used bit and the path charge, regardless of whether the
// recursion found anything — the try/untry stanza.
func SearchTryGpu(sys *topo.System, graph, save *topo.Graph, step, backToNet, backToFirstRank int, forcedOrder ForcedOrder, t *Time, from topo.NodeRef, g *topo.TopoNode) error {
	gIdx := gpuIndex(sys, g)
	_, ok, err := FollowPath(sys, graph, from, topo.GPU, gIdx, 1)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	flag := uint32(1) << uint(graph.NChannels)
	g.Used ^= flag
	if err := SearchRecGpu(sys, graph, save, gIdx, step, backToNet, backToFirstRank, forcedOrder, t); err != nil {
		return err
	}
	g.Used ^= flag
	if _, _, err := FollowPath(sys, graph, from, topo.GPU, gIdx, -1); err != nil {
		return err
	}
	return nil
}

func gpuIndex(sys *topo.System, g *topo.TopoNode) int {
	for i := range sys.Nodes[topo.GPU] {
		if &sys.Nodes[topo.GPU][i] == g {
			return i
		}
	}
	return g.Dev
}

// SearchRecGpu places gpu at position step on the current channel.
func SearchRecGpu(sys *topo.System, graph, save *topo.Graph, gpuIdx, step, backToNet, backToFirstRank int, forcedOrder ForcedOrder, t *Time) error {
	if t.Done() {
		return nil
	}
	t.Tick()
	gpuVisits.Inc()

	ngpus := sys.NumGPUs()
	gpu := sys.GPU(gpuIdx)

	if step == ngpus {
		graph.NChannels++
		if len(graph.Intra) < graph.NChannels {
			graph.Intra = append(graph.Intra, nil)
		}
		if compare.Supersedes(sys, graph, save) {
			save.CopyFrom(graph)
			klog.V(4).InfoS("search: improved candidate", "nChannels", graph.NChannels, "bwIntra", graph.BwIntra)
			if graph.NChannels == graph.MaxChannels {
				t.StopOptimal()
			}
		}
		if graph.NChannels < graph.MaxChannels {
			if err := SearchRec(sys, graph, save, t); err != nil {
				return err
			}
		}
		graph.NChannels--
		return nil
	}

	for len(graph.Intra) <= graph.NChannels {
		graph.Intra = append(graph.Intra, make([]int, ngpus))
	}
	if len(graph.Intra[graph.NChannels]) != ngpus {
		graph.Intra[graph.NChannels] = make([]int, ngpus)
	}
	rank := gpuIdx
	if len(gpu.Ranks) > 0 {
		rank = gpu.Ranks[0]
	}
	graph.Intra[graph.NChannels][step] = rank

	switch {
	case step == backToNet:
		return searchBackToNet(sys, graph, save, gpuIdx, step, backToFirstRank, forcedOrder, t)
	case step < ngpus-1:
		return searchNextGpu(sys, graph, save, gpuIdx, step, backToNet, backToFirstRank, forcedOrder, t)
	case step == backToFirstRank:
		return searchCloseRing(sys, graph, save, gpuIdx, step, backToNet, forcedOrder, t)
	default:
		return SearchRecGpu(sys, graph, save, gpuIdx, ngpus, -1, -1, forcedOrder, t)
	}
}

func searchNextGpu(sys *topo.System, graph, save *topo.Graph, gpuIdx, step, backToNet, backToFirstRank int, forcedOrder ForcedOrder, t *Time) error {
	gRef := topo.NodeRef{Type: topo.GPU, Index: gpuIdx}
	var next []int
	switch forcedOrder {
	case ForcedOrderPCI:
		next = []int{step + 1}
	case ForcedOrderReplay:
		g, err := replayGetGpu(sys, graph, step)
		if err != nil {
			return err
		}
		next = []int{g}
	default:
		sortNet := 0
		if backToNet != -1 {
			if backToNet == step+1 {
				sortNet = 1
			} else {
				sortNet = -1
			}
		}
		next = sortNextGpus(sys, graph, gpuIdx, sortNet)
	}
	for _, g := range next {
		if err := SearchTryGpu(sys, graph, save, step+1, backToNet, backToFirstRank, forcedOrder, t, gRef, sys.GPU(g)); err != nil {
			return err
		}
		if t.Done() {
			return nil
		}
	}
	return nil
}

// sortNextGpus ranks remaining GPUs with the Scorer, honoring sortNet: 1
// when the next step returns to a NIC (inter-NIC scores matter), -1 for the
// degenerate-case reversal, 0 otherwise.
func sortNextGpus(sys *topo.System, graph *topo.Graph, gpuIdx, sortNet int) []int {
	ngpus := sys.NumGPUs()
	flag := uint32(1) << uint(graph.NChannels)

	var netIdx int
	haveNet := sortNet != 0 && graph.NChannels < len(graph.Inter)
	if haveNet {
		id, err := getNetIndex(sys, graph.Inter[graph.NChannels][0])
		if err != nil {
			haveNet = false
		} else {
			netIdx = id
		}
	}

	var cands []scorer.Candidate
	for i := 1; i < ngpus; i++ {
		g := (gpuIdx + i) % ngpus
		p := sys.PathTo(gpuIdx, topo.GPU, g)
		if p == nil || len(p.List) == 0 {
			continue
		}
		if sys.GPU(g).Used&flag != 0 {
			continue
		}
		c := scorer.Candidate{
			GPU:        g,
			StartIndex: i,
			IntraHops:  p.Count,
			IntraBw:    p.Bw,
		}
		if haveNet {
			np := sys.PathFromNIC(netIdx, topo.GPU, g)
			if np != nil {
				c.InterHops = np.Count
				c.InterBw = np.Bw
			}
			c.InterPciBw = gpuPciBw(sys, g)
		}
		cands = append(cands, c)
	}

	reverse := sortNet == -1 && scorer.AllIntraScoresEqual(cands)
	scorer.Sort(cands, reverse)

	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.GPU
	}
	return out
}

func searchBackToNet(sys *topo.System, graph, save *topo.Graph, gpuIdx, step, backToFirstRank int, forcedOrder ForcedOrder, t *Time) error {
	if sys.NumNICs() == 0 {
		return nil
	}
	startNetID := graph.Inter[graph.NChannels][0]
	startNetIdx, err := getNetIndex(sys, startNetID)
	if err != nil {
		return err
	}

	gRef := topo.NodeRef{Type: topo.GPU, Index: gpuIdx}
	nets := netselect.SelectNets(sys, graph.TypeInter, gpuIdx)
	for _, n := range nets {
		nic := sys.NIC(n)
		if graph.Pattern == topo.PatternTree && nic.ID != startNetID {
			continue
		}
		if graph.CrossNic != 1 {
			startNic := sys.NIC(startNetIdx)
			if nic.AsicID != startNic.AsicID || nic.Port != startNic.Port {
				continue
			}
		}

		nextBackToNet := -1
		bwInterSave := graph.BwInter
		if graph.Pattern == topo.PatternBalancedTree {
			if step == 0 {
				nextBackToNet = 1
			} else if nic.ID != graph.Inter[graph.NChannels][1] {
				continue
			}
			graph.BwInter /= 2
		}

		to, ok, err := FollowPath(sys, graph, gRef, topo.NIC, n, 1)
		graph.BwInter = bwInterSave
		if err != nil {
			return err
		}
		if ok && to.Valid() {
			graph.Inter[graph.NChannels][1] = nic.ID
			if err := SearchRecGpu(sys, graph, save, gpuIdx, step, nextBackToNet, backToFirstRank, forcedOrder, t); err != nil {
				return err
			}
			if graph.Pattern == topo.PatternBalancedTree {
				graph.BwInter /= 2
			}
			if _, _, err := FollowPath(sys, graph, gRef, topo.NIC, n, -1); err != nil {
				return err
			}
			graph.BwInter = bwInterSave
		}
		if t.Done() {
			return nil
		}
	}
	return nil
}

func searchCloseRing(sys *topo.System, graph, save *topo.Graph, gpuIdx, step, backToNet int, forcedOrder ForcedOrder, t *Time) error {
	firstRank := graph.Intra[graph.NChannels][0]
	p, err := getGpuIndex(sys, firstRank)
	if err != nil {
		return err
	}
	gRef := topo.NodeRef{Type: topo.GPU, Index: gpuIdx}
	to, ok, err := FollowPath(sys, graph, gRef, topo.GPU, p, 1)
	if err != nil {
		return err
	}
	if ok && to.Valid() {
		if err := SearchRecGpu(sys, graph, save, p, step+1, backToNet, -1, forcedOrder, t); err != nil {
			return err
		}
		if _, _, err := FollowPath(sys, graph, gRef, topo.GPU, p, -1); err != nil {
			return err
		}
	}
	return nil
}

// SearchRecNet iterates NIC candidates as channel entries: for each, it
// charges the shared-(asic,port) bandwidth and decrements MaxChannels, then
// seeds the GPU search with a replay attempt, a short independent-timeout
// PCI-order probe, and a two-pass scan over GPUs at maximum bandwidth and
// minimum hops (first pass excluding already-used GPUs, second including
// them), mirroring the original's avoidance of using a GPU in both
// directions between channels on the first pass.
func SearchRecNet(sys *topo.System, graph, save *topo.Graph, backToNet, backToFirstRank int, t *Time) error {
	bw := graph.BwInter
	nets := netselect.SelectNets(sys, graph.TypeInter, -1)

	for _, n := range nets {
		nic := sys.NIC(n)
		if graph.CollNet != 0 && !nic.CollNet {
			continue
		}
		if nic.LinkSpeed < bw || nic.MaxChannels == 0 {
			continue
		}

		for len(graph.Inter) <= graph.NChannels {
			graph.Inter = append(graph.Inter, [2]int64{-1, -1})
		}
		graph.Inter[graph.NChannels][0] = nic.ID
		graph.LatencyInter = nic.Latency

		chargeSharedNic(sys, nic, -bw)
		nic.MaxChannels--

		if graph.NChannels > 0 {
			g, err := replayGetGpu(sys, graph, -1)
			if err != nil {
				return err
			}
			if err := SearchTryGpu(sys, graph, save, 0, backToNet, backToFirstRank, ForcedOrderReplay, t, topo.NodeRef{Type: topo.NIC, Index: n}, sys.GPU(g)); err != nil {
				return err
			}
		}
		if graph.NChannels == 0 || graph.SameChannels == 0 {
			if graph.NChannels == 0 {
				if err := tryPciOrderSeed(sys, graph, save, n, backToNet, backToFirstRank, t); err != nil {
					return err
				}
			}
			if err := tryClosestGpus(sys, graph, save, n, bw, backToNet, backToFirstRank, t); err != nil {
				return err
			}
		}

		nic.MaxChannels++
		chargeSharedNic(sys, nic, bw)

		if t.Done() {
			return nil
		}
	}
	return nil
}

func chargeSharedNic(sys *topo.System, nic *topo.TopoNode, delta float64) {
	for i := 0; i < sys.NumNICs(); i++ {
		other := sys.NIC(i)
		if other.AsicID == nic.AsicID && other.Port == nic.Port {
			other.LinkSpeed += delta
		}
	}
}

// tryPciOrderSeed always tries the PCI order first to establish a
// reference, using a short independent timeout that does not consume the
// global search budget.
func tryPciOrderSeed(sys *topo.System, graph, save *topo.Graph, n int, backToNet, backToFirstRank int, outer *Time) error {
	f, fGdr := 0, false
	for i := 0; i < sys.NumGPUs(); i++ {
		pi := sys.PathFromNIC(n, topo.GPU, i)
		pf := sys.PathFromNIC(n, topo.GPU, f)
		if pi == nil || pf == nil {
			continue
		}
		gdr := sys.GPU(i).GDR
		if pi.Count < pf.Count || (pi.Count == pf.Count && !fGdr && gdr) {
			f, fGdr = i, gdr
		}
	}

	forced := ForcedOrderNone
	if f == 0 {
		forced = ForcedOrderPCI
	}
	local := NewTime(1 << 10)
	if err := SearchTryGpu(sys, graph, save, 0, backToNet, backToFirstRank, forced, local, topo.NodeRef{Type: topo.NIC, Index: n}, sys.GPU(f)); err != nil {
		return err
	}
	if local.Optimal() {
		outer.StopOptimal()
	}
	return nil
}

func tryClosestGpus(sys *topo.System, graph, save *topo.Graph, n int, bw float64, backToNet, backToFirstRank int, t *Time) error {
	maxBw := 0.0
	minHops := 1 << 30
	for g := 0; g < sys.NumGPUs(); g++ {
		p := sys.PathFromNIC(n, topo.GPU, g)
		if p == nil {
			continue
		}
		if p.Bw > maxBw {
			maxBw, minHops = p.Bw, p.Count
		} else if p.Bw == maxBw && p.Count < minHops {
			minHops = p.Count
		}
	}
	if maxBw < bw {
		return nil
	}

	for tryBidir := 0; tryBidir < 2; tryBidir++ {
		for g := 0; g < sys.NumGPUs(); g++ {
			p := sys.PathFromNIC(n, topo.GPU, g)
			if p == nil || p.Bw != maxBw || p.Count != minHops {
				continue
			}
			gpuUsed := 0
			if gpuPciBw(sys, g) <= 0 {
				gpuUsed = 1
			}
			if tryBidir != gpuUsed {
				continue
			}
			if err := SearchTryGpu(sys, graph, save, 0, backToNet, backToFirstRank, ForcedOrderNone, t, topo.NodeRef{Type: topo.NIC, Index: n}, sys.GPU(g)); err != nil {
				return err
			}
			if t.Done() {
				return nil
			}
		}
	}
	return nil
}
