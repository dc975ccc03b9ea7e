// Package planner implements Compute, the outer driver that runs pattern
// matchers, applies XML overrides and the RINGS env override, and then
// executes the two-pass, multi-axis relaxation search loop over SearchCore.
package planner

import (
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/ccltopo/graphsearch/pkg/metrics"
	"github.com/ccltopo/graphsearch/pkg/patterns"
	"github.com/ccltopo/graphsearch/pkg/search"
	"github.com/ccltopo/graphsearch/pkg/topo"
	"github.com/ccltopo/graphsearch/pkg/topoerr"
	"github.com/ccltopo/graphsearch/pkg/xmlcodec"
)

// speedArrayIntra/speedArrayInter are the descending bandwidth ladders
// Compute steps down through during pass-1 relaxation, seeded from the
// NVLink/PCIe/NET-class speed tables.
var speedArrayIntra = []float64{60, 30, 24, 21, 18, 15, 12, 10, 9, 7, 6, 5, 4, 3}
var speedArrayInter = []float64{48, 30, 28, 24, 20, 18, 15, 12, 10, 9, 7, 6, 3, 2.4}

const (
	globalTimeoutBudget    = 1 << 18
	timeoutDefault         = 1 << 14
	timeoutTree            = 1 << 14
	timeoutSameChannels    = 1 << 8
	degenerateFallbackBw   = 0.1
	duplicationBwThreshold = 25.0
)

// Compute runs the full ten-step Planner contract against system, starting
// from the caller-supplied graph (whose Pattern, MaxChannels and CollNet
// fields seed the search). It always returns a usable *topo.Graph: a
// genuine solution, a pattern-matched layout, an XML override, or (as a
// last resort) a degenerate single-channel fallback.
func Compute(system *topo.System, graph *topo.Graph) (*topo.Graph, error) {
	start := time.Now()
	result, degenerate, err := computeInner(system, graph)
	metrics.ComputeLatency.WithLabelValues(graph.Pattern.String()).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		metrics.ObserveOutcome("error")
	case degenerate:
		metrics.ObserveOutcome("degenerate")
	default:
		metrics.ObserveOutcome("solved")
	}
	return result, err
}

// computeInner runs the ten-step planning contract and reports whether the
// returned graph is the last-resort degenerate fallback.
func computeInner(system *topo.System, graph *topo.Graph) (*topo.Graph, bool, error) {
	ngpus := system.NumGPUs()

	graph.CrossNic = system.Config.CrossNic
	crossNicPermitted := system.NumNICs() > 1 && graph.CrossNic != 0
	graph.BwIntra = 0
	graph.BwInter = 0
	graph.LatencyInter = 0
	if graph.CrossNic == 2 {
		graph.CrossNic = 0
	}
	graph.TypeIntra = topo.PathNVL
	if ngpus == 1 {
		graph.TypeIntra = topo.PathLOC
	}
	graph.TypeInter = topo.PathPIX
	graph.NChannels = 0
	graph.SameChannels = 1
	graph.NIntraChannels = 0

	// Step 1: XML override.
	if system.Config.GraphFile != "" {
		if err := tryXMLOverride(system, graph); err != nil {
			klog.ErrorS(err, "planner: xml override failed, proceeding without it")
		} else if graph.NChannels > 0 {
			expandMultiRank(system, graph)
			return graph, false, nil
		}
	}

	// Step 2/3: RINGS env override, else pattern matchers.
	if system.Config.Rings != "" {
		if ok := tryRingsOverride(system, graph); ok {
			system.ServerShape = "rome4p2h"
		}
	} else if !system.Config.ModelMatchingDisable && graph.CollNet == 0 {
		for _, m := range patterns.Matchers {
			if m(system, graph) && graph.NChannels > 0 {
				break
			}
		}
	}
	if graph.NChannels > 0 {
		expandMultiRank(system, graph)
		return graph, false, nil
	}

	// Step 4: single-host Rome-ring cap; ngpus==1 forces TREE.
	if graph.Pattern == topo.PatternRing && system.ServerShape == "rome4p2h" && ngpus == system.NRanks {
		if graph.MaxChannels > 2 {
			graph.MaxChannels = 2
		}
	}
	if ngpus == 1 {
		graph.Pattern = topo.PatternTree
	}

	// Step 5: seed the work graph and the speed ladder.
	speedArray := speedArrayIntra
	if system.NumNICs() > 0 {
		speedArray = speedArrayInter
	}
	speedIndex := 0
	for speedArray[speedIndex] > system.MaxBw && speedIndex < len(speedArray)-1 {
		speedIndex++
	}

	work := graph.Clone()
	work.BwIntra = speedArray[speedIndex]
	work.BwInter = speedArray[speedIndex]

	globalTimeout := globalTimeoutBudget
	pass := 1

	// Step 6/7: the unified two-pass relaxation loop. Pass 1 walks a fixed
	// order of relaxation axes (sameChannels, typeIntra, typeInter,
	// crossNic, pattern, speed) each time a search attempt fails to reach
	// an optimal or bandwidth-sufficient result; once the axis chain is
	// exhausted (or the global budget runs out with a usable solution
	// already in hand), pass 2 takes over and, for non-ring patterns, raises
	// bwIntra one speed step at a time while it stays below twice bwInter.
	for {
		budget := attemptBudget(work)
		work.NChannels = 0
		globalTimeout -= budget
		t := search.NewTime(budget)
		if err := search.SearchRec(system, work, graph, t); err != nil {
			return nil, false, fmt.Errorf("planner: %w", err)
		}
		effTime := t.Remaining()

		optimalOrSufficient := t.Optimal() || float64(graph.NChannels)*graph.BwInter >= system.TotalBw

		if pass == 1 && !optimalOrSufficient {
			if relaxNext(work, graph, system, speedArray, &speedIndex, &globalTimeout, crossNicPermitted, t, ngpus) {
				continue
			}
		}

		if pass == 1 {
			effTime = -1
			work.CopyFrom(graph)
			speedIndex = 0
			for speedArray[speedIndex] > graph.BwInter && speedIndex < len(speedArray)-1 {
				speedIndex++
			}
			work.BwIntra = speedArray[speedIndex]
			work.BwInter = speedArray[speedIndex]
			work.MinChannels = graph.NChannels
			pass = 2
		}

		if pass == 2 {
			if effTime != 0 && graph.Pattern != topo.PatternRing &&
				work.BwIntra == graph.BwIntra && work.BwIntra < work.BwInter*2 && speedIndex > 0 {
				speedIndex--
				work.BwIntra = speedArray[speedIndex]
				continue
			}
			break
		}
	}
	save := graph
	degenerate := false

	// Step 8: degenerate fallback.
	if save.NChannels == 0 && graph.CollNet == 0 {
		klog.Warningf("planner: no solution found within budget, falling back to degenerate single channel")
		save = degenerateGraph(system, graph)
		degenerate = true
	}

	// Step 9: channel duplication.
	if save.BwIntra >= duplicationBwThreshold {
		duplicateChannels(save)
	}

	// Step 10: multi-rank-per-GPU expansion.
	expandMultiRank(system, save)

	if system.Config.GraphDumpFile != "" {
		if err := dumpGraph(system, save); err != nil {
			klog.ErrorS(err, "planner: failed to dump computed graph")
		}
	}

	return save, degenerate, nil
}

// attemptBudget mirrors the original's per-attempt budget selection:
// same-channels runs get the smallest budget, a strict TREE search (not
// SPLIT_TREE or BALANCED_TREE) gets the tree budget, everything else gets
// the default.
func attemptBudget(g *topo.Graph) int {
	switch {
	case g.SameChannels != 0:
		return timeoutSameChannels
	case g.Pattern == topo.PatternTree:
		return timeoutTree
	default:
		return timeoutDefault
	}
}

// relaxNext advances work by exactly one step along the fixed relaxation
// axis order (sameChannels, typeIntra, typeInter, crossNic, pattern,
// speed), returning true if a retry is warranted. Each axis either takes
// the relaxation step and returns true, or resets itself to its baseline
// and falls through to let the next axis decide.
func relaxNext(work, save *topo.Graph, system *topo.System, speedArray []float64, speedIndex *int, globalTimeout *int, crossNicPermitted bool, t *search.Time, ngpus int) bool {
	if work.SameChannels == 1 {
		work.SameChannels = 0
		return true
	}
	work.SameChannels = 1

	*globalTimeout += t.Remaining()
	if *globalTimeout < 0 && save.NChannels > 0 {
		return false
	}

	maxTypeIntra := topo.PathSYS
	if system.NumNICs() > 0 {
		maxTypeIntra = work.TypeInter
	}
	if work.TypeIntra < maxTypeIntra && (save.NChannels == 0 || work.TypeIntra < save.TypeIntra) {
		work.TypeIntra++
		return true
	}
	work.TypeIntra = topo.PathNVL
	if ngpus == 1 {
		work.TypeIntra = topo.PathLOC
	}

	if system.NumNICs() > 0 && work.TypeInter < topo.PathSYS &&
		(save.NChannels == 0 || work.TypeInter < save.TypeInter || work.TypeInter < topo.PathPXN) {
		work.TypeInter++
		return true
	}
	work.TypeInter = topo.PathPIX

	if crossNicPermitted && work.CrossNic == 0 {
		work.CrossNic = 1
		return true
	}
	work.CrossNic = 0

	if work.Pattern == topo.PatternSplitTree {
		work.Pattern = topo.PatternTree
		return true
	}
	work.Pattern = save.Pattern

	if *speedIndex < len(speedArray)-1 && (save.NChannels == 0 || speedArray[*speedIndex+1]/save.BwInter > 0.49) {
		*speedIndex++
		work.BwInter = speedArray[*speedIndex]
		work.BwIntra = speedArray[*speedIndex]
		return true
	}
	*speedIndex = 0
	for speedArray[*speedIndex] > system.MaxBw && *speedIndex < len(speedArray)-1 {
		*speedIndex++
	}
	work.BwIntra = speedArray[*speedIndex]
	work.BwInter = speedArray[*speedIndex]
	return false
}

func tryXMLOverride(system *topo.System, graph *topo.Graph) error {
	data, err := os.ReadFile(system.Config.GraphFile)
	if err != nil {
		return fmt.Errorf("planner: %w: %v", topoerr.ErrInvalidInput, err)
	}
	return xmlcodec.Unmarshal(system, data, []*topo.Graph{graph})
}

// tryRingsOverride parses a user-supplied NCCL_RINGS-style textual ring
// specification ("0 1 2 3|1 2 3 0") into single-channel rings. Malformed
// rings are rejected and the planner proceeds without the override.
func tryRingsOverride(system *topo.System, graph *topo.Graph) bool {
	spec := system.Config.Rings
	if spec == "" {
		return false
	}
	chans := splitRings(spec)
	if len(chans) == 0 {
		return false
	}
	ngpus := system.NumGPUs()
	for _, ring := range chans {
		if len(ring) != ngpus {
			return false
		}
	}
	graph.Pattern = topo.PatternRing
	graph.NChannels = len(chans)
	graph.Intra = chans
	graph.Inter = make([][2]int64, len(chans))
	for i := range graph.Inter {
		graph.Inter[i] = [2]int64{-1, -1}
	}
	return true
}

func splitRings(spec string) [][]int {
	var out [][]int
	var cur []int
	var num int
	haveNum := false
	flush := func() {
		if haveNum {
			cur = append(cur, num)
			num = 0
			haveNum = false
		}
	}
	for _, ch := range spec {
		switch {
		case ch >= '0' && ch <= '9':
			num = num*10 + int(ch-'0')
			haveNum = true
		case ch == ' ':
			flush()
		case ch == '|':
			flush()
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = nil
		default:
			return nil
		}
	}
	flush()
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func degenerateGraph(system *topo.System, graph *topo.Graph) *topo.Graph {
	ngpus := system.NumGPUs()
	order := make([]int, ngpus)
	for i := 0; i < ngpus; i++ {
		rank := i
		gpu := system.GPU(i)
		if len(gpu.Ranks) > 0 {
			rank = gpu.Ranks[0]
		}
		order[i] = rank
	}
	g := topo.NewGraph(graph.MaxChannels)
	g.Pattern = topo.PatternRing
	g.NChannels = 1
	g.MinChannels = graph.MinChannels
	g.Intra = [][]int{order}
	g.Inter = [][2]int64{{-1, -1}}
	g.BwIntra = degenerateFallbackBw
	g.BwInter = degenerateFallbackBw
	g.TypeIntra = topo.PathSYS
	g.TypeInter = topo.PathSYS
	return g
}

// duplicateChannels doubles the channel count once, capped at MaxChannels,
// copying the first (dupChannels-base) channels after the existing ones and
// dividing bandwidth by ceil(dupChannels/base) (1 or 2, never more, since
// dupChannels never exceeds 2*base).
func duplicateChannels(g *topo.Graph) {
	base := g.NChannels
	if base == 0 {
		return
	}
	dup := base * 2
	if dup > g.MaxChannels {
		dup = g.MaxChannels
	}
	if dup <= base {
		return
	}
	extra := dup - base
	for i := 0; i < extra; i++ {
		g.Intra = append(g.Intra, append([]int(nil), g.Intra[i]...))
		g.Inter = append(g.Inter, g.Inter[i])
	}
	divisor := (dup + base - 1) / base
	g.NChannels = dup
	g.BwIntra /= float64(divisor)
	g.BwInter /= float64(divisor)
}

// expandMultiRank substitutes, for every rank slot in intra[], the full
// sequence of ranks hosted by that GPU when more than one rank shares a
// single device (multi-rank-per-GPU configurations).
func expandMultiRank(system *topo.System, g *topo.Graph) {
	multi := false
	for i := 0; i < system.NumGPUs(); i++ {
		if len(system.GPU(i).Ranks) > 1 {
			multi = true
			break
		}
	}
	if !multi {
		return
	}
	devToRanks := make(map[int][]int, system.NumGPUs())
	for i := 0; i < system.NumGPUs(); i++ {
		gpu := system.GPU(i)
		devToRanks[gpu.Dev] = gpu.Ranks
	}
	rankToDev := make(map[int]int)
	for i := 0; i < system.NumGPUs(); i++ {
		gpu := system.GPU(i)
		for _, r := range gpu.Ranks {
			rankToDev[r] = gpu.Dev
		}
	}
	for c := range g.Intra {
		var expanded []int
		for _, rank := range g.Intra[c] {
			dev, ok := rankToDev[rank]
			if !ok {
				expanded = append(expanded, rank)
				continue
			}
			expanded = append(expanded, devToRanks[dev]...)
		}
		g.Intra[c] = expanded
	}
}

func dumpGraph(system *topo.System, g *topo.Graph) error {
	data, err := xmlcodec.Marshal(system, []*topo.Graph{g})
	if err != nil {
		return err
	}
	return os.WriteFile(system.Config.GraphDumpFile, data, 0o644)
}

// ComputeWithDeadline runs Compute with a wall-clock ceiling, for callers
// that want to bound total latency regardless of the search's own
// countdown-based budget.
func ComputeWithDeadline(system *topo.System, graph *topo.Graph, deadline time.Duration) (*topo.Graph, error) {
	type result struct {
		g   *topo.Graph
		err error
	}
	done := make(chan result, 1)
	go func() {
		g, err := Compute(system, graph)
		done <- result{g, err}
	}()
	select {
	case r := <-done:
		return r.g, r.err
	case <-time.After(deadline):
		return nil, fmt.Errorf("planner: %w: exceeded deadline %s", topoerr.ErrInternal, deadline)
	}
}
