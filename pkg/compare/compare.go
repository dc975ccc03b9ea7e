// Package compare decides whether a newly completed candidate graph
// supersedes the best-so-far, and provides the XGMI/NVLink adjacency count
// used as its final tiebreaker.
package compare

import "github.com/ccltopo/graphsearch/pkg/topo"

// Supersedes reports whether candidate should replace ref as the
// best-so-far, per the four-step rule:
//  1. reject if candidate.NChannels < candidate.MinChannels.
//  2. higher NChannels * BwIntra wins outright.
//  3. on an exact tie of that product, equal pattern and equal CrossNic,
//     fewer total hops wins.
//  4. a further tie, with equal NChannels, is broken by whichever graph has
//     more same-host XGMI/NVLink-typed adjacencies in the ring.
func Supersedes(sys *topo.System, candidate, ref *topo.Graph) bool {
	if candidate.NChannels < candidate.MinChannels {
		return false
	}

	candScore := float64(candidate.NChannels) * candidate.BwIntra
	refScore := float64(ref.NChannels) * ref.BwIntra
	if candScore < refScore {
		return false
	}
	if candScore > refScore {
		return true
	}

	copy := false
	if candidate.Pattern == ref.Pattern && candidate.CrossNic == ref.CrossNic && candidate.NHops < ref.NHops {
		copy = true
	}
	if candidate.NChannels == ref.NChannels && CountXGMI(sys, ref) < CountXGMI(sys, candidate) {
		copy = true
	}
	return copy
}

// CountXGMI counts, across every channel and every ring adjacency, how many
// consecutive GPU pairs are connected by a single-hop NVLink/XGMI path.
// Reimplemented literally: it counts at most one adjacency per link pair
// even when the precomputed path list holds multiple parallel paths between
// the same two GPUs, since that is the original's observed (if accidental)
// behavior rather than an intentional dedup rule.
func CountXGMI(sys *topo.System, graph *topo.Graph) int {
	ngpus := sys.NumGPUs()
	if ngpus == 0 {
		return 0
	}
	count := 0
	for c := 0; c < graph.NChannels && c < len(graph.Intra); c++ {
		ring := graph.Intra[c]
		for i := range ring {
			rankG := ring[i]
			rankN := ring[(i+1)%len(ring)]
			if isSingleHopNVLink(sys, rankG, rankN) {
				count++
			}
		}
	}
	return count
}

// isSingleHopNVLink resolves rankG/rankN to their hosting GPU indices and
// reports whether some single-hop path from rankG's GPU lands on rankN's
// GPU via an NVLink-typed link.
func isSingleHopNVLink(sys *topo.System, rankG, rankN int) bool {
	g, ok := gpuIndexForRank(sys, rankG)
	if !ok {
		return false
	}
	ngpus := sys.NumGPUs()
	for k := 0; k < ngpus; k++ {
		p := sys.PathTo(g, topo.GPU, k)
		if p == nil || len(p.List) != 1 {
			continue
		}
		link := sys.Link(p.List[0])
		if link.Type != topo.LinkNVL {
			continue
		}
		remote := sys.Node(link.RemNode)
		if remote == nil {
			continue
		}
		for _, r := range remote.Ranks {
			if r == rankN {
				return true
			}
		}
	}
	return false
}

func gpuIndexForRank(sys *topo.System, rank int) (int, bool) {
	for j := 0; j < sys.NumGPUs(); j++ {
		for _, r := range sys.GPU(j).Ranks {
			if r == rank {
				return j, true
			}
		}
	}
	return 0, false
}
