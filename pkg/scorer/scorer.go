// Package scorer implements the strict lexicographic comparator over
// candidate next-GPU choices used by SearchCore to order its search tree.
package scorer

import "sort"

// Candidate holds the six-key score for one candidate GPU, named and
// ordered exactly as the comparator consumes them: earlier fields are more
// important than later ones.
type Candidate struct {
	GPU int // the candidate GPU index, retained through the sort

	InterBw    float64 // 1. inter-NIC bandwidth, higher wins
	InterPciBw float64 // 2. GPU-to-root PCIe bandwidth, higher wins
	InterHops  int     // 3. inter-NIC hop count, lower wins
	IntraBw    float64 // 4. intra-GPU bandwidth, higher wins
	IntraHops  int     // 5. intra-GPU hop count, lower wins
	StartIndex int     // 6. starting index, lower wins (tie-breaker)
}

// Sort orders candidates best-first according to the six-key lexicographic
// rule. If reverse is true the final order is reversed, matching the
// degenerate-case behavior where allIntraScoresEqual && sortNet == -1.
func Sort(cands []Candidate, reverse bool) {
	sort.SliceStable(cands, func(i, j int) bool {
		return less(cands[i], cands[j])
	})
	if reverse {
		for i, j := 0, len(cands)-1; i < j; i, j = i+1, j-1 {
			cands[i], cands[j] = cands[j], cands[i]
		}
	}
}

// less reports whether a ranks strictly ahead of b.
func less(a, b Candidate) bool {
	if a.InterBw != b.InterBw {
		return a.InterBw > b.InterBw
	}
	if a.InterPciBw != b.InterPciBw {
		return a.InterPciBw > b.InterPciBw
	}
	if a.InterHops != b.InterHops {
		return a.InterHops < b.InterHops
	}
	if a.IntraBw != b.IntraBw {
		return a.IntraBw > b.IntraBw
	}
	if a.IntraHops != b.IntraHops {
		return a.IntraHops < b.IntraHops
	}
	return a.StartIndex < b.StartIndex
}

// AllIntraScoresEqual reports whether every candidate shares the same
// (IntraBw, IntraHops) pair, the degenerate case in which forward order is
// arbitrary and the caller may choose to explore in reverse instead.
func AllIntraScoresEqual(cands []Candidate) bool {
	if len(cands) == 0 {
		return true
	}
	bw, hops := cands[0].IntraBw, cands[0].IntraHops
	for _, c := range cands[1:] {
		if c.IntraBw != bw || c.IntraHops != hops {
			return false
		}
	}
	return true
}
