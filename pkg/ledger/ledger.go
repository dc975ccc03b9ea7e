// Package ledger tracks residual bandwidth on every directed link and
// applies or reverts charges along a precomputed path, accounting for the
// Intel-PCIe P2P overhead, the NVLink-to-CPU reverse charge and the
// older-GPU reverse charge named in the path-follower contract.
package ledger

import (
	"fmt"
	"math"

	"github.com/ccltopo/graphsearch/pkg/topo"
	"github.com/ccltopo/graphsearch/pkg/topoerr"
)

// Named constants grounded on the original's #define constants.
const (
	minNvlinkCompCap = 80 // GPUs below this compute capability take a reverse charge
)

// intelP2POverhead scales the forward bandwidth of a PCI hop that transits
// an Intel x86 CPU root complex as a P2P relay.
func intelP2POverhead(bw float64) float64 {
	return bw * 0.85
}

// roundMilli rounds to three decimal places, the sole defense against
// float drift across repeated symmetric charge/refund cycles.
func roundMilli(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Charge subtracts delta from link.Bw with milli rounding. Passing a
// negative delta refunds.
func charge(link *topo.TopoLink, delta float64) {
	link.Bw = roundMilli(link.Bw - delta)
}

// Follow attempts to charge bw along path starting at startRef, up to
// maxSteps hops. It returns the number of hops actually committed. Passing
// a negative bw refunds exactly what a prior positive-bw call of the same
// prefix length charged, which is the sole rollback mechanism: there are no
// snapshots.
func Follow(sys *topo.System, path *topo.Path, startRef topo.NodeRef, maxSteps int, bw float64) (int, error) {
	if maxSteps > len(path.List) {
		maxSteps = len(path.List)
	}

	// Determine whether any hop crosses an Intel x86 CPU root complex as a
	// P2P transit; if so every PCI hop on this path is charged at the
	// scaled rate, matching the original's single path-wide pciBw value
	// rather than a per-hop recomputation.
	pciBw := bw
	for _, lid := range path.List {
		link := sys.Link(lid)
		remote := sys.Node(link.RemNode)
		if remote != nil && remote.Type == topo.CPU &&
			path.Type == topo.PathPHB &&
			startRef.Type == topo.GPU &&
			remote.Arch == topo.CPUArchX86 &&
			remote.Vendor == topo.CPUVendorIntel {
			pciBw = intelP2POverhead(bw)
		}
	}

	node := startRef
	for step := 0; step < maxSteps; step++ {
		lid := path.List[step]
		link := sys.Link(lid)

		fwBw := bw
		if link.Type == topo.LinkPCI {
			fwBw = pciBw
		}

		var revLinkID topo.LinkID = topo.InvalidID
		revBw := 0.0

		remote := sys.Node(link.RemNode)
		if remote.Type == topo.GPU && remote.CompCap < minNvlinkCompCap && startRef.Type != topo.GPU {
			rl, ok := sys.FindRevLink(node, link.RemNode)
			if !ok {
				return step, fmt.Errorf("ledger: %w: no reverse link %v -> %v", topoerr.ErrInternal, node, link.RemNode)
			}
			revLinkID = rl
			revBw += fwBw / 8
		}
		if remote.Type == topo.CPU && link.Type == topo.LinkNVL {
			rl, ok := sys.FindRevLink(node, link.RemNode)
			if !ok {
				return step, fmt.Errorf("ledger: %w: no reverse link %v -> %v", topoerr.ErrInternal, node, link.RemNode)
			}
			revLinkID = rl
			revBw += fwBw
		}

		var revLink *topo.TopoLink
		if revLinkID != topo.InvalidID {
			revLink = sys.Link(revLinkID)
		}

		if link.Bw < fwBw || (revBw != 0 && revLink.Bw < revBw) {
			return step, nil
		}

		charge(link, fwBw)
		if revBw != 0 {
			charge(revLink, revBw)
		}
		node = link.RemNode
	}
	return maxSteps, nil
}

// Unfollow reverses exactly `steps` hops of a prior Follow(..., bw) call by
// re-invoking Follow with the negated bandwidth and the same prefix length.
// This is the only rollback mechanism the ledger provides.
func Unfollow(sys *topo.System, path *topo.Path, startRef topo.NodeRef, steps int, bw float64) error {
	got, err := Follow(sys, path, startRef, steps, -bw)
	if err != nil {
		return err
	}
	if got != steps {
		return fmt.Errorf("ledger: %w: rollback committed %d of %d hops", topoerr.ErrInternal, got, steps)
	}
	return nil
}
