// Package query implements the two PostSearch lookups that run at runtime
// against an already-computed graph: GetNetDev (which NIC to use for a
// given rank/channel, honoring PXN proxy policy) and GetLinkType
// (whether two GPUs are XGMI/NVLink-connected, directly or through a
// bounded chain of intermediate GPUs).
package query

import (
	"fmt"

	"github.com/ccltopo/graphsearch/pkg/topo"
	"github.com/ccltopo/graphsearch/pkg/topoerr"
)

// MaxXGMIInterGPUs bounds the depth of the intermediate-GPU chain
// GetLinkType is willing to walk.
const MaxXGMIInterGPUs = 2

// NetDevResult is what GetNetDev resolves: which NIC device id to use, and
// which rank actually owns it (the proxy rank under PXN).
type NetDevResult struct {
	Dev       int64
	ProxyRank int
}

// GetNetDev honors the NIC recorded in the computed graph for this
// rank/channel. If rank started the channel (its rank equals the channel's
// first intra entry) the entry NIC is used, otherwise the exit NIC.
func GetNetDev(system *topo.System, graph *topo.Graph, channelID, rank int) (NetDevResult, error) {
	if graph.NChannels == 0 {
		return NetDevResult{}, fmt.Errorf("query: %w: graph has no channels", topoerr.ErrInvalidInput)
	}
	channel := channelID % graph.NChannels
	if channel >= len(graph.Intra) || len(graph.Intra[channel]) == 0 {
		return NetDevResult{}, fmt.Errorf("query: %w: channel %d has no intra entries", topoerr.ErrInvalidInput, channel)
	}
	index := 1
	if graph.Intra[channel][0] == rank {
		index = 0
	}
	dev := graph.Inter[channel][index]

	proxyRank, err := intermediateRank(system, rank, dev)
	if err != nil {
		return NetDevResult{}, err
	}
	return NetDevResult{Dev: dev, ProxyRank: proxyRank}, nil
}

// intermediateRank resolves the PXN proxy rank for a rank/dev pair,
// honoring P2PPXNLevel: 0 disables proxying entirely (rank serves its own
// NIC), 1 proxies only when the rank's own path to dev is worse than PXN, 2
// always prefers any node-local GPU with an NVLink path to the rank's GPU
// and a PXB-or-better path to the NIC.
func intermediateRank(system *topo.System, rank int, dev int64) (int, error) {
	level := system.Config.P2PPXNLevel
	if level == 0 {
		return rank, nil
	}

	g, err := gpuIndexForRank(system, rank)
	if err != nil {
		return rank, err
	}
	n, err := nicIndexForDev(system, dev)
	if err != nil {
		return rank, err
	}

	if level == 1 {
		p := system.PathTo(g, topo.NIC, n)
		if p != nil && p.Type <= topo.PathPXN {
			return rank, nil
		}
	}

	// level == 2 (or level 1 with a path worse than PXN): look for a node-local GPU with an NVLink-or-better path
	// to this GPU and a PXB-or-better path to the NIC, and proxy through
	// it instead.
	for g2 := 0; g2 < system.NumGPUs(); g2++ {
		if g2 == g {
			continue
		}
		toSelf := system.PathTo(g2, topo.GPU, g)
		toNic := system.PathTo(g2, topo.NIC, n)
		if toSelf != nil && toSelf.Type <= topo.PathNVL && toNic != nil && toNic.Type <= topo.PathPXB {
			peer := system.GPU(g2)
			if len(peer.Ranks) > 0 {
				return peer.Ranks[0], nil
			}
		}
	}
	return rank, nil
}

func gpuIndexForRank(system *topo.System, rank int) (int, error) {
	for i := 0; i < system.NumGPUs(); i++ {
		for _, r := range system.GPU(i).Ranks {
			if r == rank {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("query: %w: rank %d not found", topoerr.ErrInternal, rank)
}

func nicIndexForDev(system *topo.System, dev int64) (int, error) {
	for i := 0; i < system.NumNICs(); i++ {
		if system.NIC(i).ID == dev {
			return i, nil
		}
	}
	return 0, fmt.Errorf("query: %w: nic dev %d not found", topoerr.ErrInternal, dev)
}

// GetLinkType reports whether two GPUs (by device index) are connected by
// NVLink/XGMI, either directly (a single-hop path) or through a chain of up
// to MaxXGMIInterGPUs intermediate GPUs each themselves NVLink-connected to
// the next.
func GetLinkType(system *topo.System, devA, devB int) (bool, error) {
	return linkTypeChain(system, devA, devB, MaxXGMIInterGPUs)
}

func linkTypeChain(system *topo.System, devA, devB, depth int) (bool, error) {
	direct, err := directXGMI(system, devA, devB)
	if err != nil {
		return false, err
	}
	if direct {
		return true, nil
	}
	if depth <= 0 {
		return false, nil
	}
	for mid := 0; mid < system.NumGPUs(); mid++ {
		midDev := system.GPU(mid).Dev
		if midDev == devA || midDev == devB {
			continue
		}
		toMid, err := directXGMI(system, devA, midDev)
		if err != nil || !toMid {
			continue
		}
		fromMid, err := linkTypeChain(system, midDev, devB, depth-1)
		if err == nil && fromMid {
			return true, nil
		}
	}
	return false, nil
}

func directXGMI(system *topo.System, devA, devB int) (bool, error) {
	gA := -1
	for i := 0; i < system.NumGPUs(); i++ {
		if system.GPU(i).Dev == devA {
			gA = i
			break
		}
	}
	if gA == -1 {
		return false, fmt.Errorf("query: %w: dev %d not found", topoerr.ErrInternal, devA)
	}
	for k := 0; k < system.NumGPUs(); k++ {
		p := system.PathTo(gA, topo.GPU, k)
		if p == nil || len(p.List) != 1 {
			continue
		}
		link := system.Link(p.List[0])
		remote := system.Node(link.RemNode)
		if remote != nil && remote.Dev == devB {
			return link.Type == topo.LinkNVL, nil
		}
	}
	return false, nil
}
