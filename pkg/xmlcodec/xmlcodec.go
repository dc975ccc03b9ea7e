// Package xmlcodec round-trips channel layouts to and from the declarative
// XML form used for user overrides and diagnostic dumps, via
// encoding/xml, with a kvDict-style path-type name translation.
package xmlcodec

import (
	"encoding/xml"
	"fmt"

	"github.com/ccltopo/graphsearch/pkg/topo"
	"github.com/ccltopo/graphsearch/pkg/topoerr"
)

// xmlGraphs is the root <graphs version=N> element.
type xmlGraphs struct {
	XMLName xml.Name   `xml:"graphs"`
	Version int        `xml:"version,attr"`
	Graphs  []xmlGraph `xml:"graph"`
}

type xmlGraph struct {
	ID           int        `xml:"id,attr"`
	Pattern      int        `xml:"pattern,attr"`
	CrossNic     int        `xml:"crossnic,attr"`
	NChannels    int        `xml:"nchannels,attr"`
	SpeedIntra   float64    `xml:"speedintra,attr"`
	SpeedInter   float64    `xml:"speedinter,attr"`
	LatencyInter float64    `xml:"latencyinter,attr"`
	TypeIntra    string     `xml:"typeintra,attr"`
	TypeInter    string     `xml:"typeinter,attr"`
	SameChannels int        `xml:"samechannels,attr"`
	Channels     []xmlChann `xml:"channel"`
}

type xmlChann struct {
	Nets []xmlNet `xml:"net"`
	GPUs []xmlGPU `xml:"gpu"`
}

type xmlNet struct {
	Dev int64 `xml:"dev,attr"`
}

type xmlGPU struct {
	Dev int `xml:"dev,attr"`
}

const graphXMLVersion = 1

// Marshal encodes graphs into the <graphs version=N> XML document.
func Marshal(system *topo.System, graphs []*topo.Graph) ([]byte, error) {
	doc := xmlGraphs{Version: graphXMLVersion}
	for _, g := range graphs {
		xg, err := toXML(system, g)
		if err != nil {
			return nil, err
		}
		doc.Graphs = append(doc.Graphs, xg)
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("xmlcodec: %w", err)
	}
	return out, nil
}

func toXML(system *topo.System, g *topo.Graph) (xmlGraph, error) {
	xg := xmlGraph{
		ID:           g.ID,
		Pattern:      int(g.Pattern),
		CrossNic:     g.CrossNic,
		NChannels:    g.NChannels,
		SpeedIntra:   g.BwIntra,
		SpeedInter:   g.BwInter,
		LatencyInter: g.LatencyInter,
		TypeIntra:    g.TypeIntra.String(),
		TypeInter:    g.TypeInter.String(),
		SameChannels: g.SameChannels,
	}
	for c := 0; c < g.NChannels; c++ {
		xc := xmlChann{}
		hasNet := system.NumNICs() > 0 && c < len(g.Inter)
		if hasNet {
			xc.Nets = append(xc.Nets, xmlNet{Dev: g.Inter[c][0]})
		}
		for _, rank := range g.Intra[c] {
			dev, err := devForRank(system, rank)
			if err != nil {
				return xmlGraph{}, err
			}
			xc.GPUs = append(xc.GPUs, xmlGPU{Dev: dev})
		}
		if hasNet {
			xc.Nets = append(xc.Nets, xmlNet{Dev: g.Inter[c][1]})
		}
		xg.Channels = append(xg.Channels, xc)
	}
	return xg, nil
}

func devForRank(system *topo.System, rank int) (int, error) {
	for i := 0; i < system.NumGPUs(); i++ {
		for _, r := range system.GPU(i).Ranks {
			if r == rank {
				return system.GPU(i).Dev, nil
			}
		}
	}
	return 0, fmt.Errorf("xmlcodec: %w: rank %d not found", topoerr.ErrInternal, rank)
}

// Unmarshal parses an XML document into graphs matching the given system,
// honoring the kvDict path-type name translation for typeintra/typeinter.
// A graph element whose id does not match any of want is skipped; a
// crossnic=1 override is rejected when the corresponding graph's CrossNic
// is 0 (forbidden), matching the original's refusal to relax a forbidding
// override.
func Unmarshal(system *topo.System, data []byte, want []*topo.Graph) error {
	var doc xmlGraphs
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("xmlcodec: %w: %v", topoerr.ErrInvalidInput, err)
	}
	byID := make(map[int]*topo.Graph, len(want))
	for _, g := range want {
		byID[g.ID] = g
	}
	for _, xg := range doc.Graphs {
		g, ok := byID[xg.ID]
		if !ok {
			continue
		}
		if g.CrossNic == 0 && xg.CrossNic == 1 {
			continue
		}
		if err := fromXML(system, g, xg); err != nil {
			return err
		}
	}
	return nil
}

func fromXML(system *topo.System, g *topo.Graph, xg xmlGraph) error {
	g.CrossNic = xg.CrossNic
	g.Pattern = topo.Pattern(xg.Pattern)
	g.NChannels = xg.NChannels
	g.BwIntra = xg.SpeedIntra
	g.BwInter = xg.SpeedInter
	g.LatencyInter = xg.LatencyInter
	g.SameChannels = xg.SameChannels

	ti, ok := topo.ParsePathType(xg.TypeIntra)
	if !ok {
		return fmt.Errorf("xmlcodec: %w: unknown typeintra %q", topoerr.ErrInvalidInput, xg.TypeIntra)
	}
	g.TypeIntra = ti
	te, ok := topo.ParsePathType(xg.TypeInter)
	if !ok {
		return fmt.Errorf("xmlcodec: %w: unknown typeinter %q", topoerr.ErrInvalidInput, xg.TypeInter)
	}
	g.TypeInter = te

	ngpus := system.NumGPUs()
	g.Intra = make([][]int, len(xg.Channels))
	g.Inter = make([][2]int64, len(xg.Channels))
	for c, xc := range xg.Channels {
		ring := make([]int, 0, ngpus)
		for _, xgpu := range xc.GPUs {
			rank, err := rankForDev(system, xgpu.Dev)
			if err != nil {
				return err
			}
			ring = append(ring, rank)
		}
		g.Intra[c] = ring
		g.Inter[c] = [2]int64{-1, -1}
		if len(xc.Nets) > 0 {
			g.Inter[c][0] = xc.Nets[0].Dev
		}
		if len(xc.Nets) > 1 {
			g.Inter[c][1] = xc.Nets[1].Dev
		}
	}
	g.NChannels = len(xg.Channels)
	return nil
}

func rankForDev(system *topo.System, dev int) (int, error) {
	for i := 0; i < system.NumGPUs(); i++ {
		gpu := system.GPU(i)
		if gpu.Dev == dev && len(gpu.Ranks) > 0 {
			return gpu.Ranks[0], nil
		}
	}
	return 0, fmt.Errorf("xmlcodec: %w: dev %d not found", topoerr.ErrInvalidInput, dev)
}
