/*
Copyright 2022 The Koordinator Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command toposearch runs Planner.Compute against a discovered topology
// loaded from a JSON description file, printing or dumping the resulting
// graphs for offline use.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/ccltopo/graphsearch/pkg/cache"
	"github.com/ccltopo/graphsearch/pkg/config"
	"github.com/ccltopo/graphsearch/pkg/debugsvc"
	"github.com/ccltopo/graphsearch/pkg/metrics"
	"github.com/ccltopo/graphsearch/pkg/planner"
	"github.com/ccltopo/graphsearch/pkg/topo"
	"github.com/ccltopo/graphsearch/pkg/xmlcodec"
)

func main() {
	var topologyFile string
	var outputFile string
	var maxChannels int
	var pattern string
	var deadline time.Duration
	var listenAddr string

	cfg := config.FromEnv()
	fs := pflag.NewFlagSet("toposearch", pflag.ExitOnError)
	fs.StringVar(&topologyFile, "topology-file", "", "path to a JSON-encoded discovered topology")
	fs.StringVar(&outputFile, "output", "", "path to write the computed graph as XML (defaults to stdout summary)")
	fs.IntVar(&maxChannels, "max-channels", 2, "maximum channels to search for")
	fs.StringVar(&pattern, "pattern", "RING", "initial pattern: RING, TREE, SPLIT_TREE, BALANCED_TREE")
	fs.DurationVar(&deadline, "deadline", 30*time.Second, "wall-clock ceiling for the compute call")
	fs.StringVar(&listenAddr, "listen-addr", "", "if set, serve the debug API and /metrics on this address after computing")
	config.BindFlags(fs, &cfg)
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 || args[0] != "compute" {
		fmt.Fprintln(os.Stderr, "usage: toposearch compute --topology-file=<path> [flags]")
		os.Exit(2)
	}

	if topologyFile == "" {
		klog.ErrorS(nil, "toposearch: --topology-file is required")
		os.Exit(1)
	}

	system, err := loadSystem(topologyFile, cfg)
	if err != nil {
		klog.ErrorS(err, "toposearch: failed to load topology")
		os.Exit(1)
	}

	graph := topo.NewGraph(maxChannels)
	graph.Pattern = parsePattern(pattern)

	computeCache := cache.New(planner.Compute)
	svc := debugsvc.New(computeCache)

	result, err := computeWithDeadline(computeCache.Compute, system, graph, deadline)
	if err != nil {
		klog.ErrorS(err, "toposearch: compute failed")
		os.Exit(1)
	}
	svc.SetLastGraphs([]*topo.Graph{result})

	klog.InfoS("toposearch: compute finished",
		"nChannels", result.NChannels, "bwIntra", result.BwIntra, "bwInter", result.BwInter,
		"pattern", result.Pattern.String())

	if outputFile == "" {
		fmt.Printf("pattern=%s nChannels=%d bwIntra=%g bwInter=%g typeIntra=%s typeInter=%s\n",
			result.Pattern.String(), result.NChannels, result.BwIntra, result.BwInter,
			result.TypeIntra.String(), result.TypeInter.String())
	} else {
		data, err := xmlcodec.Marshal(system, []*topo.Graph{result})
		if err != nil {
			klog.ErrorS(err, "toposearch: failed to marshal result")
			os.Exit(1)
		}
		if err := os.WriteFile(outputFile, data, 0o644); err != nil {
			klog.ErrorS(err, "toposearch: failed to write output")
			os.Exit(1)
		}
	}

	if listenAddr == "" {
		return
	}
	engine := gin.Default()
	svc.RegisterEndpoints(engine.Group("/debug"))
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	klog.InfoS("toposearch: serving debug API and metrics", "addr", listenAddr)
	if err := engine.Run(listenAddr); err != nil {
		klog.ErrorS(err, "toposearch: debug server exited")
		os.Exit(1)
	}
}

// computeWithDeadline runs compute on system/graph with a wall-clock
// ceiling, so a pathological search budget can never hang the CLI past
// deadline regardless of the search's own countdown-based budget.
func computeWithDeadline(compute func(*topo.System, *topo.Graph) (*topo.Graph, error), system *topo.System, graph *topo.Graph, deadline time.Duration) (*topo.Graph, error) {
	type result struct {
		g   *topo.Graph
		err error
	}
	done := make(chan result, 1)
	go func() {
		g, err := compute(system, graph)
		done <- result{g, err}
	}()
	select {
	case r := <-done:
		return r.g, r.err
	case <-time.After(deadline):
		return nil, fmt.Errorf("toposearch: exceeded deadline %s", deadline)
	}
}

func parsePattern(s string) topo.Pattern {
	switch s {
	case "TREE":
		return topo.PatternTree
	case "SPLIT_TREE":
		return topo.PatternSplitTree
	case "BALANCED_TREE":
		return topo.PatternBalancedTree
	default:
		return topo.PatternRing
	}
}

// systemDoc is the on-disk JSON shape a topology discovery collaborator is
// expected to produce; loadSystem is a thin adapter, not a topology
// discovery implementation (out of scope for this engine).
type systemDoc struct {
	ServerShape string `json:"serverShape"`
	MaxBw       float64 `json:"maxBw"`
	TotalBw     float64 `json:"totalBw"`
	GPUs        []struct {
		Dev     int   `json:"dev"`
		Ranks   []int `json:"ranks"`
		CompCap int   `json:"compCap"`
	} `json:"gpus"`
}

func loadSystem(path string, cfg topo.Config) (*topo.System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toposearch: %w", err)
	}
	var doc systemDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("toposearch: %w", err)
	}
	system := &topo.System{
		ServerShape: doc.ServerShape,
		MaxBw:       doc.MaxBw,
		TotalBw:     doc.TotalBw,
		Config:      cfg,
	}
	for _, g := range doc.GPUs {
		system.Nodes[topo.GPU] = append(system.Nodes[topo.GPU], topo.TopoNode{
			Type:    topo.GPU,
			Dev:     g.Dev,
			Ranks:   g.Ranks,
			CompCap: g.CompCap,
		})
		system.NRanks += len(g.Ranks)
	}
	return system, nil
}
