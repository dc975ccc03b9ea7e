// Package cache memoizes planner.Compute results in front of the search
// engine, keyed on a content hash of the input system and initial graph,
// using a TTL store paired with atomic hit/miss counters.
package cache

import (
	"fmt"
	"hash/fnv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/ccltopo/graphsearch/pkg/metrics"
	"github.com/ccltopo/graphsearch/pkg/topo"
)

const (
	defaultTTL           = 5 * time.Minute
	defaultPurgeInterval = 10 * time.Minute
)

// Cache memoizes Compute results. The zero value is not usable; construct
// with New.
type Cache struct {
	store   *gocache.Cache
	hits    *atomic.Int64
	misses  *atomic.Int64
	compute func(*topo.System, *topo.Graph) (*topo.Graph, error)
}

// New constructs a Cache that delegates cache misses to compute.
func New(compute func(*topo.System, *topo.Graph) (*topo.Graph, error)) *Cache {
	return &Cache{
		store:   gocache.New(defaultTTL, defaultPurgeInterval),
		hits:    atomic.NewInt64(0),
		misses:  atomic.NewInt64(0),
		compute: compute,
	}
}

// Compute returns the memoized result for (system, graph) if present,
// otherwise delegates to the wrapped compute function and stores the
// result.
func (c *Cache) Compute(system *topo.System, graph *topo.Graph) (*topo.Graph, error) {
	key := contentHash(system, graph)
	if v, ok := c.store.Get(key); ok {
		c.hits.Inc()
		cached := v.(*topo.Graph)
		return cached.Clone(), nil
	}
	c.misses.Inc()

	result, err := c.compute(system, graph)
	if err != nil {
		return nil, err
	}
	c.store.Set(key, result.Clone(), gocache.DefaultExpiration)
	metrics.CacheSize.Set(float64(c.store.ItemCount()))
	klog.V(4).InfoS("cache: stored new compute result", "key", key, "nChannels", result.NChannels)
	return result, nil
}

// Stats reports hit/miss counters and the current entry count.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.ItemCount(),
	}
}

// contentHash derives a stable key from the parts of system and graph that
// influence Compute's output: the node, link and path tables, the summary
// bandwidths and config, and the caller-supplied graph's pattern/constraint
// fields. Link bandwidth enters the key as it stands at call time; the
// search charges and refunds it, leaving it as it found it.
func contentHash(system *topo.System, graph *topo.Graph) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "ngpus=%d;nnics=%d;shape=%s;pattern=%d;cross=%d;collnet=%d;max=%d;min=%d",
		system.NumGPUs(), system.NumNICs(), system.ServerShape,
		graph.Pattern, graph.CrossNic, graph.CollNet, graph.MaxChannels, graph.MinChannels)
	for i := 0; i < system.NumGPUs(); i++ {
		g := system.GPU(i)
		fmt.Fprintf(h, ";gpu%d:dev=%d,compcap=%d,ranks=%v", i, g.Dev, g.CompCap, g.Ranks)
	}
	for i := 0; i < system.NumNICs(); i++ {
		n := system.NIC(i)
		fmt.Fprintf(h, ";nic%d:id=%x,speed=%g,maxch=%d", i, n.ID, n.LinkSpeed, n.MaxChannels)
	}
	fmt.Fprintf(h, ";maxbw=%g;totalbw=%g;config=%+v;nodes=%+v;links=%+v;gpupaths=%v;nicpaths=%v",
		system.MaxBw, system.TotalBw, system.Config, system.Nodes, system.Links, system.GPUPaths, system.NICPaths)
	return fmt.Sprintf("%x", h.Sum64())
}
