// Package debugsvc exposes a gin debug API over the last computed graphs
// and cache statistics, following a RegisterEndpoints(group) convention.
package debugsvc

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/ccltopo/graphsearch/pkg/cache"
	"github.com/ccltopo/graphsearch/pkg/topo"
)

type graphsResponse struct {
	Graphs []graphSummary `json:"graphs"`
}

type graphSummary struct {
	ID         int     `json:"id"`
	Pattern    string  `json:"pattern"`
	NChannels  int     `json:"nChannels"`
	BwIntra    float64 `json:"bwIntra"`
	BwInter    float64 `json:"bwInter"`
	TypeIntra  string  `json:"typeIntra"`
	TypeInter  string  `json:"typeInter"`
	CrossNic   int     `json:"crossNic"`
	NHops      int     `json:"nHops"`
}

type cacheStatsResponse struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Service holds the last computed graphs and the cache backing Compute,
// served over the debug API.
type Service struct {
	mu     sync.RWMutex
	graphs []*topo.Graph
	cache  *cache.Cache
}

// New constructs a Service backed by c. c may be nil if the caller does not
// wire in a memoization cache.
func New(c *cache.Cache) *Service {
	return &Service{cache: c}
}

// SetLastGraphs records the graphs from the most recent Compute call, for
// GET /graphs to serve.
func (s *Service) SetLastGraphs(graphs []*topo.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs = graphs
}

// RegisterEndpoints wires GET /graphs and GET /cache/stats onto group.
func (s *Service) RegisterEndpoints(group *gin.RouterGroup) {
	group.GET("/graphs", func(c *gin.Context) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		resp := graphsResponse{}
		for _, g := range s.graphs {
			resp.Graphs = append(resp.Graphs, graphSummary{
				ID:        g.ID,
				Pattern:   g.Pattern.String(),
				NChannels: g.NChannels,
				BwIntra:   g.BwIntra,
				BwInter:   g.BwInter,
				TypeIntra: g.TypeIntra.String(),
				TypeInter: g.TypeInter.String(),
				CrossNic:  g.CrossNic,
				NHops:     g.NHops,
			})
		}
		c.JSON(http.StatusOK, resp)
	})

	group.GET("/cache/stats", func(c *gin.Context) {
		if s.cache == nil {
			c.JSON(http.StatusOK, cacheStatsResponse{})
			return
		}
		st := s.cache.Stats()
		c.JSON(http.StatusOK, cacheStatsResponse{Hits: st.Hits, Misses: st.Misses, Entries: st.Entries})
	})
}
