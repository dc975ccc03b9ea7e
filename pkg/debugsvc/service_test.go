package debugsvc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccltopo/graphsearch/pkg/cache"
	"github.com/ccltopo/graphsearch/pkg/topo"
)

func TestRegisterEndpointsServesLastGraphs(t *testing.T) {
	svc := New(nil)
	svc.SetLastGraphs([]*topo.Graph{
		{
			ID:        0,
			Pattern:   topo.PatternRing,
			NChannels: 1,
			BwIntra:   20,
			BwInter:   10,
			TypeIntra: topo.PathNVL,
			TypeInter: topo.PathPIX,
		},
	})

	engine := gin.Default()
	svc.RegisterEndpoints(engine.Group("/"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/graphs", nil)
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var got graphsResponse
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&got))
	require.Len(t, got.Graphs, 1)
	assert.Equal(t, "RING", got.Graphs[0].Pattern)
	assert.Equal(t, 1, got.Graphs[0].NChannels)
	assert.Equal(t, 20.0, got.Graphs[0].BwIntra)
}

func TestRegisterEndpointsServesCacheStatsWhenPresent(t *testing.T) {
	c := cache.New(func(s *topo.System, g *topo.Graph) (*topo.Graph, error) {
		return g.Clone(), nil
	})
	svc := New(c)

	_, err := c.Compute(&topo.System{}, topo.NewGraph(1))
	require.NoError(t, err)

	engine := gin.Default()
	svc.RegisterEndpoints(engine.Group("/"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/cache/stats", nil)
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var got cacheStatsResponse
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&got))
	assert.Equal(t, int64(0), got.Hits)
	assert.Equal(t, int64(1), got.Misses)
	assert.Equal(t, 1, got.Entries)
}

func TestRegisterEndpointsCacheStatsZeroWhenNilCache(t *testing.T) {
	svc := New(nil)

	engine := gin.Default()
	svc.RegisterEndpoints(engine.Group("/"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/cache/stats", nil)
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var got cacheStatsResponse
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&got))
	assert.Equal(t, cacheStatsResponse{}, got)
}
