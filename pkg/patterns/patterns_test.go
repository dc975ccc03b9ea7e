package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccltopo/graphsearch/pkg/topo"
)

func eightGpuSystem(shape string) *topo.System {
	s := &topo.System{ServerShape: shape}
	for i := 0; i < 8; i++ {
		s.Nodes[topo.GPU] = append(s.Nodes[topo.GPU], topo.TopoNode{Type: topo.GPU, Dev: i, Ranks: []int{i}})
	}
	return s
}

func TestParseChordalRingMatches(t *testing.T) {
	s := eightGpuSystem("chordalring8")
	g := topo.NewGraph(1)
	require.True(t, ParseChordalRing(s, g))
	assert.Equal(t, topo.PatternRing, g.Pattern)
	assert.Equal(t, 1, g.NChannels)
	assert.Equal(t, []int{0, 2, 4, 6, 1, 3, 5, 7}, g.Intra[0])
}

func TestParseChordalRingMissOnWrongShape(t *testing.T) {
	s := eightGpuSystem("rome4p2h")
	g := topo.NewGraph(1)
	assert.False(t, ParseChordalRing(s, g))
	assert.Equal(t, 0, g.NChannels)
}

func TestParseRome4P2HMatches(t *testing.T) {
	s := eightGpuSystem("rome4p2h")
	g := topo.NewGraph(1)
	require.True(t, ParseRome4P2H(s, g))
	assert.Equal(t, 18.0, g.BwIntra)
}

func TestParse4H4PRequiresMatchingGpuCount(t *testing.T) {
	s := eightGpuSystem("4h4p")
	g := topo.NewGraph(1)
	assert.False(t, Parse4H4P(s, g))
}

func TestMatchersRejectMismatchedShapeAndGpuCount(t *testing.T) {
	require.Len(t, Matchers, 4)
	s := eightGpuSystem("1h16p")
	g := topo.NewGraph(1)
	for _, m := range Matchers {
		if m(s, g) {
			t.Fatalf("unexpected match for mismatched shape/gpu-count combination")
		}
	}
}
