package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortOrdersByInterBwFirst(t *testing.T) {
	cands := []Candidate{
		{GPU: 0, InterBw: 10, StartIndex: 0},
		{GPU: 1, InterBw: 20, StartIndex: 1},
	}
	Sort(cands, false)
	assert.Equal(t, 1, cands[0].GPU)
	assert.Equal(t, 0, cands[1].GPU)
}

func TestSortTieBreaksOnStartIndex(t *testing.T) {
	cands := []Candidate{
		{GPU: 2, StartIndex: 2},
		{GPU: 0, StartIndex: 0},
		{GPU: 1, StartIndex: 1},
	}
	Sort(cands, false)
	assert.Equal(t, []int{0, 1, 2}, []int{cands[0].GPU, cands[1].GPU, cands[2].GPU})
}

func TestSortReverse(t *testing.T) {
	cands := []Candidate{
		{GPU: 0, StartIndex: 0},
		{GPU: 1, StartIndex: 1},
	}
	Sort(cands, true)
	assert.Equal(t, 1, cands[0].GPU)
	assert.Equal(t, 0, cands[1].GPU)
}

func TestAllIntraScoresEqual(t *testing.T) {
	equal := []Candidate{
		{IntraBw: 10, IntraHops: 1},
		{IntraBw: 10, IntraHops: 1},
	}
	assert.True(t, AllIntraScoresEqual(equal))

	unequal := []Candidate{
		{IntraBw: 10, IntraHops: 1},
		{IntraBw: 5, IntraHops: 1},
	}
	assert.False(t, AllIntraScoresEqual(unequal))

	assert.True(t, AllIntraScoresEqual(nil))
}

func TestLexicographicPrecedence(t *testing.T) {
	// Equal InterBw but different InterPciBw should decide the order even
	// though IntraBw would otherwise favor the opposite candidate.
	cands := []Candidate{
		{GPU: 0, InterBw: 10, InterPciBw: 5, IntraBw: 100},
		{GPU: 1, InterBw: 10, InterPciBw: 8, IntraBw: 1},
	}
	Sort(cands, false)
	assert.Equal(t, 1, cands[0].GPU)
}
