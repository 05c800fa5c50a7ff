package association

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllPairsFormsCompleteGraph(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	pairs := allPairs(ids)
	assert.Len(t, pairs, 6) // C(4,2)
}

func TestAllPairsAreOrdered(t *testing.T) {
	pairs := allPairs([]string{"z", "a"})
	require := assert.New(t)
	require.Len(pairs, 1)
	require.Equal("a", pairs[0][0])
	require.Equal("z", pairs[0][1])
}

func TestAllPairsDeduplicates(t *testing.T) {
	pairs := allPairs([]string{"a", "a", "b"})
	assert.Len(t, pairs, 1)
}

func TestAllPairsEmptyForSingleMemory(t *testing.T) {
	assert.Empty(t, allPairs([]string{"only-one"}))
}
