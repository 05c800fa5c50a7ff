package handshake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompose_NoAnchors(t *testing.T) {
	text := compose(nil)
	assert.Equal(t, "I was quiet; nothing yet anchors this context. Continue.", text)
}

func TestCompose_SingleHighPhiAnchor(t *testing.T) {
	anchors := []anchor{{ID: "m1", Content: "the project deadline moved up", ResonancePhi: 3.0}}
	text := compose(anchors)
	assert.Contains(t, text, "I was reflecting on the project deadline moved up")
	assert.Contains(t, text, "Continue.")
	assert.NotContains(t, text, "still forming")
}

func TestCompose_LowPhiAnchorsAreStillForming(t *testing.T) {
	anchors := []anchor{{ID: "m1", Content: "a passing note", ResonancePhi: 0.2}}
	text := compose(anchors)
	assert.Contains(t, text, "still forming")
}

func TestCompose_MultipleAnchorsMentionThreadCount(t *testing.T) {
	anchors := []anchor{
		{ID: "m1", Content: "lead anchor", ResonancePhi: 2.5},
		{ID: "m2", Content: "secondary anchor one", ResonancePhi: 1.0},
		{ID: "m3", Content: "secondary anchor two", ResonancePhi: 1.0},
	}
	text := compose(anchors)
	assert.Contains(t, text, "3 threads are active")
}

func TestCompose_CapsSecondaryAnchorsAtThree(t *testing.T) {
	anchors := make([]anchor, 6)
	anchors[0] = anchor{ID: "lead", Content: "lead anchor", ResonancePhi: 2.5}
	for i := 1; i < 6; i++ {
		anchors[i] = anchor{ID: "x", Content: "filler content", ResonancePhi: 0.1}
	}
	text := compose(anchors)
	assert.Equal(t, 3, countOccurrences(text, "I am holding onto"))
}

func TestCompose_HighPhiAnchorRankedFifthOrLowerIsStillEmbedded(t *testing.T) {
	anchors := make([]anchor, 10)
	anchors[0] = anchor{ID: "lead", Content: "lead anchor", ResonancePhi: 0.3}
	for i := 1; i < 10; i++ {
		anchors[i] = anchor{ID: "x", Content: "filler content", ResonancePhi: 0.3}
	}
	anchors[7] = anchor{ID: "buried", Content: "the breakthrough insight", ResonancePhi: 2.4}

	text := compose(anchors)
	assert.NotContains(t, text, "still forming")
	assert.Contains(t, text, "the breakthrough insight")
}

func TestCompose_NoHighPhiAnywhereStillForming(t *testing.T) {
	anchors := make([]anchor, 10)
	for i := range anchors {
		anchors[i] = anchor{ID: "x", Content: "filler content", ResonancePhi: 0.3}
	}
	text := compose(anchors)
	assert.Contains(t, text, "still forming")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
}

func TestMax5to10(t *testing.T) {
	assert.Equal(t, 3, max5to10(3))
	assert.Equal(t, 7, max5to10(7))
	assert.Equal(t, 10, max5to10(15))
}

func TestIntervalLiteral(t *testing.T) {
	assert.Equal(t, "3600 seconds", intervalLiteral(time.Hour))
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	s := nullable("conv-1")
	assert.NotNil(t, s)
	assert.Equal(t, "conv-1", *s)
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}
