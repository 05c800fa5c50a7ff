package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := Of("  Hello World  ")
	b := Of("hello world")
	assert.Equal(t, a, b)
}

func TestOf_DifferentContentDiffers(t *testing.T) {
	assert.NotEqual(t, Of("alpha"), Of("beta"))
}

func TestOf_IsDeterministic(t *testing.T) {
	assert.Equal(t, Of("same input"), Of("same input"))
}

func TestOf_IsHex64(t *testing.T) {
	h := Of("anything")
	assert.Len(t, h, 64)
}
