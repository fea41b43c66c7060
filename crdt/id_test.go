package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPacking(t *testing.T) {
	id := MakeID(0xdead, 0xbeef)
	assert.Equal(t, uint32(0xdead), id.Client())
	assert.Equal(t, uint32(0xbeef), id.Clock())
	assert.False(t, id.Zero())
	assert.True(t, ID0.Zero())
}

func TestOrdinalOrder(t *testing.T) {
	// clock first, client breaks ties
	assert.True(t, ordLess(MakeID(9, 1), MakeID(1, 2)))
	assert.True(t, ordLess(MakeID(1, 2), MakeID(2, 2)))
	assert.False(t, ordLess(MakeID(2, 2), MakeID(1, 2)))
	assert.False(t, ordLess(MakeID(1, 1), MakeID(1, 1)))
}
