package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRoundtrip(t *testing.T) {
	u := &Update{
		Items: []Item{
			{ID: MakeID(1, 1), Content: "a"},
			{ID: MakeID(1, 2), Left: MakeID(1, 1), Content: "b"},
			{ID: MakeID(2, 1), Left: MakeID(1, 1), Right: MakeID(1, 2), Content: "é"},
		},
		Deletes: []ID{MakeID(1, 1)},
	}
	got, err := ParseUpdate(u.Encode())
	require.NoError(t, err)
	assert.Equal(t, u.Items, got.Items)
	assert.Equal(t, u.Deletes, got.Deletes)
}

func TestParseUpdateRejectsDamage(t *testing.T) {
	u := &Update{Items: []Item{{ID: MakeID(1, 1), Content: "abc"}}}
	blob := u.Encode()

	for cut := 1; cut < len(blob); cut++ {
		_, err := ParseUpdate(blob[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
	_, err := ParseUpdate(append(blob, 0xff))
	assert.ErrorIs(t, err, ErrBadUpdate)
}

func TestVVRoundtrip(t *testing.T) {
	vv := VV{1: 10, 7: 3, 1000: 42}
	got, err := ParseVV(vv.Encode())
	require.NoError(t, err)
	assert.Equal(t, vv, got)

	empty, err := ParseVV(VV{}.Encode())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseVVRejectsDamage(t *testing.T) {
	blob := VV{1: 10}.Encode()
	_, err := ParseVV(blob[:1])
	assert.ErrorIs(t, err, ErrBadVector)
	_, err = ParseVV(append(blob, 3))
	assert.ErrorIs(t, err, ErrBadVector)
}
