package rgb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var maxDeltaCases = []struct {
	A, B   Color
	Expect int
}{
	{Color{0, 0, 0}, Color{0, 0, 0}, 0},
	{Color{10, 20, 30}, Color{12, 20, 30}, 2},
	{Color{255, 0, 0}, Color{0, 0, 0}, 255},
	{Color{5, 200, 7}, Color{9, 190, 7}, 10},
	{Color{0, 0, 100}, Color{0, 0, 99}, 1},
}

func TestMaxDelta(t *testing.T) {
	for _, c := range maxDeltaCases {
		assert.Equal(t, c.Expect, MaxDelta(c.A, c.B), "%v vs %v", c.A, c.B)
		assert.Equal(t, c.Expect, MaxDelta(c.B, c.A), "symmetric %v vs %v", c.B, c.A)
	}
}

func TestBytesLayout(t *testing.T) {
	f := Frame{{1, 2, 3}, {4, 5, 6}}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Bytes())

	back, err := FromBytes(f.Bytes())
	require.NoError(t, err)
	assert.True(t, f.Equal(back))
}

func TestFromBytesRejectsPartialPixel(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestCloneDoesNotAlias(t *testing.T) {
	f := Frame{{1, 1, 1}}
	c := f.Clone()
	c[0] = Color{9, 9, 9}
	assert.Equal(t, Color{1, 1, 1}, f[0])
	assert.Nil(t, Frame(nil).Clone())
}

func TestFillAndBlack(t *testing.T) {
	f := Black(3)
	assert.True(t, f.Equal(Frame{{}, {}, {}}))
	f.Fill(Color{7, 8, 9})
	for _, c := range f {
		assert.Equal(t, Color{7, 8, 9}, c)
	}
}
