package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-inspector/internal/domain"
)

func TestComputeInside(t *testing.T) {
	g, ok := Compute(Rect{W: 400, H: 300}, ModeInside)
	require.True(t, ok)
	assert.Equal(t, Rect{X: 40, Y: 75, W: 320, H: 150}, g.Rect)
	assert.InDelta(t, 22.5, g.CornerLength, 1e-9)
}

func TestComputeSquare(t *testing.T) {
	g, ok := Compute(Rect{W: 400, H: 300}, ModeSquare)
	require.True(t, ok)
	assert.Equal(t, Rect{X: 95, Y: 45, W: 210, H: 210}, g.Rect)
	assert.InDelta(t, 31.5, g.CornerLength, 1e-9)
}

func TestComputeNone(t *testing.T) {
	_, ok := Compute(Rect{W: 400, H: 300}, ModeNone)
	assert.False(t, ok)
	_, ok = Compute(Rect{}, ModeInside)
	assert.False(t, ok, "empty box")
}

func TestComputeOffsetBox(t *testing.T) {
	g, ok := Compute(Rect{X: 10, Y: 20, W: 400, H: 300}, ModeInside)
	require.True(t, ok)
	assert.Equal(t, Rect{X: 50, Y: 95, W: 320, H: 150}, g.Rect)
}

func TestCorners(t *testing.T) {
	g, ok := Compute(Rect{W: 400, H: 300}, ModeSquare)
	require.True(t, ok)

	tl := g.Corners[0]
	assert.Equal(t, "top_left", tl.Name)
	assert.Equal(t, [3]Point{{126.5, 45}, {95, 45}, {95, 76.5}}, tl.Points)
	assert.Equal(t, "M 126.5 45 L 95 45 L 95 76.5", tl.Path)

	br := g.Corners[3]
	assert.Equal(t, "bottom_right", br.Name)
	assert.Equal(t, [3]Point{{273.5, 255}, {305, 255}, {305, 223.5}}, br.Points)
}

func TestMask(t *testing.T) {
	g, ok := Compute(Rect{W: 400, H: 300}, ModeInside)
	require.True(t, ok)
	assert.Equal(t, "M 0 0 H 400 V 300 H 0 Z M 40 75 H 360 V 225 H 40 Z", g.Mask)
}

func TestContain(t *testing.T) {
	tests := []struct {
		name      string
		container Size
		natural   Size
		want      Rect
	}{
		{"wider image letterboxes", Size{400, 300}, Size{1920, 1080}, Rect{X: 0, Y: 37.5, W: 400, H: 225}},
		{"taller image pillarboxes", Size{400, 300}, Size{480, 640}, Rect{X: 87.5, Y: 0, W: 225, H: 300}},
		{"same ratio fills", Size{400, 300}, Size{640, 480}, Rect{X: 0, Y: 0, W: 400, H: 300}},
		{"no image yet", Size{400, 300}, Size{}, Rect{}},
		{"collapsed container", Size{0, 300}, Size{640, 480}, Rect{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Contain(tt.container, tt.natural))
		})
	}
}

func TestLayoutMaskCoversContainer(t *testing.T) {
	g, ok := Layout(Size{400, 300}, Size{1920, 1080}, ModeInside)
	require.True(t, ok)
	assert.Equal(t, Rect{X: 40, Y: 93.75, W: 320, H: 112.5}, g.Rect)
	assert.Equal(t, "M 0 0 H 400 V 300 H 0 Z M 40 93.75 H 360 V 206.25 H 40 Z", g.Mask)

	_, ok = Layout(Size{400, 300}, Size{}, ModeInside)
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeNone, "none": ModeNone, "Inside": ModeInside, " square ": ModeSquare} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("circle")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.CodeGuideInvalid, domain.ErrorCodeOf(err))
}
