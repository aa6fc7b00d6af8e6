// Package overlay computes the framing guide drawn over the live camera image.
// Everything here is a pure function of the current layout.
package overlay

import (
	"fmt"
	"strconv"
	"strings"

	"label-inspector/internal/domain"
)

// Mode selects the guide shape.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeInside Mode = "inside"
	ModeSquare Mode = "square"
)

// Guide proportions.
const (
	insideWidthRatio  = 0.8
	insideHeightRatio = 0.5
	squareRatio       = 0.7
	cornerRatio       = 0.15
)

// ParseMode validates a mode name. An empty name means ModeNone.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeInside:
		return ModeInside, nil
	case ModeSquare:
		return ModeSquare, nil
	}
	return ModeNone, domain.NewSubSystemError("overlay", "overlay.ParseMode", domain.ErrInvalidInput,
		fmt.Sprintf("unknown guide mode %q", s))
}

// Size is a width and height in CSS pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// Point is a position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Corner is one L-shaped corner mark: from the arm end to the corner to the
// other arm end.
type Corner struct {
	Name   string   `json:"name"`
	Points [3]Point `json:"points"`
	Path   string   `json:"path"`
}

// Guide is the computed overlay.
type Guide struct {
	Mode         Mode      `json:"mode"`
	Rect         Rect      `json:"rect"`
	CornerLength float64   `json:"corner_length"`
	Corners      [4]Corner `json:"corners"`
	Mask         string    `json:"mask"` // even-odd SVG path darkening everything outside Rect
}

// Contain fits an image of the natural size into container, preserving the
// aspect ratio, and centers it. It returns an empty Rect when either size is empty.
func Contain(container, natural Size) Rect {
	if container.Empty() || natural.Empty() {
		return Rect{}
	}
	imageRatio := natural.W / natural.H
	containerRatio := container.W / container.H

	if imageRatio > containerRatio {
		h := container.W / imageRatio
		return Rect{X: 0, Y: (container.H - h) / 2, W: container.W, H: h}
	}
	w := container.H * imageRatio
	return Rect{X: (container.W - w) / 2, Y: 0, W: w, H: container.H}
}

// Compute places the guide for mode inside the rendered image box. The mask
// covers box. It returns false for ModeNone or an empty box.
func Compute(box Rect, mode Mode) (Guide, bool) {
	if box.Empty() {
		return Guide{}, false
	}

	var w, h float64
	switch mode {
	case ModeInside:
		w, h = box.W*insideWidthRatio, box.H*insideHeightRatio
	case ModeSquare:
		side := min(box.W, box.H) * squareRatio
		w, h = side, side
	default:
		return Guide{}, false
	}

	r := Rect{
		X: box.X + (box.W-w)/2,
		Y: box.Y + (box.H-h)/2,
		W: w,
		H: h,
	}
	g := Guide{
		Mode:         mode,
		Rect:         r,
		CornerLength: min(w, h) * cornerRatio,
		Mask:         maskPath(box, r),
	}
	g.Corners = corners(r, g.CornerLength)
	return g, true
}

// Layout fits natural into container and computes the guide. The mask covers
// the whole container, including any letterbox bands.
func Layout(container, natural Size, mode Mode) (Guide, bool) {
	g, ok := Compute(Contain(container, natural), mode)
	if !ok {
		return Guide{}, false
	}
	g.Mask = maskPath(Rect{W: container.W, H: container.H}, g.Rect)
	return g, true
}

func corners(r Rect, l float64) [4]Corner {
	left, right := r.X, r.X+r.W
	top, bottom := r.Y, r.Y+r.H
	cs := [4]Corner{
		{Name: "top_left", Points: [3]Point{{left + l, top}, {left, top}, {left, top + l}}},
		{Name: "top_right", Points: [3]Point{{right - l, top}, {right, top}, {right, top + l}}},
		{Name: "bottom_left", Points: [3]Point{{left + l, bottom}, {left, bottom}, {left, bottom - l}}},
		{Name: "bottom_right", Points: [3]Point{{right - l, bottom}, {right, bottom}, {right, bottom - l}}},
	}
	for i := range cs {
		p := cs[i].Points
		cs[i].Path = "M " + num(p[0].X) + " " + num(p[0].Y) +
			" L " + num(p[1].X) + " " + num(p[1].Y) +
			" L " + num(p[2].X) + " " + num(p[2].Y)
	}
	return cs
}

// maskPath traces outer then inner as two closed subpaths; with
// fill-rule=evenodd only the band between them is filled.
func maskPath(outer, inner Rect) string {
	return "M " + num(outer.X) + " " + num(outer.Y) +
		" H " + num(outer.X+outer.W) + " V " + num(outer.Y+outer.H) +
		" H " + num(outer.X) + " Z" +
		" M " + num(inner.X) + " " + num(inner.Y) +
		" H " + num(inner.X+inner.W) + " V " + num(inner.Y+inner.H) +
		" H " + num(inner.X) + " Z"
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
