package domain

import (
	"fmt"
	"image"
)

type Layout string

const (
	LayoutOriginalLeft   Layout = "original_left"
	LayoutOriginalRight  Layout = "original_right"
	LayoutOriginalTop    Layout = "original_top"
	LayoutOriginalBottom Layout = "original_bottom"
)

// Layouts lists every supported layout.
var Layouts = []Layout{LayoutOriginalLeft, LayoutOriginalRight, LayoutOriginalTop, LayoutOriginalBottom}

func (l Layout) Valid() bool {
	switch l {
	case LayoutOriginalLeft, LayoutOriginalRight, LayoutOriginalTop, LayoutOriginalBottom:
		return true
	}
	return false
}

// Vertical reports whether the split line runs vertically (sources side by side).
func (l Layout) Vertical() bool {
	return l == LayoutOriginalLeft || l == LayoutOriginalRight
}

// Split divides a w x h canvas into the original and duet halves.
// The split dimension must be even so both halves are the same size.
func (l Layout) Split(w, h int) (original, duet image.Rectangle, err error) {
	if !l.Valid() {
		return image.Rectangle{}, image.Rectangle{}, fmt.Errorf("unknown layout %q", l)
	}
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, image.Rectangle{}, fmt.Errorf("canvas %dx%d must be positive", w, h)
	}

	if l.Vertical() {
		if w%2 != 0 {
			return image.Rectangle{}, image.Rectangle{}, fmt.Errorf("canvas width %d must be even for %s", w, l)
		}
		left := image.Rect(0, 0, w/2, h)
		right := image.Rect(w/2, 0, w, h)
		if l == LayoutOriginalLeft {
			return left, right, nil
		}
		return right, left, nil
	}

	if h%2 != 0 {
		return image.Rectangle{}, image.Rectangle{}, fmt.Errorf("canvas height %d must be even for %s", h, l)
	}
	top := image.Rect(0, 0, w, h/2)
	bottom := image.Rect(0, h/2, w, h)
	if l == LayoutOriginalTop {
		return top, bottom, nil
	}
	return bottom, top, nil
}

// Separator returns the rectangle of a separator line of the given width
// centred on the split axis.
func (l Layout) Separator(w, h, width int) image.Rectangle {
	if width <= 0 {
		return image.Rectangle{}
	}
	if l.Vertical() {
		x := w/2 - width/2
		return image.Rect(x, 0, x+width, h)
	}
	y := h/2 - width/2
	return image.Rect(0, y, w, y+width)
}
