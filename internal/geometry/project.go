// Package geometry maps normalized annotation boxes into the pixel space of
// a rendered page and tracks the rendered page width.
package geometry

import (
	"math"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/annotation"
)

// PixelBox is (xMin, yMin, xMax, yMax) in rendered pixels.
type PixelBox [4]float64

func (p PixelBox) Width() float64  { return p[2] - p[0] }
func (p PixelBox) Height() float64 { return p[3] - p[1] }

// Empty reports a zero-area box. Renderers skip these.
func (p PixelBox) Empty() bool { return p.Width() <= 0 || p.Height() <= 0 }

// Project computes c*width/1000 for each component. Height uses the same
// factor, so the page must be rendered at its native aspect ratio.
func Project(b annotation.BBox, width float64) PixelBox {
	return PixelBox{scale(b[0], width), scale(b[1], width), scale(b[2], width), scale(b[3], width)}
}

// ProjectScaled scales x by width/1000 and y by height/1000. It is used
// when the caller knows the rendered height and the normalized space was
// produced relative to page height.
func ProjectScaled(b annotation.BBox, width, height float64) PixelBox {
	return PixelBox{scale(b[0], width), scale(b[1], height), scale(b[2], width), scale(b[3], height)}
}

func scale(c, extent float64) float64 {
	return c * extent / annotation.Scale
}

// PageSize is the native size of a decoded page in PDF points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Rotate int     `json:"rotate,omitempty"`
}

// Valid reports whether the size is usable for aspect computations.
func (s PageSize) Valid() bool { return s.Width > 0 && s.Height > 0 }

// HeightForWidth is the rendered height of the page at width, keeping the
// native aspect ratio. Pages rotated by 90 or 270 degrees swap their axes.
func (s PageSize) HeightForWidth(width float64) float64 {
	if !s.Valid() || width <= 0 {
		return 0
	}
	w, h := s.Width, s.Height
	if r := ((s.Rotate % 360) + 360) % 360; r == 90 || r == 270 {
		w, h = h, w
	}
	return math.Round(width*h/w*100) / 100
}
