// Package overlay rasterizes projected annotation boxes into a transparent
// PNG that a host can stack above the rendered page.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/annotation"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/viewer"
)

const (
	strokeWidth = 3
	// MaxDimension caps either side of the canvas.
	MaxDimension = 8192
)

var ErrCanvasSize = errors.New("invalid canvas size")

// Render draws every non-empty overlay as an outlined box with its label
// above it. Zero-area overlays are skipped.
func Render(overlays []viewer.Overlay, width, height int) ([]byte, error) {
	img, err := Draw(overlays, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Draw is Render without the PNG encoding.
func Draw(overlays []viewer.Overlay, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrCanvasSize, width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for _, o := range overlays {
		if o.Box.Empty() {
			continue
		}
		r := image.Rect(
			int(math.Round(o.Box[0])), int(math.Round(o.Box[1])),
			int(math.Round(o.Box[2])), int(math.Round(o.Box[3])),
		).Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		c := annotation.Color(o.Type)
		outline(img, r, c)
		label(img, r.Min, o.Label, c)
	}
	return img, nil
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	src := image.NewUniform(c)
	sw := min(strokeWidth, r.Dx(), r.Dy())
	edges := []image.Rectangle{
		{Min: r.Min, Max: image.Pt(r.Max.X, r.Min.Y+sw)},
		{Min: image.Pt(r.Min.X, r.Max.Y-sw), Max: r.Max},
		{Min: r.Min, Max: image.Pt(r.Min.X+sw, r.Max.Y)},
		{Min: image.Pt(r.Max.X-sw, r.Min.Y), Max: r.Max},
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

// label puts text on a white plate just above at, or inside the box when
// there is no room above.
func label(img *image.RGBA, at image.Point, text string, c color.RGBA) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face}

	w := d.MeasureString(text).Ceil() + 6
	h := face.Metrics().Height.Ceil() + 4
	top := max(0, at.Y-h)
	plate := image.Rect(at.X, top, at.X+w, top+h).Intersect(img.Bounds())
	draw.Draw(img, plate, image.White, image.Point{}, draw.Src)

	d.Dot = fixed.P(at.X+3, top+h-2-face.Metrics().Descent.Ceil())
	d.DrawString(text)
}
