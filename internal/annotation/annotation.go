// Package annotation holds the structural annotations produced by the
// extraction backend and groups them by page.
//
// Boxes live in a page-size independent space where every coordinate is in
// [0, Scale]. Invalid boxes never reach a renderer: coordinates are clamped
// into range and inverted boxes are rejected.
package annotation

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/types"
)

// Scale is the upper bound of the normalized coordinate space.
const Scale = 1000.0

var (
	ErrInvertedBox = errors.New("inverted bounding box")
	ErrInvalidPage = errors.New("page must be >= 1")
)

type Type string

const (
	Title     Type = "title"
	Header    Type = "header"
	Paragraph Type = "paragraph"
	Table     Type = "table"
	Figure    Type = "figure"
	Other     Type = "other"
)

// ParseType maps a wire value onto a known Type. Anything unrecognised is Other.
func ParseType(s string) Type {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case Title, Header, Paragraph, Table, Figure:
		return t
	default:
		return Other
	}
}

// BBox is (xMin, yMin, xMax, yMax) in normalized space.
type BBox [4]float64

func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }

type Annotation struct {
	Type       Type
	BBox       BBox
	Page       int
	Text       string
	Confidence float64
}

// Title is the tooltip shown for the annotation's overlay.
func (a Annotation) Title() string {
	if a.Text != "" {
		return fmt.Sprintf("%s: %s", a.Type, a.Text)
	}
	return string(a.Type)
}

// Label is the short caption drawn next to a rendered box.
func (a Annotation) Label() string {
	return fmt.Sprintf("%s (p%d)", a.Type, a.Page)
}

// Normalize clamps the box into [0, Scale] and validates ordering and page.
func Normalize(a Annotation) (Annotation, error) {
	if a.Page < 1 {
		return a, fmt.Errorf("%w: got %d", ErrInvalidPage, a.Page)
	}
	for i, c := range a.BBox {
		if math.IsNaN(c) {
			c = 0
		}
		a.BBox[i] = min(Scale, max(0, c))
	}
	if a.BBox[0] > a.BBox[2] || a.BBox[1] > a.BBox[3] {
		return a, fmt.Errorf("%w: %v on page %d", ErrInvertedBox, a.BBox, a.Page)
	}
	a.Type = ParseType(string(a.Type))
	return a, nil
}

// NormalizeAll keeps the valid annotations in their original order. The
// returned error joins every rejection; callers may log it and carry on.
func NormalizeAll(list []Annotation) ([]Annotation, error) {
	out := make([]Annotation, 0, len(list))
	var errs []error
	for i, a := range list {
		n, err := Normalize(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("annotation %d: %w", i, err))
			continue
		}
		out = append(out, n)
	}
	return out, errors.Join(errs...)
}

func FromElement(e types.Element) Annotation {
	return Annotation{
		Type:       ParseType(e.Type),
		BBox:       BBox(e.BBox),
		Page:       e.Page,
		Text:       e.Text,
		Confidence: e.Confidence,
	}
}

func FromElements(elems []types.Element) []Annotation {
	out := make([]Annotation, 0, len(elems))
	for _, e := range elems {
		out = append(out, FromElement(e))
	}
	return out
}

var palette = map[Type]color.RGBA{
	Title:     {R: 255, A: 255},
	Header:    {R: 255, G: 128, A: 255},
	Paragraph: {G: 128, B: 255, A: 255},
	Table:     {G: 200, A: 255},
	Figure:    {R: 128, B: 255, A: 255},
}

// Color returns the outline colour used for t.
func Color(t Type) color.RGBA {
	if c, ok := palette[t]; ok {
		return c
	}
	return color.RGBA{R: 200, G: 200, B: 200, A: 255}
}
