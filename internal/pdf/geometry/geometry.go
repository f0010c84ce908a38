// Package geometry holds the coordinate primitives shared by detection,
// matching, mapping and filling.
//
// Two coordinate spaces are in play. Raster space is the pixel grid of a
// rendered page (origin top-left, scaled by the render factor). Page space is
// PDF points. Detection works in "top-down" page points (raster divided by the
// scale); mappings are stored in PDF points with the origin bottom-left, and
// FlipY converts between the two.
package geometry

import (
	"fmt"
	"math"
)

// PointsPerInch is the PDF user-space unit density.
const PointsPerInch = 72.0

// BoundingBox is an axis aligned rectangle. X1 >= X0 and Y1 >= Y0 always hold
// for boxes created through NewBoundingBox.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// NewBoundingBox builds a box from two corners in any order.
func NewBoundingBox(x0, y0, x1, y1 float64) BoundingBox {
	return BoundingBox{
		X0: math.Min(x0, x1),
		Y0: math.Min(y0, y1),
		X1: math.Max(x0, x1),
		Y1: math.Max(y0, y1),
	}
}

// Width returns the horizontal extent
func (b BoundingBox) Width() float64 {
	return b.X1 - b.X0
}

// Height returns the vertical extent
func (b BoundingBox) Height() float64 {
	return b.Y1 - b.Y0
}

// Area returns width*height
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// IsEmpty reports whether the box has no area.
func (b BoundingBox) IsEmpty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Valid reports whether the corner ordering invariant holds.
func (b BoundingBox) Valid() bool {
	return b.X1 >= b.X0 && b.Y1 >= b.Y0
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return (b.X0 + b.X1) / 2, (b.Y0 + b.Y1) / 2
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	return BoundingBox{
		X0: math.Min(b.X0, other.X0),
		Y0: math.Min(b.Y0, other.Y0),
		X1: math.Max(b.X1, other.X1),
		Y1: math.Max(b.Y1, other.Y1),
	}
}

// Intersects reports whether the boxes overlap or touch.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return !(b.X1 < other.X0 || b.X0 > other.X1 || b.Y1 < other.Y0 || b.Y0 > other.Y1)
}

// HorizontalOverlap returns the length of the shared x-range, zero if disjoint.
func (b BoundingBox) HorizontalOverlap(other BoundingBox) float64 {
	return math.Max(0, math.Min(b.X1, other.X1)-math.Max(b.X0, other.X0))
}

// VerticalOverlap returns the length of the shared y-range, zero if disjoint.
func (b BoundingBox) VerticalOverlap(other BoundingBox) float64 {
	return math.Max(0, math.Min(b.Y1, other.Y1)-math.Max(b.Y0, other.Y0))
}

// Scale multiplies every coordinate by factor.
func (b BoundingBox) Scale(factor float64) BoundingBox {
	return NewBoundingBox(b.X0*factor, b.Y0*factor, b.X1*factor, b.Y1*factor)
}

// Within reports whether b lies inside a page of the given size, allowing a
// small tolerance for rounding in detected geometry.
func (b BoundingBox) Within(size PageSize, tolerance float64) bool {
	return b.X0 >= -tolerance && b.Y0 >= -tolerance &&
		b.X1 <= size.Width+tolerance && b.Y1 <= size.Height+tolerance
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f, %.2f)", b.X0, b.Y0, b.X1, b.Y1)
}

// PixelToPoint converts a raster-space box to top-down page points. Every
// coordinate produced by OCR or image analysis goes through here before it is
// compared with anything else.
func PixelToPoint(b BoundingBox, scale float64) BoundingBox {
	if scale <= 0 {
		scale = 1
	}
	return b.Scale(1 / scale)
}

// FlipY converts between top-down points and PDF bottom-left points for a
// page of the given height. The conversion is its own inverse.
func FlipY(b BoundingBox, pageHeight float64) BoundingBox {
	return NewBoundingBox(b.X0, pageHeight-b.Y1, b.X1, pageHeight-b.Y0)
}

// PageSize is a page's MediaBox extent in points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Confidence is a probability-like score in [0,1].
type Confidence float64

// NewConfidence clamps v into [0,1]; NaN maps to 0.
func NewConfidence(v float64) Confidence {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return Confidence(v)
}

// FromPercent converts an OCR 0-100 score.
func FromPercent(p float64) Confidence {
	return NewConfidence(p / 100)
}

// GeometricMean combines two confidences.
func GeometricMean(a, b Confidence) Confidence {
	return NewConfidence(math.Sqrt(float64(a) * float64(b)))
}
