package main

import (
	"fmt"
	"image"
)

// Box is an axis-aligned rectangle in frame pixel coordinates.
type Box struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Rect converts the box to an image.Rectangle (max exclusive).
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// String implements fmt.Stringer.
func (b Box) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", b.Width, b.Height, b.X, b.Y)
}

// RGB is an 8-bit per channel colour.
type RGB struct {
	R, G, B uint8
}

// Criterion is the appearance test attached to a region. The set of
// implementations is closed: PointMatch and TransparentWindowMatch.
type Criterion interface {
	// Kind names the criterion for logs.
	Kind() string

	score(frame *Frame) float64
}

// ColorPoint is a single pixel sample of a PointMatch criterion.
type ColorPoint struct {
	X, Y  int
	Color RGB
}

// PointMatch compares sampled pixels against expected colours.
type PointMatch struct {
	Points []ColorPoint
}

// Kind implements Criterion.
func (PointMatch) Kind() string { return "points" }

// TransparentWindowMatch detects a translucent overlay by comparing the
// brightness of a clear reference box with a box seen through the overlay.
type TransparentWindowMatch struct {
	Clear       Box
	Translucent Box

	// Difference is the expected (clear - translucent) brightness in [0,1].
	Difference float64
}

// Kind implements Criterion.
func (TransparentWindowMatch) Kind() string { return "transparent_window" }

// TransformKind selects the image transform applied before recognition.
type TransformKind int

const (
	// TransformNone passes the cropped region through unchanged.
	TransformNone TransformKind = iota
	// TransformContrastStretch remaps luminance [Low,High] onto [0,255].
	TransformContrastStretch
)

// String implements fmt.Stringer.
func (k TransformKind) String() string {
	switch k {
	case TransformNone:
		return "none"
	case TransformContrastStretch:
		return "contrast_stretch"
	default:
		return "unknown"
	}
}

// Transform is the per-region pre-recognition transform.
type Transform struct {
	Kind TransformKind

	// Low and High bound the input luminance range for TransformContrastStretch.
	Low, High uint8
}

// ContrastStretch returns a transform stretching luminance [low,high] to [0,255].
func ContrastStretch(low, high uint8) Transform {
	return Transform{Kind: TransformContrastStretch, Low: low, High: high}
}

// Region is a named rectangle of the frame that is scored and, when it
// matches, recognised.
type Region struct {
	Name string
	Box  Box

	// Scale resizes the cropped region before recognition. 1.0 disables resizing.
	Scale float64

	Transform Transform

	// Criterion is nil only for the timestamp region.
	Criterion Criterion
}

// RegionSet is the immutable region layout of a run.
type RegionSet struct {
	// Regions are evaluated in this order; the first accepted region wins.
	Regions []Region

	// Timestamp is recognised whenever another region produces a detection.
	Timestamp Region
}
