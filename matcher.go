package main

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	// maxPointDistance is the mean RGB distance at which a PointMatch scores 0.
	maxPointDistance = 10.0

	// maxWindowDeviation is the brightness deviation at which a
	// TransparentWindowMatch scores 0.
	maxWindowDeviation = 0.05
)

// ErrNoCriterion is returned when a region without a match criterion is scored.
var ErrNoCriterion = errors.New("region has no match criterion")

// Score evaluates region against frame and returns a value in [0,1].
func Score(frame *Frame, region *Region) (float64, error) {
	if region.Criterion == nil {
		return 0, fmt.Errorf("score region %q: %w", region.Name, ErrNoCriterion)
	}
	return region.Criterion.score(frame), nil
}

func (m PointMatch) score(frame *Frame) float64 {
	if len(m.Points) == 0 {
		return 0
	}

	var total float64
	for _, p := range m.Points {
		r, g, b := frame.Pixel(p.X, p.Y)
		dr := float64(r) - float64(p.Color.R)
		dg := float64(g) - float64(p.Color.G)
		db := float64(b) - float64(p.Color.B)
		total += math.Sqrt(dr*dr + dg*dg + db*db)
	}

	avg := total / float64(len(m.Points))
	return math.Max(0, (maxPointDistance-avg)/maxPointDistance)
}

func (m TransparentWindowMatch) score(frame *Frame) float64 {
	clearMean := meanValue(frame, m.Clear.Rect())
	transMean := meanValue(frame, m.Translucent.Rect())

	measured := (clearMean - transMean) / 255.0
	deviation := math.Abs(measured - m.Difference)
	return clamp01((maxWindowDeviation - deviation) / maxWindowDeviation)
}

// meanValue returns the mean HSV value channel of rect, in 0-255 units.
// Each pixel's value is rounded to 8 bits like an 8-bit HSV image would hold it.
func meanValue(frame *Frame, rect image.Rectangle) float64 {
	crop := imaging.Crop(frame, rect)
	bounds := crop.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+3 < len(crop.Pix); i += 4 {
		c := colorful.Color{
			R: float64(crop.Pix[i]) / 255.0,
			G: float64(crop.Pix[i+1]) / 255.0,
			B: float64(crop.Pix[i+2]) / 255.0,
		}
		_, _, v := c.Hsv()
		sum += math.Round(v * 255.0)
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
