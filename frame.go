package main

import (
	"image"
	"image/color"
	"time"
)

// bytesPerPixel is the size of one packed RGB24 pixel as emitted by the decoder.
const bytesPerPixel = 3

// Frame represents one decoded raster image read from the decoder process.
// A frame is owned by exactly one pipeline stage at a time: the source while
// reading, the queue while buffered and the detector while being evaluated.
type Frame struct {
	// Data holds the raw pixels in packed RGB24 layout, row-major,
	// Width*Height*3 bytes long.
	Data []byte

	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// Index is a monotonically increasing counter starting from 1
	// that uniquely identifies each frame read during a run.
	Index int64

	// Timestamp records when the frame was read from the decoder output.
	Timestamp time.Time
}

// NewFrame wraps raw RGB24 bytes as a frame. It does not copy data.
func NewFrame(data []byte, width, height int) Frame {
	return Frame{Data: data, Width: width, Height: height}
}

// FrameSize returns the number of bytes of a single RGB24 frame.
func FrameSize(width, height int) int {
	return width * height * bytesPerPixel
}

// Pixel returns the RGB components at (x, y). Coordinates must lie inside the frame.
func (f *Frame) Pixel(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * bytesPerPixel
	return f.Data[i], f.Data[i+1], f.Data[i+2]
}

// SetPixel writes the RGB components at (x, y).
func (f *Frame) SetPixel(x, y int, r, g, b uint8) {
	i := (y*f.Width + x) * bytesPerPixel
	f.Data[i], f.Data[i+1], f.Data[i+2] = r, g, b
}

// ColorModel implements image.Image.
func (f *Frame) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements image.Image.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// At implements image.Image. Pixels outside the frame are transparent black.
func (f *Frame) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(f.Bounds())) {
		return color.RGBA{}
	}
	r, g, b := f.Pixel(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
