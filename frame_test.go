package main

import (
	"image/color"
	"testing"
)

func TestFramePixels(t *testing.T) {
	frame := NewFrame(make([]byte, FrameSize(3, 2)), 3, 2)
	frame.SetPixel(2, 1, 1, 2, 3)

	if r, g, b := frame.Pixel(2, 1); r != 1 || g != 2 || b != 3 {
		t.Errorf("Pixel(2, 1) = %d,%d,%d, want 1,2,3", r, g, b)
	}
	if got := frame.Data[len(frame.Data)-3:]; got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("last pixel bytes = %v, want [1 2 3]", got)
	}

	tests := []struct {
		name string
		x, y int
		want color.Color
	}{
		{name: "inside", x: 2, y: 1, want: color.RGBA{R: 1, G: 2, B: 3, A: 0xff}},
		{name: "untouched", x: 0, y: 0, want: color.RGBA{A: 0xff}},
		{name: "outside", x: 3, y: 0, want: color.RGBA{}},
		{name: "negative", x: -1, y: 0, want: color.RGBA{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := frame.At(tt.x, tt.y); got != tt.want {
				t.Errorf("At(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestBoxString(t *testing.T) {
	box := Box{X: 10, Y: 20, Width: 300, Height: 40}
	if got := box.String(); got != "300x40+10+20" {
		t.Errorf("String() = %q, want %q", got, "300x40+10+20")
	}
	if got := box.Rect().Max; got.X != 310 || got.Y != 60 {
		t.Errorf("Rect().Max = %v, want (310,60)", got)
	}
}

func TestTransformKindString(t *testing.T) {
	tests := []struct {
		kind TransformKind
		want string
	}{
		{TransformNone, "none"},
		{TransformContrastStretch, "contrast_stretch"},
		{TransformKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("TransformKind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
