//go:build gui

package gui

import (
	"image/color"
	"testing"
)

var (
	black = color.RGBA{0, 0, 0, 255}
	skin  = color.RGBA{255, 215, 175, 255}
	red   = color.RGBA{215, 0, 0, 255}
)

func TestPaintScalesPixels(t *testing.T) {
	fr := Frame{Pixels: [][]int{{0, 1}, {1, 0}}}
	img := paint(fr, []color.Color{black, skin}, []color.Color{black, red}, 4, 4)

	tests := []struct {
		x, y int
		want color.Color
	}{
		{0, 0, black}, {1, 1, black},
		{2, 0, skin}, {3, 1, skin},
		{0, 2, skin}, {3, 3, black},
	}
	for _, tt := range tests {
		if got := color.RGBAModel.Convert(img.At(tt.x, tt.y)); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestPaintRecordingPalette(t *testing.T) {
	fr := Frame{Pixels: [][]int{{1}}, Recording: true}
	img := paint(fr, []color.Color{black, skin}, []color.Color{black, red}, 2, 2)
	if got := color.RGBAModel.Convert(img.At(1, 1)); got != red {
		t.Errorf("got %v, want recording colour", got)
	}
}

func TestPaintEmptyFrame(t *testing.T) {
	img := paint(Frame{}, []color.Color{black}, []color.Color{black}, 3, 3)
	if got := color.RGBAModel.Convert(img.At(2, 2)); got != black {
		t.Errorf("got %v, want background", got)
	}
}
