//go:build gui

package gui

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

const (
	faceMinW = 288
	faceMinH = 256
)

// Frame is one picture of the face as palette indices.
type Frame struct {
	Pixels    [][]int
	Recording bool
}

// Source paints the face for an animation frame number.
type Source func(frame int) Frame

type FaceWidget struct {
	widget.BaseWidget
	idle, rec []color.Color
	raster    *canvas.Raster

	mu      sync.Mutex
	frame   int
	source  Source
	current Frame

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewFaceWidget draws frames with the idle palette, or rec while recording.
// Index 0 of each palette is the background.
func NewFaceWidget(idle, rec []color.Color) *FaceWidget {
	f := &FaceWidget{idle: idle, rec: rec, stopCh: make(chan struct{})}
	f.raster = canvas.NewRaster(f.draw)
	f.raster.ScaleMode = canvas.ImageScalePixels
	f.raster.SetMinSize(fyne.NewSize(faceMinW, faceMinH))
	f.ExtendBaseWidget(f)
	go f.animate()
	return f
}

// SetSource swaps what the widget paints. nil blanks it.
func (f *FaceWidget) SetSource(s Source) {
	f.mu.Lock()
	f.source = s
	f.current = Frame{}
	f.mu.Unlock()
}

func (f *FaceWidget) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *FaceWidget) animate() {
	ticker := time.NewTicker(60 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
		}
		f.mu.Lock()
		f.frame++
		src, n := f.source, f.frame
		f.mu.Unlock()
		if src == nil {
			continue
		}
		fr := src(n)
		f.mu.Lock()
		f.current = fr
		f.mu.Unlock()
		fyne.Do(f.raster.Refresh)
	}
}

func (f *FaceWidget) draw(w, h int) image.Image {
	f.mu.Lock()
	fr := f.current
	f.mu.Unlock()
	return paint(fr, f.idle, f.rec, w, h)
}

// paint scales fr to w x h, nearest neighbour.
func paint(fr Frame, idle, rec []color.Color, w, h int) image.Image {
	palette := idle
	if fr.Recording {
		palette = rec
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(palette[0]), image.Point{}, draw.Src)

	rows := len(fr.Pixels)
	if rows == 0 || len(fr.Pixels[0]) == 0 || w <= 0 || h <= 0 {
		return img
	}
	cols := len(fr.Pixels[0])
	for y := 0; y < h; y++ {
		row := fr.Pixels[y*rows/h]
		for x := 0; x < w; x++ {
			i := row[x*cols/w]
			if i <= 0 || i >= len(palette) {
				continue
			}
			img.Set(x, y, palette[i])
		}
	}
	return img
}

func (f *FaceWidget) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(f.raster)
}
