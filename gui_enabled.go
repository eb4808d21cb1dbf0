//go:build gui

package main

import (
	"image/color"
	"runtime"

	"soulsync/gui"
)

var guiApp *gui.App

// Palettes match faceColors and faceColorsRec.
var (
	faceRGB = []color.Color{
		color.RGBA{28, 28, 28, 255},    // background
		color.RGBA{255, 215, 175, 255}, // skin (223)
		color.RGBA{215, 175, 135, 255}, // shade (180)
		color.RGBA{135, 95, 0, 255},    // hair (94)
		color.RGBA{95, 0, 0, 255},      // mouth (52)
		color.RGBA{238, 238, 238, 255}, // eye white (255)
		color.RGBA{0, 95, 135, 255},    // pupil (24)
		color.RGBA{215, 95, 135, 255},  // lips (168)
		color.RGBA{208, 208, 208, 255}, // teeth (252)
	}
	faceRGBRec = recPalette()
)

func recPalette() []color.Color {
	p := append([]color.Color(nil), faceRGB...)
	p[pxPupil] = color.RGBA{215, 0, 0, 255} // 160
	return p
}

// initGUI takes the main thread for the window and runs the client beside it.
func initGUI() {
	runtime.LockOSThread()
	guiApp = gui.NewApp(faceRGB, faceRGBRec, run)
	gui.Run(guiApp)
}

func mountAvatar(a *app) {
	if guiApp == nil {
		return
	}
	place := facePlacement(a.scene.Transform)
	guiApp.Mount(func(frame int) gui.Frame {
		pixels, recording := a.avatarFrame(frame, place)
		return gui.Frame{Pixels: pixels, Recording: recording}
	})
}

func unmountAvatar() {
	if guiApp != nil {
		guiApp.Unmount()
	}
}
