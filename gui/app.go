//go:build gui

// Package gui shows the avatar face in a desktop window beside the terminal
// session.
package gui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
)

type App struct {
	fyneApp   fyne.App
	window    fyne.Window
	face      *FaceWidget
	idle, rec []color.Color
	onReady   func()
}

// NewApp returns an app that runs onReady once the window system is up and
// quits when it returns.
func NewApp(idle, rec []color.Color, onReady func()) *App {
	return &App{idle: idle, rec: rec, onReady: onReady}
}

// Run takes over the calling goroutine, which must be the main thread.
func Run(a *App) {
	a.fyneApp = app.NewWithID("io.soulsync.avatar")
	a.window = a.fyneApp.NewWindow("SoulSync")
	a.face = NewFaceWidget(a.idle, a.rec)
	a.window.SetContent(a.face)
	a.window.SetPadded(false)
	a.window.Resize(a.face.MinSize())
	// Closing the window unmounts the avatar; the session carries on in
	// the terminal.
	a.window.SetCloseIntercept(a.Unmount)

	a.fyneApp.Lifecycle().SetOnStarted(func() {
		go func() {
			a.onReady()
			fyne.Do(a.fyneApp.Quit)
		}()
	})
	a.fyneApp.Run()
	a.face.Stop()
}

// Mount shows the window painting src.
func (a *App) Mount(src Source) {
	a.face.SetSource(src)
	fyne.Do(a.window.Show)
}

// Unmount hides the window and stops painting.
func (a *App) Unmount() {
	a.face.SetSource(nil)
	fyne.Do(a.window.Hide)
}
