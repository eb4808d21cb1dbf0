//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The global hotkey needs the main thread on macOS; the avatar window takes
// it instead when asked for.
func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-gui" || arg == "--gui" {
			initGUI()
			return
		}
	}
	mainthread.Init(run)
}
