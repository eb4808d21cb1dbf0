// Package hotkey provides the optional global push-to-talk key.
package hotkey

// Hotkey delivers press and release events for one key combination.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

const Combo = "Ctrl+Shift+Space"
