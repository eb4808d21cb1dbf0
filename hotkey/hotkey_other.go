//go:build !linux

package hotkey

import (
	"sync"

	"golang.design/x/hotkey"
)

type systemHotkey struct {
	hk      *hotkey.Hotkey
	keydown chan struct{}
	keyup   chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// New returns the Ctrl+Shift+Space hotkey. On macOS it only works once
// mainthread.Init has taken over the main goroutine.
func New() Hotkey {
	return &systemHotkey{
		hk:      hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace),
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (h *systemHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go h.forward(h.hk.Keydown(), h.keydown)
	go h.forward(h.hk.Keyup(), h.keyup)
	return nil
}

func (h *systemHotkey) forward(in <-chan hotkey.Event, out chan struct{}) {
	for {
		select {
		case <-h.stop:
			return
		case <-in:
			select {
			case out <- struct{}{}:
			case <-h.stop:
				return
			}
		}
	}
}

func (h *systemHotkey) Unregister() {
	h.once.Do(func() {
		close(h.stop)
		h.hk.Unregister()
	})
}

func (h *systemHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *systemHotkey) Keyup() <-chan struct{}   { return h.keyup }

func Diagnose() (string, error) {
	return Combo + " available", nil
}
