//go:build linux

package hotkey

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Reading /dev/input directly keeps the binary free of X11, so it starts
// over SSH and on Wayland.

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keySpace   = 57
)

const inputEventSize = 24

type evdevHotkey struct {
	keydown chan struct{}
	keyup   chan struct{}
	files   []*os.File
	stop    chan struct{}
	once    sync.Once
}

func New() Hotkey {
	return &evdevHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (h *evdevHotkey) Register() error {
	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(keyboards) == 0 {
		return fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.readEvents(f)
	}
	if len(h.files) == 0 {
		return fmt.Errorf("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")
	}
	return nil
}

// comboState tracks modifiers across reads from one device.
type comboState struct {
	ctrl, shift, space bool
}

// feed decodes input_event records and reports combo presses and releases.
func (s *comboState) feed(buf []byte, down, up func()) {
	for i := 0; i+inputEventSize <= len(buf); i += inputEventSize {
		typ := binary.LittleEndian.Uint16(buf[i+16:])
		code := binary.LittleEndian.Uint16(buf[i+18:])
		value := int32(binary.LittleEndian.Uint32(buf[i+20:]))
		if typ != evKey {
			continue
		}

		pressed := value == keyPress
		released := value == keyRelease
		switch code {
		case keyLCtrl, keyRCtrl:
			s.ctrl = pressed || (!released && s.ctrl)
		case keyLShift, keyRShift:
			s.shift = pressed || (!released && s.shift)
		case keySpace:
			if pressed && !s.space && s.ctrl && s.shift {
				s.space = true
				down()
			} else if released && s.space {
				s.space = false
				up()
			}
		}
	}
}

func (h *evdevHotkey) readEvents(f *os.File) {
	buf := make([]byte, inputEventSize*16)
	var st comboState
	notify := func(ch chan struct{}) func() {
		return func() {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	down, up := notify(h.keydown), notify(h.keyup)

	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		select {
		case <-h.stop:
			return
		default:
		}
		st.feed(buf[:n], down, up)
	}
}

func (h *evdevHotkey) Unregister() {
	h.once.Do(func() {
		close(h.stop)
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}
	var keyboards []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "event") && isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

// isKeyboard treats devices with a long key capability bitmap as keyboards.
func isKeyboard(eventName string) bool {
	data, err := os.ReadFile(filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key"))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

// Diagnose reports whether a keyboard device can be opened.
func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}
	for _, path := range keyboards {
		if f, err := os.Open(path); err == nil {
			f.Close()
			return fmt.Sprintf("%d keyboard(s) found, opened %s", len(keyboards), path), nil
		}
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
}
