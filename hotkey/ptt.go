package hotkey

import (
	"sync"
	"sync/atomic"
	"time"
)

type Action int

const (
	ActionStart Action = iota
	ActionStop
)

func (a Action) String() string {
	if a == ActionStop {
		return "stop"
	}
	return "start"
}

// PushToTalk turns one key into recording control. Every press starts a
// recording at once. Held past longPress, the release stops it; released
// sooner, the recording keeps going until the next press is released.
type PushToTalk struct {
	actions chan Action
	toggled atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func NewPushToTalk(hk Hotkey, longPress time.Duration) *PushToTalk {
	p := &PushToTalk{
		actions: make(chan Action, 2),
		done:    make(chan struct{}),
	}
	go p.run(hk, longPress)
	return p
}

func (p *PushToTalk) Actions() <-chan Action { return p.actions }

// Toggled reports whether the current recording was started by a tap.
func (p *PushToTalk) Toggled() bool { return p.toggled.Load() }

func (p *PushToTalk) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *PushToTalk) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *PushToTalk) emit(a Action) bool {
	if p.closed() {
		return false
	}
	select {
	case p.actions <- a:
		return true
	case <-p.done:
		return false
	}
}

// wait blocks on ch until it fires or the controller closes.
func (p *PushToTalk) wait(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-p.done:
		return false
	}
}

func (p *PushToTalk) run(hk Hotkey, longPress time.Duration) {
	for {
		if !p.wait(hk.Keydown()) || !p.emit(ActionStart) {
			return
		}

		timer := time.NewTimer(longPress)
		select {
		case <-p.done:
			timer.Stop()
			return
		case <-timer.C:
			// Held: stop on release.
			if !p.wait(hk.Keyup()) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			p.toggled.Store(true)
			// Tapped: the next press and release stops.
			if !p.wait(hk.Keydown()) || !p.wait(hk.Keyup()) {
				return
			}
		}
		p.toggled.Store(false)
		if !p.emit(ActionStop) {
			return
		}
	}
}
