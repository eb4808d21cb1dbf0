// Package lipsync animates the avatar's mouth while speech plays.
package lipsync

import (
	"sync"
	"time"

	"soulsync/avatar"
	"soulsync/log"
)

const DefaultDecay = 100 * time.Millisecond

// Targets reports the face mesh's weights once it has loaded.
type Targets interface {
	Morphs() (*avatar.Morphs, bool)
}

// ShapeMap names the morph targets each viseme opens. Visemes without a
// resolvable entry drive targets 0 and 1.
type ShapeMap map[Viseme][]string

var defaultTargets = []int{0, 1}

type Options struct {
	Scheduler Scheduler
	Clock     Clock
	Decay     time.Duration
	Shapes    ShapeMap
}

type Driver struct {
	targets Targets
	sched   Scheduler
	clock   Clock
	decay   time.Duration
	shapes  ShapeMap

	mu      sync.Mutex
	text    string
	pulses  []Pulse
	gen     uint64
	timers  []Timer
	touched map[int]struct{}
}

func New(targets Targets, opts Options) *Driver {
	if opts.Scheduler == nil {
		opts.Scheduler = FixedSchedule{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Decay <= 0 {
		opts.Decay = DefaultDecay
	}
	return &Driver{
		targets: targets,
		sched:   opts.Scheduler,
		clock:   opts.Clock,
		decay:   opts.Decay,
		shapes:  opts.Shapes,
		touched: make(map[int]struct{}),
	}
}

// Cue sets the text the next Start schedules from.
func (d *Driver) Cue(text string) {
	d.mu.Lock()
	d.text, d.pulses = text, nil
	d.mu.Unlock()
}

// CueVisemes replaces the scheduler's output for the next Start with
// explicit timing.
func (d *Driver) CueVisemes(pulses []Pulse) {
	d.mu.Lock()
	d.pulses = append([]Pulse(nil), pulses...)
	d.mu.Unlock()
}

// Start cancels any running schedule and schedules the cued pulses.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()

	pulses := d.pulses
	if len(pulses) == 0 {
		pulses = d.sched.Schedule(d.text)
	}
	gen := d.gen
	for _, p := range pulses {
		p := p
		d.timers = append(d.timers, d.clock.AfterFunc(p.At, func() { d.fire(gen, p) }))
	}
}

// Stop cancels pending pulses and zeroes every weight a pulse set.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.cancelLocked()
	d.mu.Unlock()
}

func (d *Driver) cancelLocked() {
	d.gen++
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
	if len(d.touched) == 0 {
		return
	}
	if m, ok := d.targets.Morphs(); ok {
		for i := range d.touched {
			m.Set(i, 0)
		}
	}
	clear(d.touched)
}

func (d *Driver) fire(gen uint64, p Pulse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return
	}
	m, ok := d.targets.Morphs()
	if !ok {
		log.Info("lipsync: mesh not loaded, pulse dropped")
		return
	}
	idx := d.resolve(m, p.Viseme)
	for _, i := range idx {
		if m.Set(i, 1) {
			d.touched[i] = struct{}{}
		}
	}
	d.timers = append(d.timers, d.clock.AfterFunc(d.decay, func() { d.revert(gen, idx) }))
}

func (d *Driver) revert(gen uint64, idx []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return
	}
	m, ok := d.targets.Morphs()
	if !ok {
		return
	}
	for _, i := range idx {
		m.Set(i, 0)
		delete(d.touched, i)
	}
}

func (d *Driver) resolve(m *avatar.Morphs, v Viseme) []int {
	var idx []int
	for _, name := range d.shapes[v] {
		if i := m.Index(name); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return defaultTargets
	}
	return idx
}
