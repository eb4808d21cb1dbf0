// Package playback plays the backend's synthesized speech, one source at a
// time.
package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"

	"soulsync/log"
)

// Output hands decoded audio to a speaker. Play blocks until s is drained or
// ctx is cancelled, and calls started once, when the first samples go out.
// Implementations must allow concurrent Play calls.
type Output interface {
	Play(ctx context.Context, s beep.Streamer, format beep.Format, started func()) error
	Close()
}

type Player struct {
	out   Output
	fetch Fetcher

	mu        sync.Mutex
	gen       uint64
	source    string
	playing   bool
	cancel    context.CancelFunc
	frames    *atomic.Int64
	done      chan struct{}
	listeners []func(source string)
}

func NewPlayer(out Output, fetch Fetcher) *Player {
	done := make(chan struct{})
	close(done)
	return &Player{out: out, fetch: fetch, done: done}
}

// OnStart registers fn to run each time a source begins to sound. fn runs
// under the player's lock, so a Stop either waits for it or prevents it, and
// it must not call back into the player.
func (p *Player) OnStart(fn func(source string)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Play preempts whatever is playing and starts ref in the background.
func (p *Player) Play(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if ref == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.source = ref
	p.playing = true
	p.frames = new(atomic.Int64)
	p.done = make(chan struct{})
	go p.run(ctx, p.gen, ref, p.frames, p.done)
}

// Stop pauses, rewinds and clears the source. Safe to call repeatedly.
func (p *Player) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
}

func (p *Player) stopLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.source = ""
	p.playing = false
	p.frames = nil
}

func (p *Player) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames == nil {
		return 0
	}
	return OutputRate.D(int(p.frames.Load()))
}

// Done is closed when the current source finishes, fails or is stopped.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Player) run(ctx context.Context, gen uint64, ref string, frames *atomic.Int64, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.playing = false
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	fetchStart := time.Now()
	data, err := p.fetch.Fetch(ctx, ref)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("playback fetch failed: %v", err)
		}
		return
	}

	s, format, err := Decode(data)
	if err != nil {
		log.Warnf("playback decode failed (%s, %d bytes): %v", ref, len(data), err)
		return
	}
	defer s.Close()
	log.Infof("playback_start: src=%s rate=%d len=%s fetch_ms=%d", ref, format.SampleRate,
		format.SampleRate.D(s.Len()).Round(time.Millisecond), time.Since(fetchStart).Milliseconds())

	started := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen != gen {
			return
		}
		for _, fn := range p.listeners {
			fn(ref)
		}
	}

	stream := &counter{s: Resampled(s, format), n: frames}
	if err := p.out.Play(ctx, stream, OutputFormat, started); err != nil && ctx.Err() == nil {
		log.Warnf("playback output failed: %v", err)
	}
}
