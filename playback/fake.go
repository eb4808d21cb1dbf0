package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gopxl/beep"
)

// FakeOutput drains streams as fast as they can be read.
type FakeOutput struct {
	// Hold, when set, blocks Play after the first samples until it is
	// closed or ctx ends.
	Hold chan struct{}

	mu     sync.Mutex
	frames int
	plays  int
}

func (f *FakeOutput) Play(ctx context.Context, s beep.Streamer, format beep.Format, started func()) error {
	f.mu.Lock()
	f.plays++
	f.mu.Unlock()

	buf := make([][2]float64, 512)
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := s.Stream(buf)
		f.mu.Lock()
		f.frames += n
		f.mu.Unlock()
		if n > 0 && first {
			first = false
			started()
			if f.Hold != nil {
				select {
				case <-f.Hold:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if !ok {
			return s.Err()
		}
	}
}

func (f *FakeOutput) Close() {}

func (f *FakeOutput) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *FakeOutput) Plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

// StaticFetcher serves audio from memory.
type StaticFetcher map[string][]byte

func (m StaticFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("no audio for %q", ref)
	}
	return data, nil
}
