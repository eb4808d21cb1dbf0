package chat

import (
	"context"
	"sync"
)

// Fake answers from a script of results. When the script runs out it
// echoes the message back.
type Fake struct {
	mu      sync.Mutex
	results []FakeResult
	Texts   []string
	Voices  []Audio

	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}
}

type FakeResult struct {
	Reply *Reply
	Err   error
}

func NewFake(results ...FakeResult) *Fake {
	return &Fake{results: results}
}

func (f *Fake) Push(r FakeResult) {
	f.mu.Lock()
	f.results = append(f.results, r)
	f.mu.Unlock()
}

func (f *Fake) next(fallback string) (*Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return &Reply{Text: fallback}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.Reply, r.Err
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Gate == nil {
		return nil
	}
	select {
	case <-f.Gate:
		return nil
	case <-ctx.Done():
		return &NetworkError{Op: "fake", Err: ctx.Err()}
	}
}

func (f *Fake) SendText(ctx context.Context, message string) (*Reply, error) {
	f.mu.Lock()
	f.Texts = append(f.Texts, message)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.next("echo: " + message)
}

func (f *Fake) SendVoice(ctx context.Context, a Audio) (*Reply, error) {
	f.mu.Lock()
	f.Voices = append(f.Voices, a)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.next("voice received")
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Texts) + len(f.Voices)
}
