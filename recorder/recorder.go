// Package recorder turns microphone capture into one upload blob per
// recording.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"soulsync/audio"
	"soulsync/encoder"
	"soulsync/log"
)

// ErrPermissionDenied wraps every failure to open or start the microphone.
var ErrPermissionDenied = errors.New("microphone access denied")

type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Blob is one finished recording, encoded for upload.
type Blob struct {
	Data     []byte
	Format   encoder.Format
	Frames   uint64
	Duration time.Duration
}

func (b Blob) Empty() bool { return b.Frames == 0 }

// Events are invoked from capture and timer goroutines; they must not block.
type Events struct {
	Level   func(rms float64)
	Tick    func(elapsed time.Duration)
	Silence func(SilenceEvent)
}

type Config struct {
	Device *audio.DeviceInfo
	Format encoder.Format
	// AutoClose reports SilenceAutoClose after 30s without speech.
	AutoClose bool
	Events    Events
}

// Controller owns at most one capture stream. The stream is acquired on
// Start and released on Stop.
type Controller struct {
	ctx audio.Context

	mu         sync.Mutex
	cfg        Config
	state      State
	capture    audio.CaptureDevice
	started    time.Time
	done       chan struct{}
	onComplete func(Blob)

	bufMu     sync.Mutex
	accepting bool
	chunks    [][]byte
	frames    uint64

	speech atomic.Bool
}

func New(ctx audio.Context, cfg Config) *Controller {
	if cfg.Format == "" {
		cfg.Format = encoder.WAV
	}
	return &Controller{ctx: ctx, cfg: cfg}
}

// OnComplete registers the callback that receives each finished blob.
func (c *Controller) OnComplete(fn func(Blob)) {
	c.mu.Lock()
	c.onComplete = fn
	c.mu.Unlock()
}

// SetDevice takes effect on the next Start.
func (c *Controller) SetDevice(dev *audio.DeviceInfo) {
	c.mu.Lock()
	c.cfg.Device = dev
	c.mu.Unlock()
}

func (c *Controller) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Device != nil {
		return c.cfg.Device.Name
	}
	return "system default"
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Recording() bool { return c.State() == Recording }

func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Recording {
		return nil
	}

	capture, err := c.ctx.NewCapture(c.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	c.bufMu.Lock()
	c.chunks, c.frames, c.accepting = nil, 0, true
	c.bufMu.Unlock()
	c.speech.Store(false)

	capture.SetCallback(c.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		c.bufMu.Lock()
		c.accepting = false
		c.bufMu.Unlock()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	c.capture = capture
	c.state = Recording
	c.started = time.Now()
	c.done = make(chan struct{})
	go c.monitor(c.done, c.started, c.cfg.Events, c.cfg.AutoClose)

	log.Info("recording_start: " + capture.DeviceName())
	return nil
}

func (c *Controller) onData(data []byte, frameCount uint32) {
	if len(data) == 0 {
		return
	}
	c.bufMu.Lock()
	if !c.accepting {
		c.bufMu.Unlock()
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	c.chunks = append(c.chunks, chunk)
	c.frames += uint64(frameCount)
	c.bufMu.Unlock()

	level := audio.RMS(data)
	if level >= SpeechLevel {
		c.speech.Store(true)
	}
	if fn := c.cfg.Events.Level; fn != nil {
		fn(level)
	}
}

func (c *Controller) monitor(done <-chan struct{}, started time.Time, ev Events, autoClose bool) {
	mon := newSilenceMonitor(autoClose)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if ev.Tick != nil {
				ev.Tick(time.Since(started))
			}
			e := mon.Tick(c.speech.Swap(false))
			if e == SilenceNone {
				continue
			}
			log.Info("silence_" + e.String())
			if ev.Silence != nil {
				ev.Silence(e)
			}
			if e == SilenceAutoClose {
				return
			}
		}
	}
}

// Stop finalises the recording and hands the blob to the completion
// callback. It reports false, and does nothing, when idle.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return false
	}
	capture := c.capture
	started := c.started
	c.capture = nil
	c.state = Idle
	close(c.done)

	capture.Stop()
	capture.ClearCallback()
	capture.Close()

	c.bufMu.Lock()
	c.accepting = false
	chunks, frames := c.chunks, c.frames
	c.chunks, c.frames = nil, 0
	c.bufMu.Unlock()

	blob := c.finalize(chunks, frames)
	onComplete := c.onComplete
	c.mu.Unlock()

	log.Infof("recording_stop: frames=%d held=%s encoded_kb=%.1f", frames, time.Since(started).Round(time.Millisecond), float64(len(blob.Data))/1024)
	if onComplete != nil {
		onComplete(blob)
	}
	return true
}

func (c *Controller) finalize(chunks [][]byte, frames uint64) Blob {
	pcm := bytes.Join(chunks, nil)
	format := c.cfg.Format
	data, _, err := encoder.EncodePCM(format, pcm)
	if err != nil {
		log.Warnf("%s encode failed, falling back to wav: %v", format, err)
		format = encoder.WAV
		data, _, _ = encoder.EncodePCM(format, pcm)
	}
	return Blob{
		Data:     data,
		Format:   format,
		Frames:   frames,
		Duration: time.Duration(frames) * time.Second / encoder.SampleRate,
	}
}
