package audio

import (
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays PCM as if it came from a microphone. With OpenErr set
// every NewCapture fails, which is how a refused microphone looks.
type FakeContext struct {
	pcm        []byte
	sampleRate uint32
	realtime   bool

	OpenErr  error
	StartErr error
}

// NewFakeContext loads a 16-bit mono WAV file. Realtime paces chunks at the
// capture sample rate; otherwise the whole file is delivered on Start.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakeContextPCM(stripWAVHeader(data), realtime), nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime, sampleRate: 16000}
}

func stripWAVHeader(data []byte) []byte {
	if len(data) > WAVHeaderSize && string(data[:4]) == "RIFF" {
		return data[WAVHeaderSize:]
	}
	return data
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, cfg CaptureConfig) (CaptureDevice, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	sr := f.sampleRate
	if cfg.SampleRate != 0 {
		sr = cfg.SampleRate
	}
	return &FakeCapture{
		pcm:        f.pcm,
		realtime:   f.realtime,
		sampleRate: sr,
		startErr:   f.StartErr,
		audioDone:  make(chan struct{}),
	}, nil
}

type FakeCapture struct {
	pcm        []byte
	realtime   bool
	sampleRate uint32
	startErr   error

	mu        sync.Mutex
	cb        DataCallback
	stopCh    chan struct{}
	feedDone  chan struct{}
	audioDone chan struct{}
	closed    bool
}

// AudioDone closes once the whole file has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feed(pos int) int {
	end := min(pos+fakeFrameSize*fakeBytesPerFrame, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	if cb := f.callback(); cb != nil {
		cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	}
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stop, feedDone, audioDone := f.stopCh, f.feedDone, f.audioDone
	f.mu.Unlock()

	if !f.realtime {
		for pos := 0; pos < len(f.pcm); {
			pos = f.feed(pos)
		}
		close(audioDone)
		close(feedDone)
		return nil
	}

	if len(f.pcm) == 0 {
		close(audioDone)
	}
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.sampleRate)
	go func() {
		defer close(feedDone)
		pos := 0
		for {
			if pos < len(f.pcm) {
				pos = f.feed(pos)
				if pos >= len(f.pcm) {
					close(audioDone)
				}
			}
			select {
			case <-stop:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, feedDone := f.stopCh, f.feedDone
	f.stopCh = nil
	f.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-feedDone

	f.mu.Lock()
	select {
	case <-f.audioDone:
		f.audioDone = make(chan struct{}) // reset for replay
	default:
	}
	f.mu.Unlock()
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
