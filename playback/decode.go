package playback

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// Speaker format every Output is opened with. Sources at other rates are
// resampled.
const (
	OutputRate     beep.SampleRate = 44100
	outputChannels                 = 2
	resampleQual                   = 4
)

var OutputFormat = beep.Format{SampleRate: OutputRate, NumChannels: outputChannels, Precision: 2}

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decode sniffs data as WAV or MP3.
func Decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch {
	case isWAV(data):
		return wav.Decode(bytes.NewReader(data))
	case isMP3(data):
		return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	}
	return nil, beep.Format{}, ErrUnsupportedFormat
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func isMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	// MPEG frame sync
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

// Resampled resamples s to OutputRate when needed.
func Resampled(s beep.Streamer, f beep.Format) beep.Streamer {
	if f.SampleRate == OutputRate {
		return s
	}
	return beep.Resample(resampleQual, f.SampleRate, OutputRate, s)
}

// counter counts frames as the output pulls them.
type counter struct {
	s beep.Streamer
	n *atomic.Int64
}

func (c *counter) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.s.Stream(samples)
	c.n.Add(int64(n))
	return n, ok
}

func (c *counter) Err() error { return c.s.Err() }
