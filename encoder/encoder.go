package encoder

import (
	"encoding/binary"
	"fmt"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Format names an upload container for recorded speech.
type Format string

const (
	WAV  Format = "wav"
	FLAC Format = "flac"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case WAV, "":
		return WAV, nil
	case FLAC:
		return FLAC, nil
	}
	return "", fmt.Errorf("unknown audio format %q (use wav or flac)", s)
}

// Filename is the multipart filename the backend sees.
func (f Format) Filename() string { return "recording." + string(f) }

func (f Format) ContentType() string {
	if f == FLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

func New(f Format) (Encoder, error) {
	switch f {
	case WAV, "":
		return NewWAV(), nil
	case FLAC:
		return NewFlac()
	}
	return nil, fmt.Errorf("unknown audio format %q", f)
}

// EncodePCM encodes little-endian 16-bit mono PCM in BlockSize chunks.
func EncodePCM(f Format, pcm []byte) ([]byte, uint64, error) {
	enc, err := New(f)
	if err != nil {
		return nil, 0, err
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, 0, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, 0, err
	}
	return enc.Bytes(), enc.TotalFrames(), nil
}
