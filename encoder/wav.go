package encoder

import (
	"bytes"
	"encoding/binary"
	"sync"
)

const wavHeaderSize = 44

// WAVEncoder buffers PCM and prepends a canonical 44-byte RIFF header on Close.
type WAVEncoder struct {
	mu     sync.Mutex
	pcm    bytes.Buffer
	out    []byte
	frames uint64
}

func NewWAV() *WAVEncoder {
	return &WAVEncoder{}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var b [2]byte
	for _, s := range block {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		e.pcm.Write(b[:])
	}
	e.frames += uint64(len(block))
	return nil
}

func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out != nil {
		return nil
	}
	dataSize := uint32(e.pcm.Len())
	byteRate := uint32(SampleRate * Channels * BitsPerSample / 8)
	blockAlign := uint16(Channels * BitsPerSample / 8)

	out := make([]byte, 0, wavHeaderSize+e.pcm.Len())
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, 36+dataSize)
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, Channels)
	out = binary.LittleEndian.AppendUint32(out, SampleRate)
	out = binary.LittleEndian.AppendUint32(out, byteRate)
	out = binary.LittleEndian.AppendUint16(out, blockAlign)
	out = binary.LittleEndian.AppendUint16(out, BitsPerSample)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, dataSize)
	out = append(out, e.pcm.Bytes()...)
	e.out = out
	return nil
}

func (e *WAVEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *WAVEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}
