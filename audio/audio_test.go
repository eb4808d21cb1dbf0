package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
)

func tone(n int, amp int16) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]byte, 200), 0},
		{"half scale", tone(100, 16384), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.pcm); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Built-in Microphone", false},
		{"Headset (BT)", true},
	} {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)

	dev, err := FindDevice(ctx, "")
	if err != nil || dev != nil {
		t.Errorf("empty name: got %v, %v; want nil, nil", dev, err)
	}
	dev, err = FindDevice(ctx, "fake")
	if err != nil || dev == nil || dev.ID != "fake" {
		t.Errorf("fake: got %v, %v", dev, err)
	}
	if _, err := FindDevice(ctx, "missing"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestFakeCaptureDeliversAllPCM(t *testing.T) {
	pcm := tone(fakeFrameSize*3+10, 1000)
	ctx := NewFakeContextPCM(pcm, false)
	capture, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []byte
	capture.SetCallback(func(data []byte, frames uint32) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
		if int(frames)*2 != len(data) {
			t.Errorf("frames %d does not match %d bytes", frames, len(data))
		}
	})
	if err := capture.Start(); err != nil {
		t.Fatal(err)
	}
	<-capture.(*FakeCapture).AudioDone()
	capture.Stop()
	capture.Close()

	if string(got) != string(pcm) {
		t.Errorf("got %d bytes, want %d", len(got), len(pcm))
	}
	if !capture.(*FakeCapture).Closed() {
		t.Error("capture not closed")
	}
}

func TestFakeContextOpenErr(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	ctx.OpenErr = errors.New("denied")
	if _, err := ctx.NewCapture(nil, CaptureConfig{}); err == nil {
		t.Error("expected open error")
	}
}

func TestStripWAVHeader(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	withHeader := append([]byte("RIFF"), make([]byte, WAVHeaderSize-4)...)
	withHeader = append(withHeader, body...)
	if got := stripWAVHeader(withHeader); string(got) != string(body) {
		t.Errorf("got %v, want %v", got, body)
	}
	if got := stripWAVHeader(body); string(got) != string(body) {
		t.Errorf("raw PCM altered: %v", got)
	}
}
