package beep

import (
	"math"
	"testing"

	gb "github.com/gopxl/beep"

	"soulsync/playback"
)

func drain(s gb.Streamer) (frames int, peak float64) {
	buf := make([][2]float64, 300)
	for {
		n, ok := s.Stream(buf)
		for _, v := range buf[:n] {
			peak = math.Max(peak, math.Abs(v[0]))
		}
		frames += n
		if !ok {
			return
		}
	}
}

func TestTickLength(t *testing.T) {
	frames, peak := drain(tick(startFreq, startDur, startVolume, startDecay))
	want := playback.OutputRate.N(secs(startDur))
	if frames != want {
		t.Errorf("got %d frames, want %d", frames, want)
	}
	if peak > startVolume || peak < startVolume/2 {
		t.Errorf("peak %.3f outside (%.2f, %.2f]", peak, startVolume/2, startVolume)
	}
}

func TestDoubleBeepLength(t *testing.T) {
	frames, _ := drain(doubleBeep(errorFreq, errorDur, errorGap, errorVolume, errorDecay))
	rate := playback.OutputRate
	want := 2*rate.N(secs(errorDur)) + rate.N(secs(errorGap))
	if frames != want {
		t.Errorf("got %d frames, want %d", frames, want)
	}
}
