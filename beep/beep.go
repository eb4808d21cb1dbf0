// Package beep plays the short cue tones around a recording.
package beep

import (
	"context"
	"math"
	"sync"
	"time"

	gb "github.com/gopxl/beep"

	"soulsync/log"
	"soulsync/playback"
)

const (
	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60
	startDur    = 0.2

	// End beep: medium pitch, slightly longer decay
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40
	endDur    = 0.2

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
	errorDur    = 0.08
	errorGap    = 0.05
)

var (
	mu       sync.Mutex
	out      playback.Output
	disabled bool
)

// Init routes cues to o. Until Init is called every cue is silent.
func Init(o playback.Output) {
	mu.Lock()
	out = o
	mu.Unlock()
}

func Disable() {
	mu.Lock()
	disabled = true
	mu.Unlock()
}

func PlayStart() { play(tick(startFreq, startDur, startVolume, startDecay)) }

func PlayEnd() { play(tick(endFreq, endDur, endVolume, endDecay)) }

func PlayError() { play(doubleBeep(errorFreq, errorDur, errorGap, errorVolume, errorDecay)) }

func play(s gb.Streamer) {
	mu.Lock()
	o, off := out, disabled
	mu.Unlock()
	if o == nil || off {
		return
	}
	go func() {
		if err := o.Play(context.Background(), s, playback.OutputFormat, func() {}); err != nil {
			log.Warnf("cue playback error: %v", err)
		}
	}()
}

// tick is a sine at freq with an exponential decay envelope.
func tick(freq, duration, volume, decay float64) gb.Streamer {
	rate := playback.OutputRate
	total := rate.N(secs(duration))
	i := 0
	return gb.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if i >= total {
			return 0, false
		}
		n := 0
		for ; n < len(samples) && i < total; n, i = n+1, i+1 {
			t := float64(i) / float64(rate)
			v := math.Sin(2*math.Pi*freq*t) * volume * math.Exp(-t*decay)
			samples[n] = [2]float64{v, v}
		}
		return n, true
	})
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) gb.Streamer {
	gap := gb.Silence(playback.OutputRate.N(secs(gapDur)))
	return gb.Seq(tick(freq, beepDur, volume, decay), gap, tick(freq, beepDur, volume, decay))
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
