package recorder

import "time"

const (
	tickInterval        = 100 * time.Millisecond
	silenceWarnEvery    = 8 * time.Second
	silenceAutoCloseDur = 30 * time.Second
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // higher threshold to clear warning (hysteresis)

	// SpeechLevel is the RMS a chunk must reach to count as speech.
	SpeechLevel = 0.02
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // still silent, every 8s
	SilenceAutoClose              // 30s of silence
)

func (e SilenceEvent) String() string {
	switch e {
	case SilenceWarn:
		return "warn"
	case SilenceWarnClear:
		return "warn_clear"
	case SilenceRepeat:
		return "repeat"
	case SilenceAutoClose:
		return "auto_close"
	}
	return "none"
}

// silenceMonitor keeps a ring of per-tick speech flags covering the
// auto-close window.
type silenceMonitor struct {
	warnAt    int
	windowSz  int
	autoClose bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastWarn    int
}

func newSilenceMonitor(autoClose bool) *silenceMonitor {
	windowSz := int(silenceAutoCloseDur / tickInterval)
	return &silenceMonitor{
		warnAt:    int(silenceWarnEvery / tickInterval),
		windowSz:  windowSz,
		autoClose: autoClose,
		window:    make([]bool, windowSz),
	}
}

// recentRatio is the share of speech ticks among the last n.
func (m *silenceMonitor) recentRatio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.recentRatio(m.warnAt)
	switch {
	case !m.warned && m.ticks >= m.warnAt && r < speechMinRatio:
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	case m.warned && r >= speechClearRatio:
		m.warned = false
		return SilenceWarnClear
	}

	if !m.autoClose {
		return SilenceNone
	}
	// checked before repeat so a long silence closes instead of nagging
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoClose
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}
