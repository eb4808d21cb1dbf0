package lipsync

import (
	"strings"
	"time"
	"unicode"
)

type Viseme string

const (
	A Viseme = "A"
	O Viseme = "O"
	E Viseme = "E"
)

// ParseViseme maps the shape names backends commonly send onto A, O and E.
func ParseViseme(s string) (Viseme, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "aa", "ah":
		return A, true
	case "o", "oh", "ou", "u", "uw":
		return O, true
	case "e", "ee", "eh", "i", "ih", "iy":
		return E, true
	}
	return "", false
}

// Pulse opens the mouth into Viseme at offset At from playback start.
type Pulse struct {
	Viseme Viseme
	At     time.Duration
}

type Scheduler interface {
	Schedule(text string) []Pulse
}

// FixedSchedule ignores the text: A, O, E at 100, 300 and 500ms.
type FixedSchedule struct{}

func (FixedSchedule) Schedule(string) []Pulse {
	return []Pulse{
		{A, 100 * time.Millisecond},
		{O, 300 * time.Millisecond},
		{E, 500 * time.Millisecond},
	}
}

// TextSchedule pulses once per vowel in the text, one character every
// PerChar. Text without vowels falls back to FixedSchedule.
type TextSchedule struct {
	Lead    time.Duration
	PerChar time.Duration
	Max     int
}

func DefaultTextSchedule() TextSchedule {
	return TextSchedule{Lead: 100 * time.Millisecond, PerChar: 65 * time.Millisecond, Max: 64}
}

func (s TextSchedule) Schedule(text string) []Pulse {
	var out []Pulse
	for i, r := range []rune(text) {
		if s.Max > 0 && len(out) >= s.Max {
			break
		}
		if v, ok := vowel(r); ok {
			out = append(out, Pulse{v, s.Lead + time.Duration(i)*s.PerChar})
		}
	}
	if len(out) == 0 {
		return FixedSchedule{}.Schedule(text)
	}
	return out
}

func vowel(r rune) (Viseme, bool) {
	switch unicode.ToLower(r) {
	case 'a':
		return A, true
	case 'o', 'u':
		return O, true
	case 'e', 'i':
		return E, true
	}
	return "", false
}
