package doctor

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"

	"soulsync/audio"
	"soulsync/avatar"
	"soulsync/chat"
	"soulsync/encoder"
	"soulsync/hotkey"
	"soulsync/playback"
	"soulsync/recorder"
)

// Config names what the checks exercise. Nil fields skip their check.
type Config struct {
	Backend    *chat.Client
	Mic        audio.Context
	Device     *audio.DeviceInfo
	Output     playback.Output
	AvatarPath string
	// Transform places the avatar; the zero value means the default.
	Transform avatar.Transform
	// Hotkey checks that the push-to-talk key can be registered.
	Hotkey bool
	// RecordFor is how long the microphone check listens.
	RecordFor time.Duration
	// Clipboard also checks the system clipboard. A failure there only
	// warns.
	Clipboard bool
}

type check struct {
	name string
	run  func(*runner) bool
}

type runner struct {
	cfg       Config
	in        *bufio.Reader
	out       io.Writer
	recording []byte
}

// Run executes the diagnostic checks and returns an exit code (0=all pass,
// 1=any fail).
func Run(cfg Config, in io.Reader, out io.Writer) int {
	resetTerminal()
	setupInterruptHandler()

	if cfg.RecordFor <= 0 {
		cfg.RecordFor = 3 * time.Second
	}
	r := &runner{cfg: cfg, in: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "soulsync doctor - interactive system diagnostics")
	fmt.Fprintln(out, "================================================")

	var checks []check
	if cfg.Backend != nil {
		checks = append(checks, check{"Backend", (*runner).checkBackend})
	}
	if cfg.Mic != nil {
		checks = append(checks, check{"Microphone", (*runner).checkMic})
	}
	if cfg.Output != nil {
		checks = append(checks, check{"Speaker", (*runner).checkSpeaker})
	}
	if cfg.AvatarPath != "" {
		checks = append(checks, check{"Avatar asset", (*runner).checkAvatar})
	}
	if cfg.Clipboard {
		checks = append(checks, check{"Clipboard", (*runner).checkClipboard})
	}
	if cfg.Hotkey {
		checks = append(checks, check{"Hotkey", (*runner).checkHotkey})
	}

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.run(r) {
			allPass = false
		}
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func (r *runner) pass(format string, args ...any) bool {
	fmt.Fprintf(r.out, "  PASS: "+format+"\n", args...)
	return true
}

func (r *runner) fail(format string, args ...any) bool {
	fmt.Fprintf(r.out, "  FAIL: "+format+"\n", args...)
	return false
}

func (r *runner) confirm(question string) bool {
	fmt.Fprintf(r.out, "%s [y/n]: ", question)
	answer, _ := r.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (r *runner) checkBackend() bool {
	fmt.Fprintf(r.out, "Contacting %s...\n", r.cfg.Backend.BaseURL())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rtt, err := r.cfg.Backend.Ping(ctx)
	if err != nil {
		return r.fail("backend unreachable: %v", err)
	}
	return r.pass("backend answered in %s", rtt.Round(time.Millisecond))
}

func (r *runner) checkMic() bool {
	fmt.Fprintf(r.out, "Press Enter and speak for %s...", r.cfg.RecordFor)
	r.in.ReadString('\n')

	var mu sync.Mutex
	var peak float64
	rec := recorder.New(r.cfg.Mic, recorder.Config{
		Device: r.cfg.Device,
		Events: recorder.Events{Level: func(rms float64) {
			mu.Lock()
			peak = max(peak, rms)
			mu.Unlock()
		}},
	})
	var blob recorder.Blob
	rec.OnComplete(func(b recorder.Blob) { blob = b })

	if err := rec.Start(); err != nil {
		return r.fail("%v", err)
	}
	fmt.Fprintf(r.out, "  Recording from %s", rec.DeviceName())
	deadline := time.After(r.cfg.RecordFor)
	ticker := time.NewTicker(500 * time.Millisecond)
wait:
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(r.out, ".")
		case <-deadline:
			break wait
		}
	}
	ticker.Stop()
	rec.Stop()
	fmt.Fprintln(r.out, " done")
	mu.Lock()
	defer mu.Unlock()

	if blob.Empty() {
		return r.fail("no audio captured")
	}
	fmt.Fprintf(r.out, "  Captured %s, %.1f KB, peak level %.3f\n", blob.Duration.Round(time.Millisecond), float64(len(blob.Data))/1024, peak)
	if peak < recorder.SpeechLevel {
		return r.fail("level stayed below speech threshold (%.3f); is the right device selected?", recorder.SpeechLevel)
	}
	r.recording = blob.Data
	return r.pass("microphone captures speech")
}

func (r *runner) checkSpeaker() bool {
	data := r.recording
	what := "your recording"
	if data == nil {
		data = tone()
		what = "a test tone"
	}
	s, format, err := playback.Decode(data)
	if err != nil {
		return r.fail("decode: %v", err)
	}
	defer s.Close()

	fmt.Fprintf(r.out, "Playing %s...\n", what)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var started atomic.Bool
	err = r.cfg.Output.Play(ctx, playback.Resampled(s, format), playback.OutputFormat, func() { started.Store(true) })
	if err != nil {
		return r.fail("playback: %v", err)
	}
	if !started.Load() {
		return r.fail("output never started")
	}
	if !r.confirm(fmt.Sprintf("Did you hear %s?", what)) {
		return r.fail("playback not confirmed")
	}
	return r.pass("speaker verified by user")
}

func (r *runner) checkAvatar() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	t := r.cfg.Transform
	if t.Scale == 0 {
		t = avatar.DefaultTransform()
	}
	scene, err := avatar.NewLoader(t).Load(ctx, r.cfg.AvatarPath)
	if err != nil {
		return r.fail("%v", err)
	}
	m, _ := scene.Morphs()
	names := strings.Join(m.Names(), ", ")
	if strings.Trim(names, ", ") == "" {
		names = "unnamed"
	}
	fmt.Fprintf(r.out, "  mesh %q with %d morph targets (%s)\n", scene.MeshName(), m.Len(), names)

	origin := scene.Transform.Model().Col(3)
	place := avatar.DefaultCamera().Place(scene.Transform, 1)
	fmt.Fprintf(r.out, "  origin (%.2f, %.2f, %.2f), head at (%.2f, %.2f) radius %.2f\n",
		origin.X(), origin.Y(), origin.Z(), place.X, place.Y, place.Radius)
	if !place.Visible {
		return r.fail("avatar head is out of view; check avatar.position and avatar.scale")
	}
	return r.pass("avatar loaded and in view")
}

func (r *runner) checkHotkey() bool {
	msg, err := hotkey.Diagnose()
	if err != nil {
		return r.fail("%v", err)
	}
	return r.pass("%s", msg)
}

func (r *runner) checkClipboard() bool {
	const marker = "soulsync-doctor-test"
	if err := clipboard.WriteAll(marker); err != nil {
		fmt.Fprintf(r.out, "  WARN: clipboard unavailable, ctrl+y will not work: %v\n", err)
		return true
	}
	got, err := clipboard.ReadAll()
	if err != nil || got != marker {
		fmt.Fprintf(r.out, "  WARN: clipboard read back %q (%v)\n", got, err)
		return true
	}
	return r.pass("clipboard round trip")
}

// tone is one second of 440Hz as WAV.
func tone() []byte {
	pcm := make([]byte, encoder.SampleRate*2)
	for i := 0; i < encoder.SampleRate; i++ {
		v := int16(math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate) * 8000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	data, _, _ := encoder.EncodePCM(encoder.WAV, pcm)
	return data
}
