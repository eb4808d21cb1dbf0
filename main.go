package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"soulsync/audio"
	"soulsync/avatar"
	"soulsync/beep"
	"soulsync/chat"
	"soulsync/config"
	"soulsync/doctor"
	"soulsync/hotkey"
	"soulsync/lipsync"
	"soulsync/log"
	"soulsync/playback"
	"soulsync/recorder"
	"soulsync/session"
	"soulsync/shutdown"
)

var version = "dev"

// app holds the resources of one run. The session borrows them; app owns
// and closes them.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	mic    audio.Context
	device *audio.DeviceInfo
	rec    *recorder.Controller
	client *chat.Client
	out    playback.Output
	player *playback.Player
	scene  *avatar.Scene
	lips   *lipsync.Driver
	sess   *session.Session
}

type appOptions struct {
	// MicWAV replaces the microphone with a WAV file.
	MicWAV string
	// Realtime paces MicWAV like a live microphone.
	Realtime bool
	// Mute sends speech and cues to a silent sink.
	Mute bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	client, err := chat.New(cfg.Backend.URL, cfg.Backend.Timeout)
	if err != nil {
		return nil, err
	}
	a := &app{ctx: ctx, cfg: cfg, client: client}

	if opts.MicWAV != "" {
		fake, err := audio.NewFakeContext(opts.MicWAV, opts.Realtime)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", opts.MicWAV, err)
		}
		a.mic = fake
	} else if mic, err := audio.NewContext(); err != nil {
		log.Warnf("audio context init error: %v", err)
	} else {
		a.mic = mic
	}
	if a.mic != nil {
		dev, err := audio.FindDevice(a.mic, cfg.Audio.Device)
		if err != nil {
			log.Warnf("%v, using system default", err)
		}
		a.device = dev
		a.rec = recorder.New(a.mic, recorder.Config{
			Device:    dev,
			Format:    cfg.UploadFormat(),
			AutoClose: true,
			Events:    a.recorderEvents(),
		})
	}

	if opts.Mute {
		a.out = &playback.FakeOutput{}
	} else if out, err := playback.NewOutput(); err != nil {
		log.Warnf("speaker output unavailable, speech muted: %v", err)
		a.out = &playback.FakeOutput{}
	} else {
		a.out = out
	}
	a.player = playback.NewPlayer(a.out, playback.NewHTTPFetcher(client.ResolveURL, cfg.Backend.Timeout))
	if cfg.Audio.Cues && !opts.Mute {
		beep.Init(a.out)
	} else {
		beep.Disable()
	}

	a.scene = avatar.NewLoader(cfg.Transform()).Preload(cfg.Avatar.Asset)
	a.lips = lipsync.New(a.scene, lipsync.Options{
		Scheduler: cfg.Scheduler(),
		Decay:     cfg.LipSync.Decay,
		Shapes:    cfg.Shapes(),
	})
	return a, nil
}

// startSession creates the conversation. The recorder is left out when
// there is no microphone, which the session reports as a refused mic.
func (a *app) startSession() {
	deps := session.Deps{
		Chat:    a.client,
		Player:  a.player,
		LipSync: a.lips,
		Backend: a.client.BaseURL(),
	}
	if a.rec != nil {
		deps.Recorder = a.rec
	}
	a.sess = session.New(deps)
	a.sess.OnChange(func(session.State) { go tuiSend(sessionChangedMsg{}) })
}

func (a *app) Close() {
	if a.sess != nil {
		st := a.sess.State()
		if st.Recording && a.rec != nil {
			a.rec.Stop()
		}
		log.SessionEnd(st.ID, len(st.Transcript))
	}
	if a.player != nil {
		a.player.Stop()
	}
	if a.lips != nil {
		a.lips.Stop()
	}
	if a.out != nil {
		a.out.Close()
	}
	if a.mic != nil {
		a.mic.Close()
	}
}

func (a *app) recorderEvents() recorder.Events {
	return recorder.Events{
		Level: func(rms float64) { tuiSend(AudioLevelMsg{Level: rms}) },
		Tick:  func(d time.Duration) { tuiSend(RecordingTickMsg{Duration: d.Seconds()}) },
		Silence: func(e recorder.SilenceEvent) {
			switch e {
			case recorder.SilenceWarn:
				tuiSend(NoVoiceWarningMsg{})
				beep.PlayError()
			case recorder.SilenceWarnClear:
				tuiSend(VoiceClearedMsg{})
			case recorder.SilenceRepeat:
				tuiSend(NoVoiceWarningMsg{})
				beep.PlayError()
			case recorder.SilenceAutoClose:
				go a.stopRecording(a.ctx)
			}
		},
	}
}

func (a *app) startRecording() error {
	if a.sess.State().Recording {
		return nil
	}
	if err := a.sess.StartRecording(); err != nil {
		beep.PlayError()
		return err
	}
	beep.PlayStart()
	return nil
}

func (a *app) stopRecording(ctx context.Context) error {
	if !a.sess.State().Recording {
		return nil
	}
	beep.PlayEnd()
	return a.sess.StopRecording(ctx)
}

// setDevice switches the microphone for the next recording.
func (a *app) setDevice(dev *audio.DeviceInfo) {
	a.device = dev
	if a.rec != nil {
		a.rec.SetDevice(dev)
	}
	log.Info("device_switch: " + deviceName(dev))
}

func deviceName(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	return dev.Name
}

func deviceLineText(dev *audio.DeviceInfo) string {
	suffix := ""
	if dev != nil && audio.IsBluetooth(dev.Name) {
		suffix = " (BT!)"
	}
	return "mic: " + deviceName(dev) + suffix + " (ctrl+g)"
}

// startHotkey drives recording from the global push-to-talk key until ctx
// ends. The returned func releases the key.
func (a *app) startHotkey(ctx context.Context, longPress time.Duration) (func(), error) {
	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		return nil, err
	}
	ptt := hotkey.NewPushToTalk(hk, longPress)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case act := <-ptt.Actions():
				log.Info("hotkey_" + act.String())
				if act == hotkey.ActionStart {
					a.startRecording()
				} else {
					go a.stopRecording(ctx)
				}
			}
		}
	}()
	return func() {
		ptt.Close()
		hk.Unregister()
	}, nil
}

func (a *app) doctorConfig() doctor.Config {
	return doctor.Config{
		Backend:    a.client,
		Mic:        a.mic,
		Device:     a.device,
		Output:     a.out,
		AvatarPath: a.cfg.Avatar.Asset,
		Transform:  a.cfg.Transform(),
		Hotkey:     a.cfg.Hotkey.Enabled,
		Clipboard:  true,
	}
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func run() {
	configFlag := flag.String("config", "", "Config file (default: soulsync.yaml in ., the user config dir or ~/.soulsync)")
	backendFlag := flag.String("backend", "", "Backend base URL (default "+chat.DefaultBaseURL+")")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	formatFlag := flag.String("format", "", "Voice upload format: wav or flac")
	avatarFlag := flag.String("avatar", "", "Avatar asset (.glb or .gltf)")
	noCuesFlag := flag.Bool("nocues", false, "Disable recording cue tones")
	muteFlag := flag.Bool("mute", false, "Discard speech audio instead of playing it")
	hotkeyFlag := flag.Bool("hotkey", false, "Enable "+hotkey.Combo+" push-to-talk")
	flag.Bool("gui", false, "Also show the avatar in a window (needs a build with -tags gui)")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Hotkey hold time after which release stops recording")
	scriptFlag := flag.Bool("script", false, "Headless mode driven by commands on stdin")
	micFlag := flag.String("mic", "", "Replay a 16kHz mono WAV file as the microphone")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *versionFlag {
		fmt.Printf("soulsync %s\n", version)
		os.Exit(0)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	overrides := map[string]any{}
	if set["backend"] {
		overrides["backend.url"] = *backendFlag
	}
	if set["device"] {
		overrides["audio.device"] = *deviceFlag
	}
	if set["format"] {
		overrides["audio.format"] = *formatFlag
	}
	if set["avatar"] {
		overrides["avatar.asset"] = *avatarFlag
	}
	if *noCuesFlag {
		overrides["audio.cues"] = false
	}
	if *hotkeyFlag {
		overrides["hotkey.enabled"] = true
	}

	cfg, err := config.Load(*configFlag, overrides)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		MicWAV:   *micFlag,
		Realtime: !*scriptFlag,
		Mute:     *muteFlag,
	})
	if err != nil {
		log.Errorf("init error: %v", err)
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *doctorFlag {
		code := doctor.Run(a.doctorConfig(), os.Stdin, os.Stdout)
		a.Close()
		log.Close()
		os.Exit(code)
	}

	if *setupFlag && !set["device"] && a.mic != nil && *micFlag == "" {
		dev, err := audio.SelectDevice(a.mic, deviceName(a.device))
		switch {
		case errors.Is(err, audio.ErrSelectionCancelled):
		case err != nil:
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		default:
			a.setDevice(dev)
		}
	}

	a.startSession()
	defer a.Close()
	mountAvatar(a)
	defer unmountAvatar()

	if cfg.Hotkey.Enabled {
		release, err := a.startHotkey(ctx, *longPressFlag)
		if err != nil {
			log.Errorf("hotkey register error: %v", err)
			fmt.Printf("Warning: could not register %s: %v\n", hotkey.Combo, err)
		} else {
			defer release()
		}
	}

	if *scriptFlag {
		if code := runScript(ctx, a, os.Stdin, os.Stdout); code != 0 {
			a.Close()
			log.Close()
			os.Exit(code)
		}
		return
	}

	if err := runTUI(ctx, a); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Printf("Error: %v\n", err)
	}
}
