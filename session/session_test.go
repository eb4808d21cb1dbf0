package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulsync/audio"
	"soulsync/avatar"
	"soulsync/chat"
	"soulsync/encoder"
	"soulsync/lipsync"
	"soulsync/log"
	"soulsync/playback"
	"soulsync/recorder"
)

type loadedFace struct{ m *avatar.Morphs }

func (f loadedFace) Morphs() (*avatar.Morphs, bool) { return f.m, true }

type harness struct {
	s      *Session
	chat   *chat.Fake
	out    *playback.FakeOutput
	player *playback.Player
	clock  *lipsync.FakeClock
	morphs *avatar.Morphs
}

func speechPCM(frames int) []byte {
	pcm := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		v := int16(8000)
		if i%2 == 0 {
			v = -8000
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(uint16(v) >> 8)
	}
	return pcm
}

func speechWAV(t *testing.T) []byte {
	t.Helper()
	data, _, err := encoder.EncodePCM(encoder.WAV, speechPCM(1600))
	require.NoError(t, err)
	return data
}

func newHarness(t *testing.T, mic audio.Context, out *playback.FakeOutput, results ...chat.FakeResult) *harness {
	t.Helper()
	if out == nil {
		out = &playback.FakeOutput{}
	}
	h := &harness{
		chat:   chat.NewFake(results...),
		out:    out,
		clock:  &lipsync.FakeClock{},
		morphs: avatar.NewMorphs(2, nil),
	}
	h.player = playback.NewPlayer(out, playback.StaticFetcher{
		"/audio/1.mp3": speechWAV(t),
		"/audio/2.mp3": speechWAV(t),
	})
	lips := lipsync.New(loadedFace{h.morphs}, lipsync.Options{Clock: h.clock})

	var rec Recorder
	if mic != nil {
		rec = recorder.New(mic, recorder.Config{})
	}
	h.s = New(Deps{Chat: h.chat, Recorder: rec, Player: h.player, LipSync: lips})
	return h
}

func agree(string) bool { return true }

func reply(text, audioURL string) chat.FakeResult {
	return chat.FakeResult{Reply: &chat.Reply{Text: text, AudioURL: audioURL, Sentiment: "negative"}}
}

func waitPlayback(t *testing.T, p *playback.Player) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t, nil, nil, reply("Let's talk about that.", "/audio/1.mp3"))

	h.s.SetInput("I feel anxious today")
	require.NoError(t, h.s.SendMessage(context.Background()))

	st := h.s.State()
	require.Len(t, st.Transcript, 2)
	assert.Equal(t, User, st.Transcript[0].Role)
	assert.Equal(t, "I feel anxious today", st.Transcript[0].Text)
	assert.Equal(t, Confirmed, st.Transcript[0].Status)
	assert.Equal(t, AI, st.Transcript[1].Role)
	assert.Equal(t, "Let's talk about that.", st.Transcript[1].Text)
	assert.Equal(t, "negative", st.Transcript[1].Sentiment)
	assert.Empty(t, st.Input)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Notice)
	assert.Equal(t, "/audio/1.mp3", st.AudioURL)
	assert.Equal(t, []string{"I feel anxious today"}, h.chat.Texts)

	last, ok := st.LastAI()
	require.True(t, ok)
	assert.Equal(t, "Let's talk about that.", last.Text)

	// Playback started, so the mouth opens 100ms in.
	waitPlayback(t, h.player)
	assert.Equal(t, 1, h.out.Plays())
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []float32{1, 1}, h.morphs.Weights())
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []float32{0, 0}, h.morphs.Weights())
}

func TestBlankInputIsIgnored(t *testing.T) {
	h := newHarness(t, nil, nil)

	for _, in := range []string{"", "   ", "\n\t"} {
		h.s.SetInput(in)
		require.NoError(t, h.s.SendMessage(context.Background()))
	}
	assert.Zero(t, h.chat.Calls())
	assert.Empty(t, h.s.State().Transcript)
}

func TestServerErrorRollsBack(t *testing.T) {
	h := newHarness(t, nil, nil, chat.FakeResult{Err: &chat.ServerError{Status: 500, Message: "X"}})

	h.s.SetInput("hello")
	err := h.s.SendMessage(context.Background())
	var se *chat.ServerError
	require.ErrorAs(t, err, &se)

	st := h.s.State()
	assert.Empty(t, st.Transcript)
	require.NotNil(t, st.Notice)
	assert.Equal(t, NoticeServerError, st.Notice.Kind)
	assert.Equal(t, "X", st.Notice.Message)
	require.NotNil(t, st.Rejected)
	assert.Equal(t, "hello", st.Rejected.Text)
	assert.Equal(t, Rejected, st.Rejected.Status)
	assert.False(t, st.Loading)

	h.s.DismissNotice()
	st = h.s.State()
	assert.Nil(t, st.Notice)
	assert.Nil(t, st.Rejected)
}

func TestNetworkErrorKeepsMessage(t *testing.T) {
	h := newHarness(t, nil, nil, chat.FakeResult{Err: &chat.NetworkError{Op: "text", Err: errors.New("connection refused")}})

	h.s.SetInput("hello")
	require.Error(t, h.s.SendMessage(context.Background()))

	st := h.s.State()
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, "hello", st.Transcript[0].Text)
	assert.Equal(t, Confirmed, st.Transcript[0].Status)
	require.NotNil(t, st.Notice)
	assert.Equal(t, NoticeAlert, st.Notice.Kind)
	assert.Equal(t, AlertTextFailed, st.Notice.Message)
	assert.False(t, st.Loading)
	assert.Empty(t, st.AudioURL)
}

func TestSecondSendWhileLoadingIsBusy(t *testing.T) {
	h := newHarness(t, nil, nil, reply("first answer", ""))
	h.chat.Gate = make(chan struct{})

	h.s.SetInput("first")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.s.SendMessage(context.Background()))
	}()
	require.Eventually(t, func() bool { return h.s.State().Loading }, 5*time.Second, time.Millisecond)

	st := h.s.State()
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, Pending, st.Transcript[0].Status)

	h.s.SetInput("second")
	assert.ErrorIs(t, h.s.SendMessage(context.Background()), ErrBusy)
	assert.Equal(t, "second", h.s.State().Input)
	assert.Len(t, h.s.State().Transcript, 1)

	close(h.chat.Gate)
	wg.Wait()

	st = h.s.State()
	require.Len(t, st.Transcript, 2)
	assert.Equal(t, "first", st.Transcript[0].Text)
	assert.Equal(t, "first answer", st.Transcript[1].Text)
	assert.Equal(t, 1, h.chat.Calls())
}

func TestEndSessionDropsLateReply(t *testing.T) {
	h := newHarness(t, nil, nil, reply("too late", "/audio/1.mp3"))
	h.chat.Gate = make(chan struct{})
	before := h.s.State()

	h.s.SetInput("hello")
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.s.SendMessage(context.Background())
	}()
	require.Eventually(t, func() bool { return h.s.State().Loading }, 5*time.Second, time.Millisecond)

	require.True(t, h.s.EndSession(func(string) bool { return true }))
	st := h.s.State()
	assert.Empty(t, st.Transcript)
	assert.False(t, st.Loading)
	assert.NotEqual(t, before.ID, st.ID)
	assert.Equal(t, before.Epoch+1, st.Epoch)

	close(h.chat.Gate)
	<-done

	st = h.s.State()
	assert.Empty(t, st.Transcript)
	assert.Empty(t, st.AudioURL)
	assert.Empty(t, h.player.Source())
}

func TestEndSessionDeclined(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.SetInput("hi")
	require.NoError(t, h.s.SendMessage(context.Background()))
	h.s.SetInput("draft")

	var asked string
	ended := h.s.EndSession(func(prompt string) bool {
		asked = prompt
		return false
	})

	assert.False(t, ended)
	assert.Equal(t, EndPrompt, asked)
	st := h.s.State()
	assert.Len(t, st.Transcript, 2)
	assert.Equal(t, "draft", st.Input)
}

func TestEndSessionStopsSpeech(t *testing.T) {
	out := &playback.FakeOutput{Hold: make(chan struct{})}
	defer close(out.Hold)
	h := newHarness(t, nil, out, reply("Let's talk about that.", "/audio/1.mp3"))

	h.s.SetInput("I feel anxious today")
	require.NoError(t, h.s.SendMessage(context.Background()))
	require.Eventually(t, func() bool { return h.clock.Pending() > 0 }, 5*time.Second, time.Millisecond)
	h.clock.Advance(100 * time.Millisecond)
	require.Equal(t, []float32{1, 1}, h.morphs.Weights())
	h.s.SetInput("unsent")

	require.True(t, h.s.EndSession(agree))

	st := h.s.State()
	assert.Empty(t, st.Transcript)
	assert.Empty(t, st.Input)
	assert.Empty(t, st.AudioURL)
	assert.Empty(t, h.player.Source())
	assert.Zero(t, h.player.Position())
	assert.Equal(t, []float32{0, 0}, h.morphs.Weights())
	assert.Zero(t, h.clock.Pending())
}

func TestReplyWithoutAudioStopsPlayback(t *testing.T) {
	out := &playback.FakeOutput{Hold: make(chan struct{})}
	defer close(out.Hold)
	h := newHarness(t, nil, out, reply("one", "/audio/1.mp3"), reply("two", ""))

	h.s.SetInput("a")
	require.NoError(t, h.s.SendMessage(context.Background()))
	assert.Equal(t, "/audio/1.mp3", h.player.Source())

	h.s.SetInput("b")
	require.NoError(t, h.s.SendMessage(context.Background()))
	assert.Empty(t, h.player.Source())
	assert.Empty(t, h.s.State().AudioURL)
}

func TestBackendVisemesDriveMouth(t *testing.T) {
	h := newHarness(t, nil, nil, chat.FakeResult{Reply: &chat.Reply{
		Text:     "Hi",
		AudioURL: "/audio/2.mp3",
		Visemes:  []chat.Viseme{{Shape: "oh", OffsetMs: 20}, {Shape: "sil", OffsetMs: 40}},
	}})

	h.s.SetInput("hey")
	require.NoError(t, h.s.SendMessage(context.Background()))
	waitPlayback(t, h.player)

	h.clock.Advance(20 * time.Millisecond)
	assert.Equal(t, []float32{1, 1}, h.morphs.Weights())
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []float32{0, 0}, h.morphs.Weights())
	assert.Zero(t, h.clock.Pending())
}

func TestVoiceMessage(t *testing.T) {
	mic := audio.NewFakeContextPCM(speechPCM(8000), false)
	h := newHarness(t, mic, nil, chat.FakeResult{Reply: &chat.Reply{
		Transcribed: "hello there",
		Text:        "Hi! How are you feeling?",
		AudioURL:    "/audio/2.mp3",
	}})

	require.NoError(t, h.s.StartRecording())
	assert.True(t, h.s.State().Recording)
	require.NoError(t, h.s.StopRecording(context.Background()))

	require.Len(t, h.chat.Voices, 1)
	v := h.chat.Voices[0]
	assert.Equal(t, "recording.wav", v.Filename)
	assert.Equal(t, "audio/wav", v.ContentType)
	assert.True(t, bytes.HasPrefix(v.Data, []byte("RIFF")))
	assert.Len(t, v.Data, 44+8000*2)

	st := h.s.State()
	assert.False(t, st.Recording)
	assert.False(t, st.Loading)
	require.Len(t, st.Transcript, 2)
	assert.Equal(t, "hello there", st.Transcript[0].Text)
	assert.Equal(t, User, st.Transcript[0].Role)
	assert.Equal(t, "Hi! How are you feeling?", st.Transcript[1].Text)
	assert.Equal(t, "/audio/2.mp3", st.AudioURL)
}

func TestVoiceMessagePlaceholder(t *testing.T) {
	mic := audio.NewFakeContextPCM(speechPCM(1600), false)
	h := newHarness(t, mic, nil, reply("I'm listening.", ""))

	require.NoError(t, h.s.StartRecording())
	require.NoError(t, h.s.StopRecording(context.Background()))

	st := h.s.State()
	require.Len(t, st.Transcript, 2)
	assert.Equal(t, VoicePlaceholder, st.Transcript[0].Text)
}

func TestVoiceMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind NoticeKind
		msg  string
	}{
		{"server", &chat.ServerError{Status: 400, Message: "audio too short"}, NoticeServerError, "audio too short"},
		{"network", &chat.NetworkError{Op: "voice", Status: 502}, NoticeAlert, AlertVoiceFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mic := audio.NewFakeContextPCM(speechPCM(1600), false)
			h := newHarness(t, mic, nil, chat.FakeResult{Err: tt.err})

			require.NoError(t, h.s.StartRecording())
			require.Error(t, h.s.StopRecording(context.Background()))

			st := h.s.State()
			assert.Empty(t, st.Transcript)
			assert.False(t, st.Loading)
			require.NotNil(t, st.Notice)
			assert.Equal(t, tt.kind, st.Notice.Kind)
			assert.Equal(t, tt.msg, st.Notice.Message)
		})
	}
}

func TestMicrophoneDenied(t *testing.T) {
	mic := audio.NewFakeContextPCM(nil, false)
	mic.OpenErr = errors.New("no such device")
	h := newHarness(t, mic, nil)

	err := h.s.StartRecording()
	assert.ErrorIs(t, err, recorder.ErrPermissionDenied)

	st := h.s.State()
	assert.False(t, st.Recording)
	require.NotNil(t, st.Notice)
	assert.Equal(t, AlertMicFailed, st.Notice.Message)

	// Without a recorder at all the outcome is the same.
	h2 := newHarness(t, nil, nil)
	assert.ErrorIs(t, h2.s.StartRecording(), recorder.ErrPermissionDenied)
}

func TestStopRecordingWhenIdle(t *testing.T) {
	h := newHarness(t, audio.NewFakeContextPCM(speechPCM(160), false), nil)
	require.NoError(t, h.s.StopRecording(context.Background()))
	assert.Zero(t, h.chat.Calls())
	assert.False(t, h.s.State().Loading)
}

func TestEmptyRecordingIsNotSent(t *testing.T) {
	h := newHarness(t, audio.NewFakeContextPCM(nil, false), nil)

	require.NoError(t, h.s.StartRecording())
	require.NoError(t, h.s.StopRecording(context.Background()))

	assert.Zero(t, h.chat.Calls())
	st := h.s.State()
	assert.False(t, st.Loading)
	assert.False(t, st.Recording)
	assert.Empty(t, st.Transcript)
}

func TestEndSessionWhileRecording(t *testing.T) {
	h := newHarness(t, audio.NewFakeContextPCM(speechPCM(1600), false), nil)

	require.NoError(t, h.s.StartRecording())
	require.True(t, h.s.EndSession(agree))

	assert.False(t, h.s.State().Recording)
	assert.Zero(t, h.chat.Calls())

	// The microphone was released, so a new recording can start.
	require.NoError(t, h.s.StartRecording())
}

func TestOnChangeSeesEveryStep(t *testing.T) {
	h := newHarness(t, nil, nil, reply("ok", ""))

	var mu sync.Mutex
	var loading []bool
	h.s.OnChange(func(st State) {
		mu.Lock()
		loading = append(loading, st.Loading)
		mu.Unlock()
	})

	h.s.SetInput("hi")
	require.NoError(t, h.s.SendMessage(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, false}, loading)
}

func TestEndSessionNeedsConfirmation(t *testing.T) {
	h := newHarness(t, nil, nil, reply("ok", ""))
	h.s.SetInput("hi")
	require.NoError(t, h.s.SendMessage(context.Background()))

	assert.False(t, h.s.EndSession(nil))
	assert.Len(t, h.s.State().Transcript, 2)
}

func TestMessageTextNeverReachesDisk(t *testing.T) {
	dir := t.TempDir()
	log.SetDir(dir)
	require.NoError(t, log.Init())
	t.Cleanup(log.Close)

	h := newHarness(t, nil, nil, reply("Let's talk about that.", ""))
	h.s.SetInput("I feel anxious today")
	require.NoError(t, h.s.SendMessage(context.Background()))
	require.True(t, h.s.EndSession(agree))
	log.Close()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "anxious", f.Name())
		assert.NotContains(t, string(data), "talk about", f.Name())
	}
}
