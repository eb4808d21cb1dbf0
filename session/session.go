// Package session holds one conversation with the therapist backend: the
// transcript, the composer input and the request, recording and playback
// state around it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"soulsync/chat"
	"soulsync/lipsync"
	"soulsync/log"
	"soulsync/recorder"
)

// ErrBusy rejects a request while another one is in flight.
var ErrBusy = errors.New("session: a request is already in flight")

const (
	EndPrompt        = "Are you sure you want to end the session?"
	VoicePlaceholder = "🎤 Voice message sent"
	AlertTextFailed  = "There was an error connecting to the AI."
	AlertVoiceFailed = "There was an error sending the voice message."
	AlertMicFailed   = "Failed to access microphone."
)

type Chat interface {
	SendText(ctx context.Context, message string) (*chat.Reply, error)
	SendVoice(ctx context.Context, a chat.Audio) (*chat.Reply, error)
}

type Recorder interface {
	Start() error
	Stop() bool
	OnComplete(fn func(recorder.Blob))
}

type Player interface {
	Play(ref string)
	Stop()
	OnStart(fn func(source string))
}

type LipSync interface {
	Cue(text string)
	CueVisemes(pulses []lipsync.Pulse)
	Start()
	Stop()
}

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(prompt string) bool

// Deps are the resources a session drives. The session owns none of them.
type Deps struct {
	Chat     Chat
	Recorder Recorder
	Player   Player
	LipSync  LipSync
	Now      func() time.Time
	// Backend is only logged.
	Backend string
}

type Session struct {
	chat    Chat
	rec     Recorder
	play    Player
	lips    LipSync
	now     func() time.Time
	backend string
	blobs   chan recorder.Blob

	mu        sync.Mutex
	id        string
	epoch     uint64
	entries   []Entry
	input     string
	loading   bool
	recording bool
	audioURL  string
	notice    *Notice
	rejected  *Entry
	listeners []func(State)
}

func New(d Deps) *Session {
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Session{
		chat:    d.Chat,
		rec:     d.Recorder,
		play:    d.Player,
		lips:    d.LipSync,
		now:     d.Now,
		backend: d.Backend,
		blobs:   make(chan recorder.Blob, 1),
		id:      uuid.NewString(),
	}
	if s.rec != nil {
		s.rec.OnComplete(s.onBlob)
	}
	if s.play != nil && s.lips != nil {
		s.play.OnStart(func(string) { s.lips.Start() })
	}
	log.SessionStart(s.id, s.backend)
	return s
}

func (s *Session) onBlob(b recorder.Blob) {
	// Keep only the newest blob.
	select {
	case <-s.blobs:
	default:
	}
	s.blobs <- b
}

// OnChange registers fn to receive a snapshot after every change. It runs
// on the goroutine that made the change, without the session locked.
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		ID:         s.id,
		Epoch:      s.epoch,
		Transcript: append([]Entry(nil), s.entries...),
		Input:      s.input,
		Loading:    s.loading,
		Recording:  s.recording,
		AudioURL:   s.audioURL,
	}
	if s.notice != nil {
		n := *s.notice
		st.Notice = &n
	}
	if s.rejected != nil {
		e := *s.rejected
		st.Rejected = &e
	}
	return st
}

// unlock releases the session and tells listeners about the new state.
func (s *Session) unlock() {
	st := s.snapshotLocked()
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Session) SetInput(text string) {
	s.mu.Lock()
	if s.input == text {
		s.mu.Unlock()
		return
	}
	s.input = text
	s.unlock()
}

func (s *Session) DismissNotice() {
	s.mu.Lock()
	if s.notice == nil && s.rejected == nil {
		s.mu.Unlock()
		return
	}
	s.notice, s.rejected = nil, nil
	s.unlock()
}

func (s *Session) appendLocked(role Role, text, sentiment string, status Status) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Sentiment: sentiment,
		Status:    status,
		At:        s.now(),
	}
	s.entries = append(s.entries, e)
	if status == Confirmed {
		log.Entry(s.id, e.ID, string(role), utf8.RuneCountInString(text))
	}
	return e
}

func (s *Session) indexLocked(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// SendMessage sends the composer input as a text message. Blank input is
// ignored. Failures are reported through the notice as well as returned.
func (s *Session) SendMessage(ctx context.Context) error {
	s.mu.Lock()
	text := strings.TrimSpace(s.input)
	if text == "" {
		s.mu.Unlock()
		return nil
	}
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	pending := s.appendLocked(User, text, "", Pending)
	s.input = ""
	s.loading = true
	s.rejected = nil
	epoch := s.epoch
	s.unlock()

	reply, err := s.chat.SendText(ctx, text)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		log.Infof("discarding reply from ended session epoch %d", epoch)
		return err
	}
	s.loading = false
	i := s.indexLocked(pending.ID)

	var se *chat.ServerError
	switch {
	case err == nil:
		if i >= 0 {
			s.entries[i].Status = Confirmed
			log.Entry(s.id, pending.ID, string(User), utf8.RuneCountInString(text))
		}
		s.appendLocked(AI, reply.Text, reply.Sentiment, Confirmed)
		s.speakLocked(reply)
	case errors.As(err, &se):
		if i >= 0 {
			r := s.entries[i]
			r.Status = Rejected
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.rejected = &r
		}
		s.notice = &Notice{Kind: NoticeServerError, Message: se.Message}
		log.Warnf("chat rejected by backend: %v", err)
	default:
		if i >= 0 {
			s.entries[i].Status = Confirmed
			log.Entry(s.id, pending.ID, string(User), utf8.RuneCountInString(text))
		}
		s.notice = &Notice{Kind: NoticeAlert, Message: AlertTextFailed}
		log.Errorf("Error communicating with AI: %v", err)
	}
	s.unlock()
	return err
}

// StartRecording opens the microphone. Failure leaves the session idle and
// raises the microphone alert.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		return nil
	}
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	var err error
	if s.rec == nil {
		err = recorder.ErrPermissionDenied
	} else {
		err = s.rec.Start()
	}

	s.mu.Lock()
	if err != nil {
		s.notice = &Notice{Kind: NoticeAlert, Message: AlertMicFailed}
		log.Errorf("Error starting recording: %v", err)
	} else {
		s.recording = true
	}
	s.unlock()
	return err
}

// StopRecording finishes the recording and sends it as a voice message.
// It does nothing when not recording.
func (s *Session) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil
	}
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.recording = false
	s.loading = true
	s.rejected = nil
	epoch := s.epoch
	s.unlock()

	blob, ok := s.takeBlob()
	if !ok || blob.Empty() {
		log.Info("recording produced no audio, nothing sent")
		s.mu.Lock()
		if epoch == s.epoch {
			s.loading = false
		}
		s.unlock()
		return nil
	}

	reply, err := s.chat.SendVoice(ctx, chat.Audio{
		Data:        blob.Data,
		Filename:    blob.Format.Filename(),
		ContentType: blob.Format.ContentType(),
	})

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		log.Infof("discarding voice reply from ended session epoch %d", epoch)
		return err
	}
	s.loading = false

	var se *chat.ServerError
	switch {
	case err == nil:
		text := reply.Transcribed
		if text == "" {
			text = VoicePlaceholder
		}
		s.appendLocked(User, text, "", Confirmed)
		s.appendLocked(AI, reply.Text, reply.Sentiment, Confirmed)
		s.speakLocked(reply)
	case errors.As(err, &se):
		s.notice = &Notice{Kind: NoticeServerError, Message: se.Message}
		log.Warnf("voice message rejected by backend: %v", err)
	default:
		s.notice = &Notice{Kind: NoticeAlert, Message: AlertVoiceFailed}
		log.Errorf("Error sending voice message: %v", err)
	}
	s.unlock()
	return err
}

// takeBlob stops the recorder, which hands its blob to onBlob before Stop
// returns.
func (s *Session) takeBlob() (recorder.Blob, bool) {
	if s.rec == nil || !s.rec.Stop() {
		return recorder.Blob{}, false
	}
	select {
	case b := <-s.blobs:
		return b, true
	default:
		return recorder.Blob{}, false
	}
}

// EndSession clears the conversation once confirm agrees. A nil confirm
// counts as a refusal. Replies still in flight are dropped when they arrive.
func (s *Session) EndSession(confirm ConfirmFunc) bool {
	if confirm == nil || !confirm(EndPrompt) {
		return false
	}

	s.mu.Lock()
	wasRecording := s.recording
	log.SessionEnd(s.id, len(s.entries))
	s.epoch++
	s.id = uuid.NewString()
	s.entries = nil
	s.input = ""
	s.loading = false
	s.recording = false
	s.audioURL = ""
	s.notice = nil
	s.rejected = nil
	if s.play != nil {
		s.play.Stop()
	}
	if s.lips != nil {
		s.lips.Stop()
	}
	log.SessionStart(s.id, s.backend)
	s.unlock()

	if wasRecording {
		s.takeBlob()
	}
	return true
}

// speakLocked plays the reply's speech, animating the mouth once it starts.
func (s *Session) speakLocked(reply *chat.Reply) {
	s.audioURL = reply.AudioURL
	if s.play == nil {
		return
	}
	if s.lips != nil {
		s.lips.Stop()
	}
	if reply.AudioURL == "" {
		s.play.Stop()
		return
	}
	if s.lips != nil {
		s.lips.Cue(reply.Text)
		if pulses := visemePulses(reply.Visemes); len(pulses) > 0 {
			s.lips.CueVisemes(pulses)
		}
	}
	s.play.Play(reply.AudioURL)
}

func visemePulses(vs []chat.Viseme) []lipsync.Pulse {
	var out []lipsync.Pulse
	for _, v := range vs {
		shape, ok := lipsync.ParseViseme(v.Shape)
		if !ok || v.OffsetMs < 0 {
			continue
		}
		out = append(out, lipsync.Pulse{Viseme: shape, At: time.Duration(v.OffsetMs * float64(time.Millisecond))})
	}
	return out
}
