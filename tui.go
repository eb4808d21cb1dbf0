package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"soulsync/audio"
	"soulsync/avatar"
	"soulsync/hotkey"
	"soulsync/log"
	"soulsync/session"
)

// TUI message types
type sessionChangedMsg struct{}
type RecordingTickMsg struct{ Duration float64 }
type AudioLevelMsg struct{ Level float64 }
type NoVoiceWarningMsg struct{}
type VoiceClearedMsg struct{}
type DeviceLineMsg struct{ Text string }
type flashMsg struct{ Text string }
type opDoneMsg struct {
	text string
	err  error
}
type tickMsg time.Time

const (
	faceWidth  = faceCharsW + 2
	flashTicks = 40
)

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// tuiSend forwards msg to the running TUI. Without one it does nothing.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	aiStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	modalStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var sentimentTags = map[string]lipgloss.Style{
	"positive": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	"negative": lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	"neutral":  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

type tuiModel struct {
	app   *app
	ctx   context.Context
	state session.State

	frame             int
	width, height     int
	recordingDuration float64
	audioLevel        float64
	noVoice           bool
	confirming        bool
	deviceLine        string
	flash             string
	flashUntil        int
	shown             string // transcriptKey of what the viewport holds
	place             avatar.Placement

	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model
}

func newTUIModel(ctx context.Context, a *app) tuiModel {
	in := textinput.New()
	in.Placeholder = "How are you feeling today?"
	in.Prompt = "› "
	in.CharLimit = 2000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = aiStyle

	m := tuiModel{
		app:        a,
		ctx:        ctx,
		input:      in,
		view:       viewport.New(40, 10),
		spinner:    sp,
		deviceLine: deviceLineText(a.device),
	}
	if a.sess != nil {
		m.state = a.sess.State()
	}
	if a.scene != nil {
		m.place = facePlacement(a.scene.Transform)
	} else {
		m.place = facePlacement(avatar.DefaultTransform())
	}
	m.refreshTranscript(true)
	return m
}

func NewTUIProgram(ctx context.Context, a *app) *tea.Program {
	return tea.NewProgram(newTUIModel(ctx, a), tea.WithAltScreen())
}

// runTUI blocks until the user quits or ctx ends.
func runTUI(ctx context.Context, a *app) error {
	p := NewTUIProgram(ctx, a)
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()
	defer func() {
		tuiMu.Lock()
		tuiProgram = nil
		tuiMu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

// withTerminal hands the terminal back to fn while the TUI is suspended.
func withTerminal(fn func()) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.ReleaseTerminal()
		defer p.RestoreTerminal()
	}
	fn()
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), textinput.Blink, m.spinner.Tick)
}

func (m tuiModel) serverError() bool {
	return m.state.Notice != nil && m.state.Notice.Kind == session.NoticeServerError
}

func (m *tuiModel) setFlash(text string) {
	m.flash = text
	m.flashUntil = m.frame + flashTicks
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshTranscript(true)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		if m.flash != "" && m.frame >= m.flashUntil {
			m.flash = ""
		}
		return m, tuiTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionChangedMsg:
		wasRecording := m.state.Recording
		m.state = m.app.sess.State()
		if m.state.Recording && !wasRecording {
			m.recordingDuration = 0
			m.audioLevel = 0
			m.noVoice = false
		}
		m.refreshTranscript(false)

	case RecordingTickMsg:
		m.recordingDuration = msg.Duration

	case AudioLevelMsg:
		if m.state.Recording {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
		}

	case NoVoiceWarningMsg:
		m.noVoice = true

	case VoiceClearedMsg:
		m.noVoice = false

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case flashMsg:
		m.setFlash(msg.Text)

	case opDoneMsg:
		if errors.Is(msg.err, session.ErrBusy) {
			if msg.text != "" && m.input.Value() == "" {
				m.input.SetValue(msg.text)
			}
			m.setFlash("still waiting for the last reply")
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.confirming {
		switch key {
		case "y", "Y", "enter":
			m.confirming = false
			return m, m.endSession(true)
		case "n", "N", "esc":
			m.confirming = false
			return m, m.endSession(false)
		}
		return m, nil
	}

	// The server error overlay is modal.
	if m.serverError() {
		if key == "esc" || key == "enter" {
			m.app.sess.DismissNotice()
		}
		return m, nil
	}

	switch key {
	case "esc":
		if m.state.Notice != nil {
			m.app.sess.DismissNotice()
		}
		return m, nil
	case "enter":
		return m.send()
	case "ctrl+r":
		return m, m.toggleRecording()
	case "ctrl+e":
		m.confirming = true
		return m, nil
	case "ctrl+y":
		return m, m.copyLastReply()
	case "ctrl+g":
		return m, m.pickDevice()
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) send() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	if m.state.Loading {
		m.setFlash("still waiting for the last reply")
		return m, nil
	}
	m.input.Reset()
	a, ctx := m.app, m.ctx
	return m, func() tea.Msg {
		a.sess.SetInput(text)
		return opDoneMsg{text: text, err: a.sess.SendMessage(ctx)}
	}
}

func (m tuiModel) toggleRecording() tea.Cmd {
	a, ctx := m.app, m.ctx
	if m.state.Recording {
		return func() tea.Msg {
			return opDoneMsg{err: a.stopRecording(ctx)}
		}
	}
	if m.state.Loading {
		return func() tea.Msg { return flashMsg{Text: "still waiting for the last reply"} }
	}
	return func() tea.Msg {
		return opDoneMsg{err: a.startRecording()}
	}
}

func (m tuiModel) endSession(yes bool) tea.Cmd {
	a := m.app
	return func() tea.Msg {
		if a.sess.EndSession(func(string) bool { return yes }) {
			return flashMsg{Text: "session ended"}
		}
		return nil
	}
}

func (m tuiModel) copyLastReply() tea.Cmd {
	last, ok := m.state.LastAI()
	if !ok {
		return func() tea.Msg { return flashMsg{Text: "nothing to copy yet"} }
	}
	return func() tea.Msg {
		if err := clipboard.WriteAll(last.Text); err != nil {
			log.Warnf("clipboard copy failed: %v", err)
			return flashMsg{Text: "copy failed: " + err.Error()}
		}
		return flashMsg{Text: "✓ copied last reply"}
	}
}

func (m tuiModel) pickDevice() tea.Cmd {
	a := m.app
	if a.mic == nil {
		return func() tea.Msg { return flashMsg{Text: "no microphone available"} }
	}
	if m.state.Recording {
		return func() tea.Msg { return flashMsg{Text: "stop recording before switching microphones"} }
	}
	current := deviceName(a.device)
	return func() tea.Msg {
		var dev *audio.DeviceInfo
		var err error
		withTerminal(func() { dev, err = audio.SelectDevice(a.mic, current) })
		if errors.Is(err, audio.ErrSelectionCancelled) {
			return nil
		}
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			return flashMsg{Text: "device selection failed: " + err.Error()}
		}
		a.setDevice(dev)
		return DeviceLineMsg{Text: deviceLineText(dev)}
	}
}

func (m *tuiModel) layout() {
	w := max(m.width-faceWidth-1, 20)
	h := max(m.height-3, 3)
	m.view.Width = w
	m.view.Height = h
	m.input.Width = w - 4
}

func (m *tuiModel) refreshTranscript(force bool) {
	key := transcriptKey(m.state)
	if !force && key == m.shown {
		return
	}
	m.view.SetContent(renderTranscript(m.state, m.view.Width))
	m.view.GotoBottom()
	m.shown = key
}

// transcriptKey changes whenever an entry is added, removed or changes status.
func transcriptKey(st session.State) string {
	var b strings.Builder
	for _, e := range st.Transcript {
		b.WriteString(e.ID)
		b.WriteByte(':')
		b.WriteString(string(e.Status))
		b.WriteByte(';')
	}
	return b.String()
}

func renderTranscript(st session.State, width int) string {
	if len(st.Transcript) == 0 {
		return dimStyle.Render("Say hello. Type a message, or press ctrl+r to talk.")
	}
	wrap := lipgloss.NewStyle().Width(max(width-2, 10))
	var b strings.Builder
	for i, e := range st.Transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.Role {
		case session.User:
			label := userStyle.Render("You")
			if e.Status == session.Pending {
				label += pendingStyle.Render(" (sending…)")
			}
			b.WriteString(label + "\n")
		case session.AI:
			label := aiStyle.Render("SoulSync")
			if tag, ok := sentimentTags[e.Sentiment]; ok {
				label += " " + tag.Render("["+e.Sentiment+"]")
			}
			b.WriteString(label + "\n")
		}
		b.WriteString(wrap.Render(e.Text) + "\n")
	}
	return b.String()
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var open float64
	avatarLine := "avatar: loading"
	if morphs, ok := m.app.scene.Morphs(); ok {
		open = mouthOpen(morphs.Weights())
		avatarLine = "avatar: " + m.app.scene.MeshName()
	} else if m.app.scene.Err() != nil {
		avatarLine = "avatar: not loaded"
	}
	face := renderFace(m.frame, open, m.state.Recording, m.place)

	var info []string
	switch {
	case m.state.Recording:
		info = append(info, recStyle.Render(fmt.Sprintf("● REC %.1fs", m.recordingDuration))+" "+levelBar(m.audioLevel))
		if m.noVoice {
			info = append(info, alertStyle.Render("  ⚠ no voice detected"))
		}
	case m.state.Loading:
		info = append(info, m.spinner.View()+aiStyle.Render(" thinking"))
	case m.state.AudioURL != "" && m.app.player.Playing():
		info = append(info, aiStyle.Render("♪ speaking"))
	default:
		info = append(info, dimStyle.Render("○ LISTENING"))
	}
	info = append(info, dimStyle.Render(m.deviceLine))
	info = append(info, dimStyle.Render(avatarLine))
	info = append(info, "")
	info = append(info, helpKeyStyle.Render("enter")+helpStyle.Render(" send  ")+helpKeyStyle.Render("ctrl+r")+helpStyle.Render(" record"))
	info = append(info, helpKeyStyle.Render("ctrl+e")+helpStyle.Render(" end  ")+helpKeyStyle.Render("ctrl+y")+helpStyle.Render(" copy reply"))
	if m.app.cfg != nil && m.app.cfg.Hotkey.Enabled {
		info = append(info, helpKeyStyle.Render(hotkey.Combo)+helpStyle.Render(" talk"))
	}
	info = append(info, helpStyle.Render("soulsync "+version))

	left := face + strings.Join(info, "\n")
	leftPanel := lipgloss.NewStyle().Width(faceWidth).Height(m.height).Render(left)

	rightWidth := max(m.width-faceWidth-1, 20)
	var body string
	switch {
	case m.confirming:
		body = lipgloss.Place(rightWidth, m.view.Height, lipgloss.Center, lipgloss.Center,
			modalStyle.BorderForeground(lipgloss.Color("213")).Render(session.EndPrompt+"\n\n"+helpStyle.Render("y / n")))
	case m.serverError():
		msg := m.state.Notice.Message
		if m.state.Rejected != nil {
			msg += "\n\n" + dimStyle.Render("Not sent: "+m.state.Rejected.Text)
		}
		box := modalStyle.BorderForeground(lipgloss.Color("196")).Width(min(rightWidth-4, 60)).
			Render(recStyle.Render("Server error") + "\n\n" + msg + "\n\n" + helpStyle.Render("esc to dismiss"))
		body = lipgloss.Place(rightWidth, m.view.Height, lipgloss.Center, lipgloss.Center, box)
	default:
		body = m.view.View()
	}

	status := ""
	switch {
	case m.state.Notice != nil && m.state.Notice.Kind == session.NoticeAlert:
		status = alertStyle.Render("⚠ " + m.state.Notice.Message + " (esc)")
	case m.flash != "":
		status = dimStyle.Render(m.flash)
	}

	right := lipgloss.JoinVertical(lipgloss.Left, body, status, m.input.View())
	rightPanel := lipgloss.NewStyle().Width(rightWidth).Height(m.height).PaddingLeft(1).Render(right)

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

func levelBar(level float64) string {
	const cells = 10
	n := min(int(level*cells*8), cells)
	return recStyle.Render(strings.Repeat("▮", n)) + dimStyle.Render(strings.Repeat("▯", cells-n))
}
