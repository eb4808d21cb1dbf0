package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"soulsync/log"
	"soulsync/session"
)

// scriptPrinter writes what a user would see, once per change.
type scriptPrinter struct {
	out    io.Writer
	seen   map[string]bool
	notice session.Notice
	audio  string
}

func (p *scriptPrinter) print(st session.State) {
	for _, e := range st.Transcript {
		if e.Status != session.Confirmed || p.seen[e.ID] {
			continue
		}
		p.seen[e.ID] = true
		if e.Role == session.AI {
			if e.Sentiment != "" {
				fmt.Fprintf(p.out, "ai [%s]: %s\n", e.Sentiment, e.Text)
			} else {
				fmt.Fprintf(p.out, "ai: %s\n", e.Text)
			}
		} else {
			fmt.Fprintf(p.out, "you: %s\n", e.Text)
		}
	}

	if st.AudioURL != p.audio {
		p.audio = st.AudioURL
		if st.AudioURL != "" {
			fmt.Fprintf(p.out, "audio: %s\n", st.AudioURL)
		}
	}

	if st.Notice == nil {
		p.notice = session.Notice{}
		return
	}
	if *st.Notice == p.notice {
		return
	}
	p.notice = *st.Notice
	if st.Notice.Kind == session.NoticeServerError {
		fmt.Fprintf(p.out, "server error: %s\n", st.Notice.Message)
		if st.Rejected != nil {
			fmt.Fprintf(p.out, "not sent: %s\n", st.Rejected.Text)
		}
		return
	}
	fmt.Fprintf(p.out, "alert: %s\n", st.Notice.Message)
}

// runScript drives the session from line commands on in:
//
//	SAY <text>     send a text message and wait for the reply
//	RECORD         start a voice message
//	STOP           finish it and wait for the reply
//	WAIT           wait for speech playback to finish
//	END yes|no     end the session, answering the confirmation
//	DISMISS        dismiss the current alert or error
//	SLEEP <ms>
//	QUIT
//
// It returns the process exit code.
func runScript(ctx context.Context, a *app, in io.Reader, out io.Writer) int {
	p := &scriptPrinter{out: out, seen: make(map[string]bool)}
	reportBusy := func(err error) {
		if errors.Is(err, session.ErrBusy) {
			fmt.Fprintln(out, "busy")
		}
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return 130
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		log.Info("script: " + cmd)

		switch strings.ToUpper(cmd) {
		case "SAY":
			a.sess.SetInput(arg)
			reportBusy(a.sess.SendMessage(ctx))
		case "RECORD":
			reportBusy(a.startRecording())
		case "STOP":
			reportBusy(a.stopRecording(ctx))
		case "WAIT":
			select {
			case <-a.player.Done():
			case <-ctx.Done():
			}
		case "END":
			yes := strings.EqualFold(arg, "yes") || strings.EqualFold(arg, "y")
			ended := a.sess.EndSession(func(prompt string) bool {
				fmt.Fprintf(out, "%s %s\n", prompt, strings.ToLower(arg))
				return yes
			})
			if ended {
				p.seen = make(map[string]bool)
				fmt.Fprintln(out, "session ended")
			}
		case "DISMISS":
			a.sess.DismissNotice()
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
				}
			}
		case "QUIT":
			return 0
		default:
			fmt.Fprintf(out, "unknown command: %s\n", cmd)
		}
		p.print(a.sess.State())
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("script input: %v", err)
		return 1
	}
	return 0
}
