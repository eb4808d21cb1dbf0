package session

import "time"

type Role string

const (
	User Role = "user"
	AI   Role = "ai"
)

// Status tracks an entry through its request. A user entry is Pending
// while its message is in flight. Rejected entries leave the transcript.
type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Rejected  Status = "rejected"
)

type Entry struct {
	ID        string
	Role      Role
	Text      string
	Sentiment string
	Status    Status
	At        time.Time
}

type NoticeKind int

const (
	// NoticeAlert is a one-line alert.
	NoticeAlert NoticeKind = iota
	// NoticeServerError is the dismissable overlay showing the backend's
	// own error message.
	NoticeServerError
)

type Notice struct {
	Kind    NoticeKind
	Message string
}

// State is a snapshot; changing it does not change the session.
type State struct {
	ID         string
	Epoch      uint64
	Transcript []Entry
	Input      string
	Loading    bool
	Recording  bool
	AudioURL   string
	Notice     *Notice
	// Rejected is the last user entry the backend refused, kept so it can
	// be shown alongside the overlay.
	Rejected *Entry
}

// LastAI returns the newest AI entry.
func (s State) LastAI() (Entry, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == AI {
			return s.Transcript[i], true
		}
	}
	return Entry{}, false
}
