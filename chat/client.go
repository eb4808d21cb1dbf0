// Package chat talks to the SoulSync backend's /chat endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"soulsync/log"
)

const DefaultBaseURL = "http://127.0.0.1:5000"

// Reply is the backend's answer to one message.
type Reply struct {
	Text        string
	AudioURL    string
	Sentiment   string
	Transcribed string
	Visemes     []Viseme
	Metrics     *NetworkMetrics
}

// Viseme is optional mouth-shape timing metadata sent with the speech.
type Viseme struct {
	Shape    string  `json:"viseme"`
	OffsetMs float64 `json:"offset_ms"`
}

// Audio is a recorded voice message.
type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
}

type wireReply struct {
	TextResponse    string          `json:"text_response"`
	Response        string          `json:"response"`
	AudioResponse   string          `json:"audio_response"`
	Sentiment       string          `json:"sentiment"`
	TranscribedText string          `json:"transcribed_text"`
	Visemes         []Viseme        `json:"visemes"`
	Error           json.RawMessage `json:"error"`
}

type Client struct {
	base *url.URL
	http *TracedClient
}

// New validates baseURL. A zero timeout means requests never time out.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backend url %q: want http(s)://host[:port]", baseURL)
	}
	return &Client{base: u, http: NewTracedClient(timeout)}, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint() string { return c.base.JoinPath("chat").String() }

// ResolveURL resolves a possibly relative reference, such as an
// audio_response path, against the backend origin.
func (c *Client) ResolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// SendText posts {"message": message} as JSON.
func (c *Client) SendText(ctx context.Context, message string) (*Reply, error) {
	body, err := json.Marshal(struct {
		Message string `json:"message"`
	}{message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "text")
}

// SendVoice uploads the recording as the multipart field "audio".
func (c *Client) SendVoice(ctx context.Context, a Audio) (*Reply, error) {
	if a.Filename == "" {
		a.Filename = "recording.wav"
	}
	if a.ContentType == "" {
		a.ContentType = "audio/wav"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, a.Filename))
	h.Set("Content-Type", a.ContentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(a.Data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, "voice")
}

// Ping checks that the backend origin answers at all.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String(), nil)
	if err != nil {
		return 0, err
	}
	return c.http.Ping(req)
}

func (c *Client) do(req *http.Request, op string) (*Reply, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	m := resp.Metrics
	log.Chat(log.ChatMetrics{
		Kind:        op,
		Status:      resp.StatusCode,
		UploadKB:    float64(m.UploadSize) / 1024,
		DNSTimeMs:   ms(m.DNS),
		TCPTimeMs:   ms(m.TCP),
		TLSTimeMs:   ms(m.TLS),
		TTFBMs:      ms(m.TTFB),
		TotalTimeMs: ms(m.Total),
		ConnReused:  m.ConnReused,
	})

	var w wireReply
	decodeErr := json.Unmarshal(resp.Body, &w)
	if decodeErr == nil {
		if msg := errorMessage(w.Error); msg != "" {
			return nil, &ServerError{Status: resp.StatusCode, Message: msg}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("backend returned %s", resp.Status)}
	}
	if decodeErr != nil {
		return nil, &NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding reply: %w", decodeErr)}
	}

	text := w.TextResponse
	if text == "" {
		text = w.Response
	}
	return &Reply{
		Text:        text,
		AudioURL:    w.AudioResponse,
		Sentiment:   w.Sentiment,
		Transcribed: w.TranscribedText,
		Visemes:     w.Visemes,
		Metrics:     m,
	}, nil
}

// errorMessage accepts the usual string form and falls back to the raw JSON
// for anything else. null and "" mean no error.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
