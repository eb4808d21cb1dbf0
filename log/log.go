package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

// ChatMetrics is one backend round trip as seen by the client.
type ChatMetrics struct {
	Kind        string // "text" or "voice"
	Status      int
	UploadKB    float64
	DNSTimeMs   float64
	TCPTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: SOULSYNC_LOG_PATH environment variable
	if envPath := os.Getenv("SOULSYNC_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Chat(m ChatMetrics) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("kind", m.Kind).
		Int("status", m.Status).
		Str("conn", connStatus).
		Float64("upload_kb", m.UploadKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tcp_ms", m.TCPTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("chat")
}

// Entry records that a transcript entry was confirmed. Message text never
// reaches the disk; only its length does.
func Entry(sessionID, entryID, role string, chars int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("entry", entryID).
		Str("role", role).
		Int("chars", chars).
		Msg("entry")
}

func SessionStart(sessionID, backend string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("backend", backend).
		Msg("session_start")
}

func SessionEnd(sessionID string, entries int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("entries", entries).
		Msg("session_end")
}
