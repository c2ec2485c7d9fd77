package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// TranscriptConfig configures the transcript logger.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptEvent is one line of a session transcript.
type TranscriptEvent struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"` // user_turn, assistant_turn, state_change
	Role      string    `json:"role,omitempty"`
	State     string    `json:"state,omitempty"`
	Intent    string    `json:"intent,omitempty"`
	TextRaw   string    `json:"text_raw,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// TranscriptLogger writes events as NDJSON, one file per user and session.
// Writes happen on a single background goroutine; when the queue is full
// events are dropped so the conversation never waits on disk.
type TranscriptLogger struct {
	dir    string
	queue  chan TranscriptEvent
	logger *slog.Logger
	files  map[string]*os.File
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Int64
}

// NewTranscriptLogger starts a logger. A disabled config returns nil, and a
// nil *TranscriptLogger accepts and discards events.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (*TranscriptLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &TranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event without blocking.
func (l *TranscriptLogger) Log(ev TranscriptEvent) {
	if l == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Text == "" && ev.TextRaw != "" {
		ev.Text = cleanForReadability(ev.TextRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
		l.logger.Warn("transcript queue full, dropping event", "session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *TranscriptLogger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close drains the queue and closes all files.
func (l *TranscriptLogger) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *TranscriptLogger) run() {
	defer close(l.done)
	defer func() {
		for path, f := range l.files {
			if err := f.Close(); err != nil {
				l.logger.Warn("failed to close transcript file", "path", path, "error", err)
			}
		}
	}()

	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("failed to write transcript event", "session_id", ev.SessionID, "error", err)
		}
	}
}

func (l *TranscriptLogger) write(ev TranscriptEvent) error {
	path := filepath.Join(l.dir, safeComponent(ev.UserID), safeComponent(ev.SessionID)+".ndjson")
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create transcript user directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		l.files[path] = f
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write transcript event: %w", err)
	}
	return nil
}

// safeComponent keeps ids usable as a single path element.
func safeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of blank space.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
