package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// GenerationLogEvent is one line of the NDJSON generation log.
type GenerationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	Function   string         `json:"function"`
	Direction  string         `json:"direction"` // "request" or "response"
	Payload    any            `json:"payload,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// GenerationLogger records gateway traffic.
type GenerationLogger interface {
	Log(event GenerationLogEvent)
	Close() error
}

// GenerationLogConfig controls the NDJSON logger.
type GenerationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopGenerationLogger struct{}

func (noopGenerationLogger) Log(GenerationLogEvent) {}
func (noopGenerationLogger) Close() error           { return nil }

type fileGenerationLogger struct {
	dir    string
	queue  chan GenerationLogEvent
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex // guards closed
	closed bool
}

// NewGenerationLogger returns a logger writing one NDJSON file per user and
// day under cfg.Dir. Events are written by a background goroutine; when the
// queue is full new events are dropped.
func NewGenerationLogger(cfg GenerationLogConfig, logger *slog.Logger) (GenerationLogger, error) {
	if !cfg.Enabled {
		return noopGenerationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create generation log dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	l := &fileGenerationLogger{
		dir:    cfg.Dir,
		queue:  make(chan GenerationLogEvent, size),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

func (l *fileGenerationLogger) Log(event GenerationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("generation log queue full, dropping event", "function", event.Function, "user_id", event.UserID)
	}
}

func (l *fileGenerationLogger) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	l.wg.Wait()
	return nil
}

func (l *fileGenerationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write generation log", "error", err, "user_id", event.UserID)
		}
	}
}

func (l *fileGenerationLogger) write(event GenerationLogEvent) error {
	user := event.UserID
	if user == "" {
		user = "anonymous"
	}
	user = unsafePathChars.ReplaceAllString(user, "_")
	dir := filepath.Join(l.dir, user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
