package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Renderer renders task prompts.
type Renderer interface {
	Render(task Task, params map[string]string) (Prompt, error)
}

// Reloadable is a Catalog that can be replaced while in use.
type Reloadable struct {
	cur atomic.Pointer[Catalog]
}

// NewReloadable wraps c.
func NewReloadable(c *Catalog) *Reloadable {
	r := &Reloadable{}
	r.cur.Store(c)
	return r
}

// Render renders with the current catalog.
func (r *Reloadable) Render(task Task, params map[string]string) (Prompt, error) {
	return r.cur.Load().Render(task, params)
}

// Store replaces the current catalog.
func (r *Reloadable) Store(c *Catalog) {
	r.cur.Store(c)
}

// LoadFile parses a template file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt templates: %w", err)
	}
	return ParseCatalog(data)
}

// Watcher reloads a template file into a Reloadable when it changes.
// Edits that fail to parse keep the last good catalog.
type Watcher struct {
	path   string
	target *Reloadable
	fs     *fsnotify.Watcher
	logger *slog.Logger
	done   chan struct{}
}

// Watch starts watching path. The parent directory is watched so that
// editors replacing the file are noticed.
func Watch(ctx context.Context, path string, target *Reloadable, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:   abs,
		target: target,
		fs:     fw,
		logger: logger,
		done:   make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Prompt template watcher error", "error", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	c, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("Prompt templates not reloaded", "path", w.path, "error", err)
		return
	}
	w.target.Store(c)
	w.logger.Info("Prompt templates reloaded", "path", w.path)
}
