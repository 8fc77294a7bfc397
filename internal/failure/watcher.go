package failure

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
)

// Watcher reloads a rule file into an Analyzer whenever the file changes. A
// reload that fails leaves the analyzer's current rules in place.
type Watcher struct {
	path     string
	loader   *Loader
	analyzer *Analyzer
	group    singleflight.Group

	logger   *log.Logger
	logLevel model.LogLevel

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewWatcher(path string, loader *Loader, analyzer *Analyzer, logger *log.Logger, logLevel model.LogLevel) *Watcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		analyzer: analyzer,
		logger:   logger,
		logLevel: logLevel,
	}
}

// Reload loads the rule file and installs it. Concurrent calls share one load.
func (w *Watcher) Reload() error {
	_, err, shared := w.group.Do(w.path, func() (any, error) {
		rules, err := w.loader.LoadFile(w.path)
		if err != nil {
			metrics.RuleReloadsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		w.analyzer.SetRules(rules)
		metrics.RuleReloadsTotal.WithLabelValues("ok").Inc()
		return rules, nil
	})
	if err != nil {
		w.log(model.LogLevelError, "reload failed path=%s error=%v", w.path, err)
		return err
	}
	w.log(model.LogLevelInfo, "rules reloaded path=%s shared=%t", w.path, shared)
	return nil
}

// Start watches the rule file's directory until ctx is done. Editors often
// replace files instead of writing them in place, so the directory is watched
// rather than the file.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Wait blocks until the watch loop started by Start has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				_ = w.Reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

func (w *Watcher) log(level model.LogLevel, format string, args ...any) {
	if level < w.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	w.logger.Printf("%s %s failure_watcher: %s", time.Now().Format(time.RFC3339), level, msg)
}
