// Package credentials resolves backend API keys and model overrides at call
// time, so rotating a key never requires a restart.
package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Source looks up a single configuration value. An empty result means unset.
type Source interface {
	Lookup(key string) string
}

// Env reads the process environment on every lookup.
type Env struct{}

func (Env) Lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Static is a fixed set of values, mostly useful in tests.
type Static map[string]string

func (s Static) Lookup(key string) string {
	return strings.TrimSpace(s[key])
}

// Chain returns the first non-empty value from its sources.
type Chain []Source

func (c Chain) Lookup(key string) string {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v := src.Lookup(key); v != "" {
			return v
		}
	}
	return ""
}

// File holds the parsed contents of a dotenv file and optionally reloads
// them when the file changes on disk.
type File struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	values map[string]string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// OpenFile parses path. A missing file yields an empty source rather than an
// error so deployments may rely on the environment alone.
func OpenFile(path string, watch bool, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve credentials file path")
	}

	f := &File{
		path:   absPath,
		logger: logger.Named("credentials"),
		values: map[string]string{},
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}

	if watch {
		if err := f.startWatching(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *File) Lookup(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return strings.TrimSpace(f.values[key])
}

// Reload re-reads the file from disk.
func (f *File) Reload() error {
	values, err := godotenv.Read(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			values = map[string]string{}
		} else {
			return errors.Wrapf(err, "parse credentials file %q", f.path)
		}
	}

	f.mu.Lock()
	f.values = values
	f.mu.Unlock()

	f.logger.Debug("credentials loaded", zap.String("path", f.path), zap.Int("keys", len(values)))
	return nil
}

// Close stops the watcher, if any.
func (f *File) Close() error {
	if f.watcher == nil {
		return nil
	}
	close(f.stopCh)
	err := f.watcher.Close()
	<-f.doneCh
	return err
}

// The parent directory is watched because editors and secret mounts usually
// replace the file instead of writing it in place.
func (f *File) startWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create credentials watcher")
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "watch %q", filepath.Dir(f.path))
	}

	f.watcher = watcher
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	go f.watchLoop()

	f.logger.Info("watching credentials file", zap.String("path", f.path))
	return nil
}

func (f *File) watchLoop() {
	defer close(f.doneCh)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("credentials reload failed", zap.Error(err))
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("credentials watcher error", zap.Error(err))
		case <-f.stopCh:
			return
		}
	}
}
