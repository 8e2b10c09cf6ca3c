package tuning

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source provides the current tuning config and hot-reloads it when
// the backing file changes. A Source with no file serves the defaults.
type Source struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewSource creates a Source. An empty path serves static defaults and
// never watches anything.
func NewSource(path string) (*Source, error) {
	s := &Source{done: make(chan struct{})}

	if path == "" {
		s.current.Store(Default())
		return s, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	s.path = absPath

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)

	return s, nil
}

// Current returns the active tuning config. Safe for concurrent use;
// callers must treat the result as read-only.
func (s *Source) Current() *Config {
	return s.current.Load()
}

// Start begins watching the tuning file for changes. No-op for a
// Source without a file.
func (s *Source) Start(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = watcher

	// Watch the directory so editor rename-and-replace still lands.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go s.run(ctx)
	return nil
}

// Stop stops the watcher.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Source) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Tuning watcher error: %v", err)
		}
	}
}

func (s *Source) reload() {
	cfg, err := Load(s.path)
	if err != nil {
		// Keep serving the last good config.
		log.Printf("Tuning reload failed, keeping previous config: %v", err)
		return
	}
	s.current.Store(cfg)
	log.Printf("Tuning config reloaded from %s", s.path)
}
