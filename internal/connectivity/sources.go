package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manual is a Source whose reachability is set by the caller.
type Manual struct {
	connected atomic.Bool
	changes   chan struct{}
}

// NewManual creates a Manual source with the given initial reachability.
func NewManual(connected bool) *Manual {
	m := &Manual{changes: make(chan struct{}, 1)}
	m.connected.Store(connected)
	return m
}

// Set changes the reported reachability and signals Changes.
func (m *Manual) Set(connected bool) {
	m.connected.Store(connected)
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Reachable returns the value last passed to Set.
func (m *Manual) Reachable(context.Context) bool {
	return m.connected.Load()
}

// Changes signals after every Set.
func (m *Manual) Changes() <-chan struct{} {
	return m.changes
}

// DefaultProbeTimeout bounds a single HTTP probe.
const DefaultProbeTimeout = 2 * time.Second

// HTTPProbe reports the service reachable when a HEAD request to URL gets
// any HTTP response at all. Status codes are irrelevant; only transport
// failures count as unreachable.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe creates a probe with DefaultProbeTimeout.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url, Client: &http.Client{Timeout: DefaultProbeTimeout}}
}

// Reachable sends the probe request.
func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// SwitchFile reports offline while a flag file exists.
//
// Once started it watches the file's directory with fsnotify and signals
// Changes when the flag appears or disappears.
type SwitchFile struct {
	path string

	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSwitchFile creates a switch over the flag file at path.
func NewSwitchFile(path string) *SwitchFile {
	return &SwitchFile{
		path:    filepath.Clean(path),
		changes: make(chan struct{}, 1),
	}
}

// Path returns the flag file location.
func (s *SwitchFile) Path() string {
	return s.path
}

// Reachable is false while the flag file exists.
func (s *SwitchFile) Reachable(context.Context) bool {
	_, err := os.Stat(s.path)
	return errors.Is(err, fs.ErrNotExist)
}

// SetOffline creates or removes the flag file.
func (s *SwitchFile) SetOffline(offline bool) error {
	if !offline {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove offline flag: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create offline flag dir: %w", err)
	}
	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		return fmt.Errorf("create offline flag: %w", err)
	}
	return nil
}

// Start begins watching the flag file's directory. The directory is created
// if missing. Calling Start on a running switch is a no-op.
func (s *SwitchFile) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.processEvents()

	return nil
}

// Stop stops watching. It blocks until the event goroutine has exited.
func (s *SwitchFile) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Changes signals when the flag file may have been created or removed.
func (s *SwitchFile) Changes() <-chan struct{} {
	return s.changes
}

func (s *SwitchFile) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case s.changes <- struct{}{}:
			default:
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("offline switch watch error", "path", s.path, "error", err)
		}
	}
}

type allSources []Source

// All returns a Source that is reachable only when every source is.
// Notifiers among the sources still wake a Monitor.
func All(sources ...Source) Source {
	return allSources(sources)
}

func (a allSources) Reachable(ctx context.Context) bool {
	for _, s := range a {
		if !s.Reachable(ctx) {
			return false
		}
	}
	return true
}
