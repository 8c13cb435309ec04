// Package watcher monitors a recordings directory and reports files once
// they stop changing.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"dragcheck/internal/recording"
)

// Event is a recording that has settled on disk.
type Event struct {
	Path      string
	Digest    string
	Size      int64
	Timestamp time.Time
}

// Config controls a Watcher.
type Config struct {
	Dir             string
	IncludePatterns []string // matched against the base name; empty matches everything
	Debounce        time.Duration
	MaxFileSize     int64 // 0 disables the limit
	ScanExisting    bool  // report files already present at Start
}

// Watcher monitors a directory for completed recordings.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       Config
	dir       string

	// State tracking: path -> last modification time
	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	running  atomic.Bool
	lastTick atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for cfg.Dir.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory is empty")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	for _, p := range cfg.IncludePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("bad include pattern %q: %w", p, err)
		}
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		cfg:       cfg,
		dir:       dir,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of settled recordings.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the directory, creating it if needed.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create watch directory: %w", err)
	}
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return err
	}

	if w.cfg.ScanExisting {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		// Backdate so existing files settle on the first tick.
		settled := time.Now().Add(-w.cfg.Debounce)
		for _, entry := range entries {
			if !entry.IsDir() && w.Matches(entry.Name()) {
				w.touch(filepath.Join(w.dir, entry.Name()), settled)
			}
		}
	}

	w.running.Store(true)
	w.lastTick.Store(time.Now().UnixNano())

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	if !w.running.Swap(false) {
		return w.fsWatcher.Close()
	}
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// Matches reports whether a base name passes the include patterns.
func (w *Watcher) Matches(name string) bool {
	if len(w.cfg.IncludePatterns) == 0 {
		return true
	}
	for _, p := range w.cfg.IncludePatterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) touch(path string, at time.Time) {
	w.stateMu.Lock()
	w.state[path] = at
	w.stateMu.Unlock()
}

func (w *Watcher) forget(path string) {
	w.stateMu.Lock()
	delete(w.state, path)
	w.stateMu.Unlock()
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.Matches(filepath.Base(event.Name)) {
				continue
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.forget(event.Name)
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			w.touch(event.Name, time.Now())

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

// debounceLoop checks for settled files at half the debounce interval.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(max(10*time.Millisecond, w.cfg.Debounce/2))
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.lastTick.Store(now.UnixNano())
			w.checkStableFiles(now)
		}
	}
}

type stableFile struct {
	path    string
	lastMod time.Time
}

// checkStableFiles emits files untouched for the debounce interval. The
// lock is released while files are hashed.
func (w *Watcher) checkStableFiles(now time.Time) {
	threshold := now.Add(-w.cfg.Debounce)

	var stableFiles []stableFile
	w.stateMu.RLock()
	for path, lastMod := range w.state {
		if !lastMod.After(threshold) {
			stableFiles = append(stableFiles, stableFile{path: path, lastMod: lastMod})
		}
	}
	w.stateMu.RUnlock()

	if len(stableFiles) == 0 {
		return
	}

	type hashResult struct {
		stableFile
		digest string
		size   int64
		err    error
	}
	results := make([]hashResult, len(stableFiles))
	for i, sf := range stableFiles {
		results[i] = hashResult{stableFile: sf}
		info, err := os.Stat(sf.path)
		if err != nil {
			results[i].err = err
			continue
		}
		results[i].size = info.Size()
		if w.cfg.MaxFileSize > 0 && info.Size() > w.cfg.MaxFileSize {
			results[i].err = fmt.Errorf("%s: %d bytes exceeds limit of %d", sf.path, info.Size(), w.cfg.MaxFileSize)
			continue
		}
		results[i].digest, results[i].err = recording.Digest(sf.path)
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	for _, r := range results {
		currentLastMod, exists := w.state[r.path]
		if !exists {
			continue
		}
		if !currentLastMod.Equal(r.lastMod) {
			// Modified while hashing; let it settle again.
			continue
		}

		if r.err != nil {
			delete(w.state, r.path)
			select {
			case w.errors <- r.err:
			default:
			}
			continue
		}

		event := Event{
			Path:      r.path,
			Digest:    r.digest,
			Size:      r.size,
			Timestamp: now,
		}
		select {
		case w.events <- event:
			// Not reported again until the next modification.
			delete(w.state, r.path)
		default:
			// Event channel full, try again later
		}
	}
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// TrackedFiles returns the number of files waiting to settle.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}

// Alive reports whether the watcher is running and its debounce loop has
// ticked within staleAfter.
func (w *Watcher) Alive(staleAfter time.Duration) error {
	if !w.running.Load() {
		return fmt.Errorf("watcher not running")
	}
	last := time.Unix(0, w.lastTick.Load())
	if age := time.Since(last); age > staleAfter {
		return fmt.Errorf("watcher loop stalled for %s", age.Round(time.Millisecond))
	}
	return nil
}
