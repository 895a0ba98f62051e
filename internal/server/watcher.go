package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/razvandimescu/peekhtml/internal/filetree"
)

// Writes made by the save endpoint are not echoed back as file_modified
// for this long.
const selfWriteWindow = 2 * time.Second

var errWatcherReplaced = errors.New("watcher replaced by a newer project")

// watcherManager manages file watching with proper cleanup
type watcherManager struct {
	mu      sync.Mutex
	current *fsnotify.Watcher
	cancel  context.CancelFunc
	run     func(ctx context.Context, watcher *fsnotify.Watcher, ignore []string)
}

// watchDirectory replaces any running watcher with one covering rootDir and
// every non-excluded directory below it.
func (m *watcherManager) watchDirectory(rootDir string, ignore []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(rootDir); err != nil {
		watcher.Close()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.stopLocked()
	m.current, m.cancel = watcher, cancel
	m.mu.Unlock()

	// The walk runs unlocked; a later call may take over in the meantime and
	// will already have stopped this watcher.
	dirs, walkErr := collectDirectories(rootDir, ignore)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != watcher {
		return errWatcherReplaced
	}
	if walkErr != nil {
		m.stopLocked()
		return fmt.Errorf("directory walk failed: %w", walkErr)
	}

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.Printf("Warning: Cannot watch directory %s: %v", dir, err)
		}
	}

	go m.run(ctx, watcher, ignore)
	return nil
}

func (m *watcherManager) stopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}

func (m *watcherManager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// collectDirectories walks the tree below rootDir and returns the
// directories to watch, skipping the same names the file tree skips.
// Symlinked directories are not followed.
func collectDirectories(rootDir string, ignore []string) ([]string, error) {
	var dirsToWatch []string

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == rootDir {
				return err
			}
			log.Printf("Warning: Cannot scan %s: %v", path, err)
			return nil
		}
		if !d.IsDir() || path == rootDir {
			return nil
		}
		if filetree.Excluded(d.Name(), ignore) {
			return filepath.SkipDir
		}
		dirsToWatch = append(dirsToWatch, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return dirsToWatch, nil
}

// watchLoop turns fsnotify events into SSE messages until ctx is cancelled.
func (s *Server) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, ignore []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(watcher, event, ignore)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Directory watcher error: %v", err)
		}
	}
}

func (s *Server) handleFSEvent(watcher *fsnotify.Watcher, event fsnotify.Event, ignore []string) {
	name := filepath.Base(event.Name)
	if filetree.Excluded(name, ignore) {
		return
	}
	rel, err := s.store.Rel(event.Name)
	if err != nil {
		// Project changed while the event was in flight.
		return
	}

	isHTML := filetree.IsHTML(name)

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			addDirectory(watcher, event.Name, ignore)
			s.events.publish(treeChangedMessage())
			return
		}
		if !isHTML || s.writes.recent(rel) {
			return
		}
		log.Printf("HTML file created: %s", rel)
		s.events.publish(treeChangedMessage())
		// Editors that save by rename show up as a create.
		s.events.publish(fileModifiedMessage(rel))

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A removed path can no longer be stat'ed; extension-less names are
		// taken to be directories.
		if isHTML || filepath.Ext(name) == "" {
			log.Printf("Removed: %s", rel)
			s.events.publish(treeChangedMessage())
		}

	case event.Has(fsnotify.Write):
		if !isHTML || s.writes.recent(rel) {
			return
		}
		s.events.publish(fileModifiedMessage(rel))
	}
}

// addDirectory watches a newly created directory and anything already
// inside it.
func addDirectory(watcher *fsnotify.Watcher, dirPath string, ignore []string) {
	if err := watcher.Add(dirPath); err != nil {
		log.Printf("Warning: Cannot watch new directory %s: %v", dirPath, err)
		return
	}
	log.Printf("Now watching new directory: %s", dirPath)

	subdirs, err := collectDirectories(dirPath, ignore)
	if err != nil {
		return
	}
	for _, dir := range subdirs {
		if err := watcher.Add(dir); err != nil {
			log.Printf("Warning: Cannot watch directory %s: %v", dir, err)
		}
	}
}

// recentWrites remembers files the server wrote itself, keyed by
// root-relative path, for a short window.
type recentWrites struct {
	mu     sync.Mutex
	window time.Duration
	at     map[string]time.Time
	now    func() time.Time
}

func newRecentWrites(window time.Duration) *recentWrites {
	return &recentWrites{
		window: window,
		at:     make(map[string]time.Time),
		now:    time.Now,
	}
}

func (rw *recentWrites) record(rel string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.at[rel] = rw.now()
}

func (rw *recentWrites) forget(rel string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	delete(rw.at, rel)
}

// recent reports whether rel was written within the window. Expired entries
// are dropped on the way.
func (rw *recentWrites) recent(rel string) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	now := rw.now()
	for p, t := range rw.at {
		if now.Sub(t) > rw.window {
			delete(rw.at, p)
		}
	}
	_, ok := rw.at[rel]
	return ok
}
