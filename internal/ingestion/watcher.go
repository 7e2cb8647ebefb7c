package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

// FileWatcher watches log files through their parent directories and reports
// which tracked file changed. Watching the directory rather than the file
// keeps notifications working across rotation, where the original file is
// renamed away and a new one created under the same name.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	tracked map[string]bool // absolute file path -> tracked
	dirs    map[string]int  // watched directory -> tracked file count
	mu      sync.Mutex
	events  chan string
	errors  chan error
	logger  *pterm.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFileWatcher creates a watcher for the given log file paths. Files that
// do not exist yet are still tracked; an event fires when they appear.
func NewFileWatcher(paths []string, logger *pterm.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithCaller().Error("Failed to create file watcher", logger.Args("error", err))
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		tracked: make(map[string]bool),
		dirs:    make(map[string]int),
		events:  make(chan string, 100),
		errors:  make(chan error, 10),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	watchedDirs := 0
	for _, path := range paths {
		if err := fw.track(path); err != nil {
			logger.Warn("Cannot watch log file directory",
				logger.Args("path", path, "error", err))
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Warn("Log file does not exist yet, waiting for it to appear",
				logger.Args("path", path))
		}
		watchedDirs++
	}

	if watchedDirs == 0 && len(paths) > 0 {
		logger.Warn("No log file directories could be watched, relying on polling only")
	}

	fw.wg.Add(1)
	go fw.eventLoop()

	logger.Info("File watcher initialized",
		logger.Args("tracked_files", len(fw.tracked), "watched_dirs", len(fw.dirs)))
	return fw, nil
}

// eventLoop forwards events for tracked files onto the events channel.
func (fw *FileWatcher) eventLoop() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.stopCh:
			fw.logger.Debug("File watcher stopped")
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.logger.Warn("File watcher events channel closed")
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.logger.Warn("File watcher errors channel closed")
				return
			}
			fw.logger.WithCaller().Error("File watcher error", fw.logger.Args("error", err))
			select {
			case fw.errors <- err:
			default:
				fw.logger.Warn("Error channel full, dropping error")
			}
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	fw.mu.Lock()
	tracked := fw.tracked[path]
	fw.mu.Unlock()

	if !tracked {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write:
		fw.logger.Trace("File write detected", fw.logger.Args("file", path))
		fw.notify(path)

	case event.Op&fsnotify.Create == fsnotify.Create:
		// A rotated file reappeared under its tracked name
		fw.logger.Debug("File created", fw.logger.Args("file", path))
		fw.notify(path)

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		fw.logger.Debug("File removed or renamed (possible rotation)", fw.logger.Args("file", path))
		fw.notify(path)
	}
}

func (fw *FileWatcher) notify(path string) {
	select {
	case fw.events <- path:
	default:
		fw.logger.Warn("Event channel full, dropping event", fw.logger.Args("file", path))
	}
}

// Events returns the channel carrying paths of changed tracked files.
func (fw *FileWatcher) Events() <-chan string {
	return fw.events
}

// Errors returns the channel for watcher errors
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FileWatcher) track(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.dirs[dir] == 0 {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch directory %s: %w", dir, err)
		}
		fw.logger.Debug("Started watching directory", fw.logger.Args("dir", dir))
	}
	fw.dirs[dir]++
	fw.tracked[path] = true
	return nil
}

// AddPath starts tracking a new log file.
func (fw *FileWatcher) AddPath(path string) error {
	if err := fw.track(path); err != nil {
		fw.logger.WithCaller().Warn("Failed to add watch path", fw.logger.Args("path", path, "error", err))
		return err
	}
	fw.logger.Info("Added new watch path", fw.logger.Args("path", path))
	return nil
}

// RemovePath stops tracking a log file, dropping the directory watch when no
// other tracked file shares it.
func (fw *FileWatcher) RemovePath(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.tracked[path] {
		return nil
	}
	delete(fw.tracked, path)

	fw.dirs[dir]--
	if fw.dirs[dir] <= 0 {
		delete(fw.dirs, dir)
		if err := fw.watcher.Remove(dir); err != nil {
			fw.logger.WithCaller().Warn("Failed to remove watch directory", fw.logger.Args("dir", dir, "error", err))
			return err
		}
	}

	fw.logger.Info("Removed watch path", fw.logger.Args("path", path))
	return nil
}

// Close stops the file watcher and cleans up resources
func (fw *FileWatcher) Close() error {
	fw.logger.Debug("Closing file watcher...")
	close(fw.stopCh)
	fw.wg.Wait()

	if err := fw.watcher.Close(); err != nil {
		fw.logger.WithCaller().Error("Failed to close file watcher", fw.logger.Args("error", err))
		return err
	}

	close(fw.events)
	close(fw.errors)
	fw.logger.Info("File watcher closed")
	return nil
}
