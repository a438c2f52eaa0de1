// Package watcher turns a local checkout into a snapshot file tree and keeps
// it current as files change.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"leo-remote/internal/snapshot"
)

const defaultDebounce = 500 * time.Millisecond

// excludedDirs are directories excluded from file counting and tree generation.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"dist":         true,
}

// UpdateCallback is called with the new tree whenever the set of files under
// a watched directory changes, and once after Watch.
type UpdateCallback func(dir string, tree snapshot.FileTree)

// Watcher monitors working directories for file changes.
type Watcher struct {
	mu       sync.RWMutex
	watchers map[string]*dirWatcher // dir → watcher
	callback UpdateCallback
	debounce time.Duration
	log      *slog.Logger
}

type dirWatcher struct {
	dir       string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	mu        sync.Mutex
	lastPaths []string
}

// New creates a new file system watcher.
func New(callback UpdateCallback, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watchers: make(map[string]*dirWatcher),
		callback: callback,
		debounce: defaultDebounce,
		log:      logger.With("component", "watcher"),
	}
}

// SetDebounce changes the quiet period before a rebuild. Takes effect for
// directories watched afterwards.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Watch starts watching dir. Watching the same directory twice is a no-op.
func (w *Watcher) Watch(dir string) error {
	dir = filepath.Clean(dir)

	w.mu.RLock()
	_, exists := w.watchers[dir]
	debounce := w.debounce
	w.mu.RUnlock()
	if exists {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dw := &dirWatcher{
		dir:       dir,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}

	// Add directories recursively.
	if err := addDirsRecursive(fsW, dir); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	w.watchers[dir] = dw
	w.mu.Unlock()

	go w.watchLoop(dw, debounce)
	go w.rebuild(dw)
	return nil
}

// Unwatch stops watching dir.
func (w *Watcher) Unwatch(dir string) {
	dir = filepath.Clean(dir)

	w.mu.Lock()
	dw, ok := w.watchers[dir]
	if ok {
		delete(w.watchers, dir)
	}
	w.mu.Unlock()

	if ok {
		close(dw.cancel)
		dw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(dw *dirWatcher, debounce time.Duration) {
	var timer *time.Timer

	for {
		select {
		case <-dw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-dw.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDir(filepath.Base(event.Name)) {
						addDirsRecursive(dw.fsWatcher, event.Name)
					}
				}
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				w.rebuild(dw)
			})

		case err, ok := <-dw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "dir", dw.dir, "error", err)
		}
	}
}

// rebuild recomputes the tree and notifies when the file set changed.
func (w *Watcher) rebuild(dw *dirWatcher) {
	select {
	case <-dw.cancel:
		return
	default:
	}

	tree := BuildFileTree(dw.dir, 0)
	paths := tree.Paths()

	dw.mu.Lock()
	changed := dw.lastPaths == nil || !slices.Equal(paths, dw.lastPaths)
	if changed {
		dw.lastPaths = paths
	}
	dw.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(dw.dir, tree)
	}
}

// CountFiles counts all non-excluded files in a directory.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}
		if d.IsDir() {
			if path != dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) {
			return nil
		}
		count++
		return nil
	})
	return count
}

// BuildFileTree generates a snapshot tree for a directory. maxDepth limits
// the levels walked; zero means no limit.
func BuildFileTree(dir string, maxDepth int) snapshot.FileTree {
	nodes := buildTreeRecursive(dir, dir, 0, maxDepth)
	if nodes == nil {
		return snapshot.FileTree{}
	}
	return nodes
}

func buildTreeRecursive(rootDir, currentDir string, depth, maxDepth int) []snapshot.FileNode {
	if maxDepth > 0 && depth >= maxDepth {
		return nil
	}

	entries, err := os.ReadDir(currentDir)
	if err != nil {
		return nil
	}

	// Separate dirs and files, then sort: dirs first, files second.
	var dirs, files []os.DirEntry
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if !skipDir(name) {
				dirs = append(dirs, entry)
			}
			continue
		}
		if !isHidden(name) {
			files = append(files, entry)
		}
	}

	nodes := make([]snapshot.FileNode, 0, len(dirs)+len(files))

	for _, d := range dirs {
		fullPath := filepath.Join(currentDir, d.Name())
		relPath, _ := filepath.Rel(rootDir, fullPath)
		nodes = append(nodes, snapshot.FileNode{
			Name:     d.Name(),
			Path:     filepath.ToSlash(relPath),
			IsDir:    true,
			Children: buildTreeRecursive(rootDir, fullPath, depth+1, maxDepth),
		})
	}

	for _, f := range files {
		fullPath := filepath.Join(currentDir, f.Name())
		relPath, _ := filepath.Rel(rootDir, fullPath)
		var size int64
		if info, err := f.Info(); err == nil {
			size = info.Size()
		}
		nodes = append(nodes, snapshot.FileNode{
			Name: f.Name(),
			Path: filepath.ToSlash(relPath),
			Size: size,
		})
	}

	return nodes
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	dirs := make([]string, 0, len(w.watchers))
	for dir := range w.watchers {
		dirs = append(dirs, dir)
	}
	w.mu.Unlock()

	for _, dir := range dirs {
		w.Unwatch(dir)
	}
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func skipDir(name string) bool {
	return excludedDirs[name] || isHidden(name)
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
