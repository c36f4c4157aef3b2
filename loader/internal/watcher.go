package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tutor/types"
)

// DropFile is a stable file found under <source>/<assistant-id>/<label>/.
type DropFile struct {
	Path        string
	AssistantID string
	Label       types.Label
}

type FileState int

const (
	StateDone FileState = iota
	StateBad
)

type WatcherConfig struct {
	MonitoringTime time.Duration
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	PollInterval   time.Duration
}

// Watcher polls the drop folder and emits files once they have been present
// for longer than MonitoringTime.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger

	mu         sync.Mutex
	firstSeen  map[string]time.Time
	processing map[string]bool
}

func NewWatcher(cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:        cfg,
		logger:     logger.With("component", "watcher"),
		firstSeen:  make(map[string]time.Time),
		processing: make(map[string]bool),
	}, nil
}

// WatchFile emits ready files until ctx is done. fsnotify events trigger an
// early scan; the poll interval still drives the stability check.
func (w *Watcher) WatchFile(ctx context.Context, fileChan chan<- DropFile) {
	w.logger.Info("start monitoring folder", "dir", w.cfg.SourceDir)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	defer w.logger.Info("file watcher stopped")

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		defer fsw.Close()
		w.addTree(fsw, w.cfg.SourceDir, 0)
		events, errs = fsw.Events, fsw.Errors
	}

	emit := func() bool {
		for _, f := range w.Scan() {
			select {
			case fileChan <- f:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addTree(fsw, ev.Name, w.depth(ev.Name))
				}
			}
			if !emit() {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("fsnotify error", "error", err)
		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}

// addTree watches dir and its subdirectories down to the label level.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string, depth int) {
	if depth > 2 {
		return
	}
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("cannot watch directory", "dir", dir, "error", err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addTree(fsw, filepath.Join(dir, e.Name()), depth+1)
		}
	}
}

// depth is 1 for an assistant dir and 2 for a label dir.
func (w *Watcher) depth(dir string) int {
	rel, err := filepath.Rel(w.cfg.SourceDir, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return 3
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// Scan walks the drop folder once and returns the files that became ready.
// Returned files stay marked as processing until Done is called.
func (w *Watcher) Scan() []DropFile {
	found, err := w.list()
	if err != nil {
		w.logger.Error("error while reading source directory", "error", err)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[string]bool, len(found))
	var ready []DropFile
	for _, f := range found {
		current[f.Path] = true
		if w.processing[f.Path] {
			continue
		}
		first, seen := w.firstSeen[f.Path]
		if !seen {
			w.firstSeen[f.Path] = time.Now()
			w.logger.Info("new file detected", "path", f.Path)
			continue
		}
		if time.Since(first) > w.cfg.MonitoringTime {
			w.processing[f.Path] = true
			ready = append(ready, f)
		}
	}

	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
			delete(w.processing, path)
		}
	}
	return ready
}

// Done stops tracking a file after it has been handled.
func (w *Watcher) Done(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.processing, path)
	delete(w.firstSeen, path)
}

// list returns files two levels below the source dir. Misplaced files are
// moved to the bad dir.
func (w *Watcher) list() ([]DropFile, error) {
	assistants, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	var out []DropFile
	for _, a := range assistants {
		if !a.IsDir() {
			w.logger.Warn("file outside <assistant>/<label>/ layout", "name", a.Name())
			w.MoveToArchive(filepath.Join(w.cfg.SourceDir, a.Name()), StateBad)
			continue
		}
		for _, label := range types.Labels {
			dir := filepath.Join(w.cfg.SourceDir, a.Name(), string(label))
			files, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
					continue
				}
				out = append(out, DropFile{Path: filepath.Join(dir, f.Name()), AssistantID: a.Name(), Label: label})
			}
		}
	}
	return out, nil
}

// MoveToArchive moves a handled file into a dated folder of the archive or bad dir.
func (w *Watcher) MoveToArchive(filePath string, state FileState) (string, error) {
	root := w.cfg.ArchiveDir
	if state == StateBad {
		root = w.cfg.BadDir
	}

	destDir := filepath.Join(root, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	ext := filepath.Ext(destPath)
	base := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err != nil {
		// rename fails across devices
		if err := copyFile(filePath, destPath); err != nil {
			return "", fmt.Errorf("error moving file: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
	}
	w.logger.Info("file moved", "from", filePath, "to", destPath)
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
