package intake

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// imageExtensions are the capture formats the watcher picks up.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// Watcher monitors the capture directory for new image files and feeds them
// into a callback. Capture hardware writes files incrementally, so each new
// file is debounced until writes settle before being reported.
type Watcher struct {
	captureDir string
	onImage    func(path string)
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	running    bool
	pending    map[string]*time.Timer
	debounce   time.Duration
}

// NewWatcher creates a Watcher over captureDir. The onImage callback is
// called once per settled new image file.
func NewWatcher(captureDir string, onImage func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		captureDir: captureDir,
		onImage:    onImage,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]*time.Timer),
		debounce:   200 * time.Millisecond,
	}, nil
}

// Start begins watching the capture directory. Existing files are reported
// immediately so captures taken before startup are not lost.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.captureDir, 0o700); err != nil {
		return err
	}
	if err := w.watcher.Add(w.captureDir); err != nil {
		return err
	}

	w.reportExisting()
	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	for _, t := range w.pending {
		t.Stop()
	}
	return w.watcher.Close()
}

// reportExisting reports image files already present in the capture dir.
func (w *Watcher) reportExisting() {
	entries, err := os.ReadDir(w.captureDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", w.captureDir).Msg("Failed to scan capture dir")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		w.onImage(filepath.Join(w.captureDir, e.Name()))
	}
}

// watchLoop is the main event loop.
func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isImageFile(event.Name) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.scheduleReport(filepath.Clean(event.Name))
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.cancelReport(filepath.Clean(event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Capture watcher error")
		}
	}
}

// scheduleReport (re)arms the debounce timer for a file. The callback fires
// only once writes have settled.
func (w *Watcher) scheduleReport(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		w.mu.Unlock()

		if !running {
			return
		}
		if _, err := os.Stat(path); err != nil {
			return // removed before it settled
		}
		log.Debug().Str("path", path).Msg("New capture detected")
		w.onImage(path)
	})
}

// cancelReport stops a pending report for a removed file.
func (w *Watcher) cancelReport(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
