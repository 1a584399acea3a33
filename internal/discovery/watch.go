package discovery

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay gives the writer time to finish before a newly created file
// is handed to the transcriber.
const settleDelay = 500 * time.Millisecond

// Watcher emits audio files as they appear in a directory. It watches the
// top-level directory only; files dropped into new subdirectories are not
// seen until the next full run.
type Watcher struct {
	dir     string
	exts    []string
	watcher *fsnotify.Watcher

	files chan string
	stop  chan struct{}
	done  chan struct{}
}

// NewWatcher starts watching dir for newly created files matching exts.
func NewWatcher(dir string, exts []string) (*Watcher, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotExist, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch target %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		exts:    exts,
		watcher: fsw,
		files:   make(chan string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Files returns the channel of newly discovered audio file paths. Closed
// when the watcher stops.
func (w *Watcher) Files() <-chan string {
	return w.files
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.files)

	// Suppress duplicate Create+Write pairs for the same path.
	seen := make(map[string]time.Time)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !matchesExt(event.Name, w.exts) {
				continue
			}
			if last, ok := seen[event.Name]; ok && time.Since(last) < settleDelay {
				continue
			}
			seen[event.Name] = time.Now()

			// Let the writer finish before handing the file over.
			time.Sleep(settleDelay)
			if _, err := os.Stat(event.Name); err != nil {
				continue
			}
			select {
			case w.files <- event.Name:
			case <-w.stop:
				return
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-w.stop:
			return
		}
	}
}
