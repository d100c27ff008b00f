package registry

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/sym"
)

// MinDebounce is the shortest quiet period accepted before a rescan.
const MinDebounce = time.Second

// Watcher watches the registry directory and calls onChange once the
// directory has been quiet for the debounce period.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	log      *zap.SugaredLogger

	mu       sync.Mutex
	timer    *time.Timer
	started  bool
	stopped  bool
	loopDone chan struct{}
}

// NewWatcher creates a watcher for dir. Debounce periods below MinDebounce
// are raised to it.
func NewWatcher(dir string, debounce time.Duration, onChange func(), log *zap.SugaredLogger) (*Watcher, error) {
	if debounce < MinDebounce {
		debounce = MinDebounce
	}
	if log == nil {
		log = logger.ComponentLogger("registry")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch registry directory %s", dir)
	}

	return &Watcher{
		dir:      dir,
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		log:      logger.WithSymbol(log, sym.Registry),
		loopDone: make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	defer close(w.loopDone)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.log.Debugw("Registry directory changed",
				logger.FieldPath, event.Name,
				"op", event.Op.String())
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Registry watcher error", logger.FieldError, err)
		}
	}
}

// relevant ignores chmod noise and files that are not manifests.
func relevant(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ManifestExt {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// schedule restarts the quiet-period timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	w.log.Infow("Registry directory settled, requesting rescan", logger.FieldPath, w.dir)
	w.onChange()
}

// Stop closes the watcher and cancels any pending rescan.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.loopDone
	}
	return err
}
