package config

import (
	"bytes"
	"os"
	"sync"
	"time"
)

// WatchInterval is the default interval for config file polling.
const WatchInterval = 2 * time.Second

// WatchEvent is emitted when the watched Exofile changes.
type WatchEvent struct {
	// Config is the newly loaded config. Nil when the change could not be
	// loaded; the consumer keeps the previous config in that case.
	Config *ClientConfig

	// Removed is set when the file disappeared.
	Removed bool

	// Err holds the load or stat error, if any.
	Err error
}

// Watcher polls a single config file and emits an event whenever its
// contents change. Polling avoids platform-specific file notification
// quirks at the cost of a small detection delay.
type Watcher struct {
	path     string
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	eventCh  chan WatchEvent
	lastData []byte
	missing  bool
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string) *Watcher {
	return &Watcher{
		path:     path,
		interval: WatchInterval,
		eventCh:  make(chan WatchEvent, 4),
	}
}

// SetInterval overrides the polling interval. Must be called before Start.
func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start begins polling and returns the event channel. Starting a running
// watcher returns the same channel.
func (w *Watcher) Start() <-chan WatchEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return w.eventCh
	}

	if data, err := os.ReadFile(w.path); err == nil {
		w.lastData = data
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	stopCh := w.stopCh
	doneCh := w.doneCh
	go w.watchLoop(stopCh, doneCh)

	return w.eventCh
}

// Stop stops the watcher and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.running = false
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh
}

func (w *Watcher) watchLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if ev, ok := w.poll(); ok {
				select {
				case w.eventCh <- ev:
				case <-stopCh:
					return
				}
			}
		}
	}
}

// poll checks the file once and reports whether an event should be emitted.
func (w *Watcher) poll() (WatchEvent, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			if w.missing {
				return WatchEvent{}, false
			}
			w.missing = true
			return WatchEvent{Removed: true, Err: err}, true
		}
		return WatchEvent{Err: err}, true
	}

	reappeared := w.missing
	w.missing = false
	if !reappeared && bytes.Equal(data, w.lastData) {
		return WatchEvent{}, false
	}
	w.lastData = data

	cfg, err := Parse(data)
	if err != nil {
		return WatchEvent{Err: err}, true
	}
	return WatchEvent{Config: cfg}, true
}
