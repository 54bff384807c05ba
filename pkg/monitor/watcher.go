package monitor

import (
	"sync"
	"time"

	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/relays"
)

// Episode is a stretch of transmission above the SWR threshold.
type Episode struct {
	Start        time.Time
	End          time.Time
	PeakSWR      float64
	FrequencyKHz uint16
	Relays       relays.Config
}

// Duration returns how long the episode has lasted.
func (e Episode) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Watcher keeps a time window of readings and detects mismatch episodes:
// forward power present and SWR at or above the threshold for at least the
// configured duration. Readings are ordered oldest first.
type Watcher struct {
	threshold   float64
	minPower    float64
	window      time.Duration
	minDuration time.Duration

	mu       sync.RWMutex
	readings []Reading
	episodes []Episode
	pending  Episode
	active   bool
	reported bool
	shutdown bool

	cbMu       sync.RWMutex
	callbacks  []func(readings []Reading, episodes []Episode)
	onMismatch []func(Episode)
}

// NewWatcher creates a watcher flagging SWR at or above swrThreshold.
func NewWatcher(cfg config.MonitorConfig, swrThreshold float64) *Watcher {
	return &Watcher{
		threshold:   swrThreshold,
		minPower:    cfg.MinPower,
		window:      cfg.Window,
		minDuration: cfg.MinMismatch,
	}
}

// Process consumes readings until in closes. After that no callbacks fire
// until ResetShutdown.
func (w *Watcher) Process(in <-chan Reading) {
	for r := range in {
		w.add(r)
	}
	w.mu.Lock()
	w.shutdown = true
	w.mu.Unlock()
}

func (w *Watcher) add(r Reading) {
	w.mu.Lock()

	w.readings = append(w.readings, r)
	if w.window > 0 {
		cutoff := r.Timestamp.Add(-w.window)
		i := 0
		for i < len(w.readings) && !w.readings[i].Timestamp.After(cutoff) {
			i++
		}
		w.readings = w.readings[i:]

		j := 0
		for j < len(w.episodes) && !w.episodes[j].End.After(cutoff) {
			j++
		}
		w.episodes = w.episodes[j:]
	}

	fired, ok := w.update(r)
	notify := !w.shutdown
	w.mu.Unlock()

	if !notify {
		return
	}
	if ok {
		w.notifyMismatch(fired)
	}
	w.notifyCallbacks()
}

// update advances the episode state with r and returns an episode that just
// reached the minimum duration.
func (w *Watcher) update(r Reading) (Episode, bool) {
	mismatched := !r.Result && r.ForwardWatts >= w.minPower && r.SWR >= w.threshold
	if !mismatched {
		w.active = false
		w.reported = false
		return Episode{}, false
	}

	if !w.active {
		w.active = true
		w.reported = false
		w.pending = Episode{Start: r.Timestamp, End: r.Timestamp}
	}
	w.pending.End = r.Timestamp
	w.pending.FrequencyKHz = r.FrequencyKHz
	w.pending.Relays = r.Relays
	if r.SWR > w.pending.PeakSWR {
		w.pending.PeakSWR = r.SWR
	}

	if w.pending.Duration() < w.minDuration {
		return Episode{}, false
	}
	if w.reported {
		if n := len(w.episodes); n > 0 {
			w.episodes[n-1] = w.pending
		} else {
			w.episodes = append(w.episodes, w.pending)
		}
		return Episode{}, false
	}
	w.reported = true
	w.episodes = append(w.episodes, w.pending)
	return w.pending, true
}

// Readings returns a copy of the current readings.
func (w *Watcher) Readings() []Reading {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Reading, len(w.readings))
	copy(result, w.readings)
	return result
}

// Episodes returns a copy of the detected episodes within the window.
func (w *Watcher) Episodes() []Episode {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Episode, len(w.episodes))
	copy(result, w.episodes)
	return result
}

// OnUpdate registers a callback invoked after every reading.
func (w *Watcher) OnUpdate(callback func(readings []Reading, episodes []Episode)) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// OnMismatch registers a callback invoked once per episode, when it reaches
// the minimum duration.
func (w *Watcher) OnMismatch(callback func(Episode)) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.onMismatch = append(w.onMismatch, callback)
}

// ResetShutdown re-enables callbacks for a new input channel.
func (w *Watcher) ResetShutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdown = false
}

func (w *Watcher) notifyMismatch(e Episode) {
	w.cbMu.RLock()
	callbacks := make([]func(Episode), len(w.onMismatch))
	copy(callbacks, w.onMismatch)
	w.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(e)
		}
	}
}

func (w *Watcher) notifyCallbacks() {
	readings := w.Readings()
	episodes := w.Episodes()

	w.cbMu.RLock()
	callbacks := make([]func([]Reading, []Episode), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(readings, episodes)
		}
	}
}
