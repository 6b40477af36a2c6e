// Package mirror holds the advisory observers that watch the governor
// work without being able to touch it. After every cycle the governor
// publishes an immutable Snapshot into the Hall, which fans it out to
// each registered Observer on its own buffered feed. A slow observer
// loses snapshots instead of stalling the cycle loop.
package mirror

import (
	"sync"
	"time"

	"explorer/internal/breath"
	"explorer/internal/kernel"
	"explorer/internal/logging"
	"explorer/internal/metrics"
	"explorer/internal/sentinel"
)

const feedBufSize = 16

// Snapshot is the read-only view of one completed cycle. The governor
// builds a fresh copy per publish; observers must never mutate it.
type Snapshot struct {
	CycleID       string           `json:"cycle_id"`
	Cycle         int              `json:"cycle"`
	Phase         string           `json:"phase"`
	KernelVersion int64            `json:"kernel_version"`
	Live          []kernel.Record  `json:"live"`
	Certified     int              `json:"certified"`
	Modules       int              `json:"modules"`
	NewIdentities int              `json:"new_identities"`
	MeanVP        float64          `json:"mean_vp"`
	Ideal         metrics.Ideal    `json:"ideal"`
	Mastery       sentinel.Mastery `json:"mastery"`
	Breath        breath.State     `json:"breath"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Observer consumes snapshots. Observe runs on the observer's own
// goroutine and may take its time; the feed buffer absorbs bursts.
type Observer interface {
	Name() string
	Observe(snap Snapshot)
}

type feed struct {
	observer Observer
	ch       chan Snapshot
	done     chan struct{}
}

// Hall fans snapshots out to observers. Publish never blocks: when an
// observer's feed is full the snapshot is dropped for that observer
// with a warning, so reflection can lag but the governor cannot.
type Hall struct {
	mu      sync.Mutex
	feeds   []*feed
	dropped map[string]int64
	running bool
}

// NewHall creates an empty hall. Attach observers, then Start.
func NewHall() *Hall {
	return &Hall{dropped: make(map[string]int64)}
}

// Attach registers an observer. No-op after Start.
func (h *Hall) Attach(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		logging.Mirror("Attach after Start ignored for observer %s", o.Name())
		return
	}
	h.feeds = append(h.feeds, &feed{
		observer: o,
		ch:       make(chan Snapshot, feedBufSize),
		done:     make(chan struct{}),
	})
}

// Start spawns one worker goroutine per attached observer.
func (h *Hall) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	for _, f := range h.feeds {
		go func(f *feed) {
			defer close(f.done)
			for snap := range f.ch {
				f.observer.Observe(snap)
			}
		}(f)
	}
	logging.Mirror("Hall started with %d observers", len(h.feeds))
}

// Publish offers snap to every feed without blocking.
func (h *Hall) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	for _, f := range h.feeds {
		select {
		case f.ch <- snap:
		default:
			h.dropped[f.observer.Name()]++
			logging.Mirror("Observer %s feed full, snapshot for cycle %s dropped",
				f.observer.Name(), snap.CycleID)
		}
	}
}

// Stop closes every feed and waits for the workers to drain.
func (h *Hall) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	feeds := h.feeds
	h.mu.Unlock()

	for _, f := range feeds {
		close(f.ch)
	}
	for _, f := range feeds {
		<-f.done
	}
	logging.Mirror("Hall stopped")
}

// Observers returns the attached observer names in attach order.
func (h *Hall) Observers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.feeds))
	for i, f := range h.feeds {
		names[i] = f.observer.Name()
	}
	return names
}

// Dropped reports per-observer dropped snapshot counts.
func (h *Hall) Dropped() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.dropped))
	for name, n := range h.dropped {
		out[name] = n
	}
	return out
}

// stabilityScore is the coarse health measure the advisory observers
// share. Breath that has settled in, a non-empty ledger, and a
// recognized phase each contribute a share.
func stabilityScore(snap Snapshot) float64 {
	score := 0.0
	if snap.Breath.Cycle > 5 {
		score += 0.4
	}
	if snap.Certified > 0 {
		score += 0.3
	}
	if snap.Phase == "genesis" || snap.Phase == "sovereign" {
		score += 0.3
	}
	return score
}

// stabilityLevel buckets a stability score the way status surfaces
// report it.
func stabilityLevel(score float64) string {
	switch {
	case score > 0.7:
		return "stable"
	case score > 0.3:
		return "forming"
	default:
		return "unstable"
	}
}
