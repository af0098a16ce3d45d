// Package ratebudget enforces the local per-resource request budgets:
// fixed-window counters capped at a per-minute ceiling and zeroed on a
// wall-clock tick. The budget is advisory; upstream 429s remain possible
// and are handled as retryable fetch errors.
package ratebudget

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nobiflow/internal/model"
	"nobiflow/logger"
)

// Usage describes one resource's consumption inside the current window.
type Usage struct {
	Used    int `json:"used"`
	Ceiling int `json:"ceiling"`
}

// Tracker holds one counter per resource type. TryConsume and Reset are
// safe for concurrent use from job goroutines.
type Tracker struct {
	mu       sync.Mutex
	ceilings map[model.Resource]int
	counts   map[model.Resource]int
	denied   map[model.Resource]int64
	cron     *cron.Cron
	log      *logger.Log
}

// NewTracker builds a tracker from per-resource ceilings. Resources
// without a configured ceiling are never budget-limited.
func NewTracker(ceilings map[model.Resource]int) *Tracker {
	t := &Tracker{
		ceilings: make(map[model.Resource]int, len(ceilings)),
		counts:   make(map[model.Resource]int, len(ceilings)),
		denied:   make(map[model.Resource]int64, len(ceilings)),
		log:      logger.GetLogger(),
	}
	for r, c := range ceilings {
		t.ceilings[r] = c
	}
	return t
}

// Start schedules the wall-clock window reset. The reset cadence is
// fixed at one minute, independent of any job interval.
func (t *Tracker) Start() error {
	if t.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", t.Reset); err != nil {
		return err
	}
	c.Start()
	t.cron = c
	t.log.WithComponent("ratebudget").Info("budget window reset scheduled")
	return nil
}

// Stop halts the reset schedule and waits for a running reset to finish.
func (t *Tracker) Stop() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
	t.cron = nil
}

// TryConsume reports whether the resource still has budget in the
// current window, incrementing its counter when it does. A denied call
// does not increment anything.
func (t *Tracker) TryConsume(resource model.Resource) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ceiling, limited := t.ceilings[resource]
	if !limited {
		return true
	}
	if t.counts[resource] >= ceiling {
		t.denied[resource]++
		return false
	}
	t.counts[resource]++
	return true
}

// Reset zeroes every counter. Runs on the minute tick; also used
// directly by tests.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for r, c := range t.counts {
		if c > 0 {
			t.log.WithComponent("ratebudget").WithFields(logger.Fields{
				"resource": r.String(),
				"used":     c,
				"denied":   t.denied[r],
			}).Debug("budget window closed")
		}
		t.counts[r] = 0
		t.denied[r] = 0
	}
}

// Snapshot returns the current window's usage per resource, for the
// ops endpoint and the report logger.
func (t *Tracker) Snapshot() map[string]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Usage, len(t.ceilings))
	for r, ceiling := range t.ceilings {
		out[r.String()] = Usage{Used: t.counts[r], Ceiling: ceiling}
	}
	return out
}

// WindowDuration is the fixed budget window length.
const WindowDuration = time.Minute
