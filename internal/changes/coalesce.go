package changes

import "sync"

// Coalescer folds a burst of mutations into a single flush. The first
// Trigger in a batch schedules one deferred flush; further Triggers before
// the flush runs are absorbed by the pending flag. Mutations arriving while
// the flush itself runs schedule a fresh one.
type Coalescer struct {
	mu       sync.Mutex
	pending  bool
	schedule func(func())
	flush    func()
}

// NewCoalescer builds a coalescer around flush. schedule defers execution of
// the flush task; nil selects goroutine scheduling. Tests inject a manual
// scheduler to make batching deterministic.
func NewCoalescer(flush func(), schedule func(func())) *Coalescer {
	if schedule == nil {
		schedule = func(fn func()) { go fn() }
	}
	return &Coalescer{schedule: schedule, flush: flush}
}

// Trigger records a mutation. Schedules the single-shot flush unless one is
// already pending.
func (c *Coalescer) Trigger() {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()
	c.schedule(c.run)
}

func (c *Coalescer) run() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
	c.flush()
}
