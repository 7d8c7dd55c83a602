// Package preview paces live page updates so viewers see coherent
// snapshots while generation streams partial HTML.
package preview

import (
	"sync"
	"time"
)

// DefaultInterval is the cadence at which pending updates surface while
// generation is in progress.
const DefaultInterval = 3 * time.Second

// Throttler holds the latest page HTML and decides when it becomes the
// displayed HTML. Updates apply immediately when nothing is displayed
// yet or when generation is idle. While generation runs, updates are
// surfaced at a fixed interval, and the final state flushes as soon as
// generation completes.
type Throttler struct {
	mu           sync.Mutex
	interval     time.Duration
	placeholder  string
	onDisplay    func(html string)
	latest       string
	displayed    string
	hasDisplayed bool
	generating   bool
	ticker       *time.Ticker
	done         chan struct{}
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithInterval overrides the update cadence.
func WithInterval(d time.Duration) Option {
	return func(t *Throttler) { t.interval = d }
}

// WithPlaceholder sets HTML that is ignored when submitted. Generators
// emit their empty-page scaffold before producing real content.
func WithPlaceholder(html string) Option {
	return func(t *Throttler) { t.placeholder = html }
}

// NewThrottler creates a throttler. onDisplay is invoked each time the
// displayed HTML changes; it may be nil.
func NewThrottler(onDisplay func(html string), opts ...Option) *Throttler {
	t := &Throttler{
		interval:  DefaultInterval,
		onDisplay: onDisplay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPage submits new page HTML. Placeholder and empty HTML are ignored.
func (t *Throttler) SetPage(html string) {
	t.mu.Lock()
	if html == "" || html == t.placeholder {
		t.mu.Unlock()
		return
	}

	t.latest = html

	if !t.hasDisplayed || !t.generating {
		t.stopTickerLocked()
		t.displayLocked(html)
		return
	}

	if t.ticker == nil {
		t.startTickerLocked()
	}
	t.mu.Unlock()
}

// SetGenerating marks whether generation is in progress. Turning it off
// flushes any pending HTML immediately.
func (t *Throttler) SetGenerating(generating bool) {
	t.mu.Lock()
	wasGenerating := t.generating
	t.generating = generating

	if wasGenerating && !generating {
		t.stopTickerLocked()
		if t.latest != "" && t.latest != t.displayed {
			t.displayLocked(t.latest)
			return
		}
	}
	t.mu.Unlock()
}

// Displayed returns the currently displayed HTML and whether anything
// has been displayed yet.
func (t *Throttler) Displayed() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.displayed, t.hasDisplayed
}

// Reset clears all state and cancels any pending update.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTickerLocked()
	t.latest = ""
	t.displayed = ""
	t.hasDisplayed = false
	t.generating = false
}

// Close stops the background timer. The throttler must not be used
// after Close.
func (t *Throttler) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTickerLocked()
}

// displayLocked publishes html. It releases the mutex so the callback
// runs without holding the lock.
func (t *Throttler) displayLocked(html string) {
	t.displayed = html
	t.hasDisplayed = true
	cb := t.onDisplay
	t.mu.Unlock()
	if cb != nil {
		cb(html)
	}
}

func (t *Throttler) startTickerLocked() {
	t.ticker = time.NewTicker(t.interval)
	t.done = make(chan struct{})
	go t.run(t.ticker, t.done)
}

func (t *Throttler) stopTickerLocked() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
		t.ticker = nil
		t.done = nil
	}
}

func (t *Throttler) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.ticker != ticker {
				t.mu.Unlock()
				return
			}
			if t.latest != t.displayed {
				t.displayLocked(t.latest)
				continue
			}
			t.mu.Unlock()
		}
	}
}
