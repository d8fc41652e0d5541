package crawler

import (
	"time"
)

// visitTracker remembers listing URLs walked in this run so a next-page link
// pointing back at an earlier page cannot loop forever.
type visitTracker struct {
	seen map[string]struct{}
}

func newVisitTracker() *visitTracker {
	return &visitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	key, err := NormalizeURL(rawURL)
	if err != nil {
		key = rawURL
	}
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}

// SleepPauser blocks the calling goroutine for the full delay. It is not
// cancellable; a run is stopped by terminating the process.
type SleepPauser struct{}

// Pause implements Pauser.
func (SleepPauser) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
