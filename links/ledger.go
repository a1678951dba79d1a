package links

import (
	"sync"
	"time"
)

// Ledger tracks which campaign links have already been submitted for scraping
// since the last local-midnight reset. A link present in the ledger is not
// re-submitted until the ledger resets.
//
// The ledger is safe for concurrent use; both platform watchers may discover
// the same link in the same instant and only one submission wins.
type Ledger struct {
	mu       sync.Mutex
	loc      *time.Location
	boundary time.Time // next local midnight; crossing it clears the set
	seen     map[string]struct{}
}

// NewLedger creates a ledger whose daily reset boundary is midnight in loc.
func NewLedger(loc *time.Location, now time.Time) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		loc:      loc,
		boundary: nextMidnight(now, loc),
		seen:     make(map[string]struct{}),
	}
}

// nextMidnight returns the first midnight in loc strictly after now.
func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}

// Seen reports whether link was recorded since the last reset.
func (l *Ledger) Seen(link string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[link]
	return ok
}

// Record inserts link into the ledger. Idempotent.
func (l *Ledger) Record(link string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[link] = struct{}{}
}

// RecordIfNew atomically tests and inserts link, returning true when the link
// was not yet present. Concurrent callers submitting the same link observe
// exactly one true result.
func (l *Ledger) RecordIfNew(link string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[link]; ok {
		return false
	}
	l.seen[link] = struct{}{}
	return true
}

// ResetIfNewDay clears the ledger when now has crossed the midnight boundary
// and advances the boundary to the following midnight. Returns true when a
// reset happened. Calling it repeatedly within the same day is a cheap no-op.
func (l *Ledger) ResetIfNewDay(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Before(l.boundary) {
		return false
	}
	l.seen = make(map[string]struct{})
	l.boundary = nextMidnight(now, l.loc)
	return true
}

// Len returns the number of links recorded since the last reset.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Boundary returns the next reset instant.
func (l *Ledger) Boundary() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.boundary
}
