package store

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Observer receives best-effort notifications of table activity, used to
// feed the metrics registry without internal/store depending on it.
type Observer interface {
	TableSize(n int)
	ReaperWake()
	ReaperPass(removed int)
}

type noopObserver struct{}

func (noopObserver) TableSize(int)    {}
func (noopObserver) ReaperWake()      {}
func (noopObserver) ReaperPass(int)   {}

// Table is a concurrent string-keyed map of Values with per-entry absolute
// expiration and a background reaper that sleeps exactly until the next
// expiry, woken early when a sooner one is inserted.
//
// One Table instance serves both the string and JSON stores spec.md
// describes — the data variant already lives inside Value.Data.
type Table struct {
	mu   sync.RWMutex
	data map[string]Value

	wake     chan struct{}
	observer Observer
	logger   *zap.Logger
	stop     chan struct{}
}

// NewTable constructs a Table and starts its reaper goroutine. observer may
// be nil. capacityHint, if positive, pre-sizes the backing map's bucket
// array to avoid grow-and-rehash churn for deployments that know their
// steady-state key count; it is not a cap, the table still grows past it.
func NewTable(logger *zap.Logger, observer Observer, capacityHint int) *Table {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var data map[string]Value
	if capacityHint > 0 {
		data = make(map[string]Value, capacityHint)
	} else {
		data = make(map[string]Value)
	}
	t := &Table{
		data:     data,
		wake:     make(chan struct{}, 1),
		observer: observer,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go t.reap()
	return t
}

// Get returns the current value for key if present and not expired.
func (t *Table) Get(key string) (Value, bool) {
	t.mu.RLock()
	v, ok := t.data[key]
	t.mu.RUnlock()
	if !ok {
		return Value{}, false
	}
	if v.Expired(time.Now().UTC()) {
		return Value{}, false
	}
	return v, true
}

// Set inserts or replaces key's value, waking the reaper if the new value's
// expiry would become the soonest tracked expiry.
func (t *Table) Set(key string, value Value) {
	shouldNotify := t.wouldBeSoonest(value.Expiry)

	t.mu.Lock()
	t.data[key] = value
	size := len(t.data)
	t.mu.Unlock()

	t.observer.TableSize(size)

	if shouldNotify {
		t.notify()
	}
}

// Delete removes key if present.
func (t *Table) Delete(key string) {
	t.mu.Lock()
	delete(t.data, key)
	size := len(t.data)
	t.mu.Unlock()
	t.observer.TableSize(size)
}

// Len reports the current entry count, including not-yet-reaped expired
// entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Close stops the reaper goroutine. Not required for correctness during
// normal operation — provided for clean shutdown in tests.
func (t *Table) Close() {
	close(t.stop)
}

// wouldBeSoonest reports whether newExpiry is sooner than every currently
// tracked expiry, under the existing-table-is-empty-of-expiries rule from
// spec.md §4.1: a Set notifies the reaper iff no expiry was tracked yet, or
// the new one precedes the current soonest.
func (t *Table) wouldBeSoonest(newExpiry *time.Time) bool {
	if newExpiry == nil {
		return false
	}
	current, hasCurrent := t.nextExpiration()
	if !hasCurrent {
		return true
	}
	return newExpiry.Before(current)
}

func (t *Table) nextExpiration() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var next time.Time
	found := false
	for _, v := range t.data {
		if v.Expiry == nil {
			continue
		}
		if !found || v.Expiry.Before(next) {
			next = *v.Expiry
			found = true
		}
	}
	return next, found
}

// notify posts to the single-slot wake channel; a pending, unconsumed wake
// already covers this notification, so a full channel is not an error.
func (t *Table) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// reap implements the spec.md §4.1 reaper algorithm: compute the next
// expiration, remove everything whose expiry is before now, and sleep exactly until
// the next expiration or an early wake, whichever comes first.
func (t *Table) reap() {
	for {
		next, removed := t.removeExpired()
		if removed > 0 {
			t.logger.Debug("reaper pass", zap.Int("removed", removed))
			t.observer.ReaperPass(removed)
		}

		if next == nil {
			select {
			case <-t.wake:
				t.observer.ReaperWake()
			case <-t.stop:
				return
			}
			continue
		}

		d := time.Until(*next)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-t.wake:
			t.observer.ReaperWake()
			timer.Stop()
		case <-t.stop:
			timer.Stop()
			return
		}
	}
}

// removeExpired deletes every entry whose expiry has passed and returns the
// next soonest expiry among what remains (nil if nothing has one).
func (t *Table) removeExpired() (*time.Time, int) {
	now := time.Now().UTC()

	t.mu.Lock()
	removed := 0
	for k, v := range t.data {
		if v.Expiry != nil && now.After(*v.Expiry) {
			delete(t.data, k)
			removed++
		}
	}
	size := len(t.data)

	var next *time.Time
	for _, v := range t.data {
		if v.Expiry == nil {
			continue
		}
		if next == nil || v.Expiry.Before(*next) {
			e := *v.Expiry
			next = &e
		}
	}
	t.mu.Unlock()

	t.observer.TableSize(size)
	return next, removed
}
