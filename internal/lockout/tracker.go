// ABOUTME: Thread-safe TTL failure counter used to lock out repeated bad logins
// ABOUTME: Bounded by max entries with O(1) oldest-first eviction and periodic cleanup

package lockout

import (
	"container/list"
	"sync"
	"time"
)

// entry tracks failures for one key inside the current window.
type entry struct {
	failures  int
	firstSeen time.Time
	element   *list.Element
}

// Tracker counts failed attempts per key. A key is locked once it reaches the
// threshold inside the window; the window starts at the first failure.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	order     *list.List // keys by first failure, oldest at front
	window    time.Duration
	threshold int
	maxSize   int
	now       func() time.Time
	done      chan struct{}
	closed    bool
}

// New creates a tracker and starts its background cleanup.
// threshold <= 0 disables locking; Fail still counts.
func New(window time.Duration, threshold, maxSize int) *Tracker {
	t := &Tracker{
		entries:   make(map[string]*entry),
		order:     list.New(),
		window:    window,
		threshold: threshold,
		maxSize:   maxSize,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Fail records one failure for key and returns the count inside the window.
func (t *Tracker) Fail(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if e, ok := t.entries[key]; ok {
		if now.Sub(e.firstSeen) < t.window {
			e.failures++
			return e.failures
		}
		t.removeLocked(key, e)
	}

	if t.maxSize > 0 && len(t.entries) >= t.maxSize {
		t.evictOldest()
	}

	e := &entry{failures: 1, firstSeen: now}
	e.element = t.order.PushBack(key)
	t.entries[key] = e
	return 1
}

// Locked reports whether key has reached the threshold inside the window.
func (t *Tracker) Locked(key string) bool {
	if t.threshold <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	if t.now().Sub(e.firstSeen) >= t.window {
		t.removeLocked(key, e)
		return false
	}
	return e.failures >= t.threshold
}

// Failures returns the current failure count for key.
func (t *Tracker) Failures(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || t.now().Sub(e.firstSeen) >= t.window {
		return 0
	}
	return e.failures
}

// Reset clears the failures for key, typically after a successful login.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		t.removeLocked(key, e)
	}
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// removeLocked must be called with mu held.
func (t *Tracker) removeLocked(key string, e *entry) {
	t.order.Remove(e.element)
	delete(t.entries, key)
}

// evictOldest must be called with mu held.
func (t *Tracker) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	t.order.Remove(front)
	delete(t.entries, key)
}

func (t *Tracker) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.runCleanup()
		case <-t.done:
			return
		}
	}
}

// runCleanup drops expired windows. Entries are ordered by first failure so
// the scan stops at the first live one.
func (t *Tracker) runCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for front := t.order.Front(); front != nil; front = t.order.Front() {
		key, _ := front.Value.(string)
		e := t.entries[key]
		if e == nil || now.Sub(e.firstSeen) < t.window {
			return
		}
		t.removeLocked(key, e)
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
