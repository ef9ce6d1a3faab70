package eventloop

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/lambdajs/internal/core"
)

// FetchResult holds the pre-serialized outcome of an in-flight HTTP fetch.
// The fetch goroutine reads and decodes the response body and serializes
// the headers before sending, so the event loop only passes strings to JS.
type FetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	Body        string
	FinalURL    string
	Err         error
}

// PendingFetch represents an in-flight HTTP request whose result will be
// delivered to JS via the event loop when the response arrives.
type PendingFetch struct {
	ResultCh <-chan FetchResult
	FetchID  string
}

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop manages Go-backed timers for setTimeout/setInterval and
// pending fetch requests that need to be resolved on the JS thread.
// One EventLoop belongs to exactly one sandbox session.
type EventLoop struct {
	mu             sync.Mutex
	timers         map[int]*timerEntry
	nextID         int
	pendingFetches []*PendingFetch
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
	}
}

// RegisterTimer creates a timer entry and returns its ID.
// The actual JS callback is stored in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond // minimum interval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// AddPendingFetch registers a pending fetch whose result will be delivered
// to JS when the HTTP response arrives.
func (el *EventLoop) AddPendingFetch(pf *PendingFetch) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingFetches = append(el.pendingFetches, pf)
}

// DrainPendingFetches does non-blocking reads on all pending fetch channels.
// For each completed fetch, it resolves/rejects via JS globals and removes
// it from the list. Returns true if any fetch was completed.
func (el *EventLoop) DrainPendingFetches(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pendingFetches) == 0 {
		el.mu.Unlock()
		return false
	}
	// Snapshot the current list; it is rebuilt without completed entries.
	pending := el.pendingFetches
	el.pendingFetches = nil
	el.mu.Unlock()

	var remaining []*PendingFetch
	didWork := false
	for _, pf := range pending {
		select {
		case result := <-pf.ResultCh:
			if result.Err != nil {
				_ = rt.Eval(fmt.Sprintf(`globalThis.__fetchReject(%s, %s)`,
					jsString(pf.FetchID), jsString(result.Err.Error())))
			} else {
				_ = rt.Eval(fmt.Sprintf(`globalThis.__fetchResolve(%s, %d, %s, %s, %s, %s)`,
					jsString(pf.FetchID), result.Status, jsString(result.StatusText),
					jsString(result.HeadersJSON), jsString(result.Body),
					jsString(result.FinalURL)))
			}
			// Microtask checkpoint after each fetch resolution.
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, pf)
		}
	}

	el.mu.Lock()
	// Callbacks may have added new pending fetches during resolution,
	// so keep those after the ones still in flight.
	el.pendingFetches = append(remaining, el.pendingFetches...)
	el.mu.Unlock()
	return didWork
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = rt.Eval(js)
}

// expired reports whether a non-zero deadline has passed. A zero deadline
// never expires: the platform enforces the wall clock, not the loop.
func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// Drain fires all pending timers and resolves pending fetches until none
// remain or the deadline is reached. A zero deadline means no deadline.
// Must be called on the runtime's goroutine (JS engines are single-threaded).
func (el *EventLoop) Drain(rt core.JSRuntime, deadline time.Time) {
	el.DrainUntil(rt, deadline, nil)
}

// DrainUntil is Drain that also returns as soon as done is closed, even
// while it is waiting for the next timer. A nil done never closes.
func (el *EventLoop) DrainUntil(rt core.JSRuntime, deadline time.Time, done <-chan struct{}) {
	for {
		if closed(done) {
			return
		}
		// Always try to drain pending fetches first.
		if el.DrainPendingFetches(rt) {
			continue
		}

		el.mu.Lock()
		hasFetches := len(el.pendingFetches) > 0
		var next *timerEntry
		for _, t := range el.timers {
			if t.cleared {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		el.mu.Unlock()

		if next == nil && !hasFetches {
			return
		}

		if next == nil {
			// No timers, but fetches are pending: poll with a short sleep.
			if expired(deadline) || !sleep(time.Millisecond, done) {
				return
			}
			continue
		}

		now := time.Now()
		if next.deadline.After(now) {
			if !deadline.IsZero() && next.deadline.After(deadline) {
				for hasFetches && time.Now().Before(deadline) {
					if el.DrainPendingFetches(rt) {
						break
					}
					if !sleep(time.Millisecond, done) {
						return
					}
				}
				return
			}
			if hasFetches {
				for time.Now().Before(next.deadline) {
					el.DrainPendingFetches(rt)
					remaining := time.Until(next.deadline)
					if remaining <= 0 {
						break
					}
					if !sleep(min(remaining, time.Millisecond), done) {
						return
					}
				}
			} else if !sleep(next.deadline.Sub(now), done) {
				return
			}
		}

		if expired(deadline) {
			return
		}

		el.mu.Lock()
		if next.cleared {
			el.mu.Unlock()
			continue
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = time.Now().Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(rt, timerID)
		rt.RunMicrotasks()
	}
}

// sleep waits for d and reports false if done closed first.
func sleep(d time.Duration, done <-chan struct{}) bool {
	if d <= 0 {
		return !closed(done)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}

func closed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// HasPending returns true if there are any active timers or pending fetches.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pendingFetches) > 0
}

// Reset clears all timers and pending fetches. Called when a session is
// torn down so that nothing scheduled by one invocation outlives it.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
	el.pendingFetches = nil
}

// jsString renders s as a JS string literal. JSON string syntax is a subset
// of JS string syntax once U+2028/U+2029 are escaped, which encoding/json does.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
