// Package correlate tracks in-flight worker requests by identifier.
//
// Every registered entry leaves the table exactly once, through whichever of
// Resolve, Fail, its timeout, or RejectAll gets to it first. The losers of
// that race are no-ops. Handlers are always invoked outside the table lock.
package correlate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/tether/internal/protocol"
)

// Handler receives the single outcome of a request: a response, or an error
// when the request timed out, failed locally, or was rejected on worker exit.
type Handler func(resp *protocol.Response, err error)

// TimeoutError is delivered when no response arrived within the timeout.
type TimeoutError struct {
	ID      string
	Kind    protocol.Kind
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Request timeout for %s", e.Kind)
}

type entry struct {
	kind    protocol.Kind
	handler Handler
	timer   *time.Timer
}

// Table maps request identifiers to pending completions.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register stores a pending entry for id and starts its timeout.
// Registering an id that is already pending is a programmer error and panics.
func (t *Table) Register(id string, kind protocol.Kind, timeout time.Duration, h Handler) {
	if h == nil {
		panic("correlate: nil handler")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		panic(fmt.Sprintf("correlate: duplicate request id %q", id))
	}

	e := &entry{kind: kind, handler: h}
	t.entries[id] = e
	// The timer can fire before Register returns; expire takes the lock, so
	// it observes the fully inserted entry.
	e.timer = time.AfterFunc(timeout, func() { t.expire(id, timeout) })
}

// Resolve delivers resp to the entry for id. Returns false when id is not
// pending (late or duplicate delivery).
func (t *Table) Resolve(id string, resp *protocol.Response) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	e.handler(resp, nil)
	return true
}

// Fail delivers err to the entry for id. Returns false when id is not pending.
func (t *Table) Fail(id string, err error) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	e.handler(nil, err)
	return true
}

// RejectAll drains the table, delivering reason to every pending entry.
// Returns the number of entries rejected.
func (t *Table) RejectAll(reason error) int {
	t.mu.Lock()
	drained := t.entries
	t.entries = make(map[string]*entry)
	for _, e := range drained {
		e.timer.Stop()
	}
	t.mu.Unlock()

	for _, e := range drained {
		e.handler(nil, reason)
	}
	return len(drained)
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Pending returns the pending identifiers, sorted.
func (t *Table) Pending() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (t *Table) expire(id string, timeout time.Duration) {
	e := t.take(id)
	if e == nil {
		return
	}
	e.handler(nil, &TimeoutError{ID: id, Kind: e.kind, Timeout: timeout})
}

// take is the single check-and-remove every resolution path goes through.
func (t *Table) take(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}
