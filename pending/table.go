// Package pending correlates outbound requests with their eventual responses.
//
// Every request is an entry keyed by its correlation id holding a buffered
// result channel and a deadline timer. An entry is completed exactly once:
// by Resolve, Reject, Cancel or its deadline, whichever removes it from the
// table first. Completion always stops the timer.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/design-bridge/protocol"
	"github.com/cockroachdb/errors"
)

var (
	// ErrDuplicateID is returned by Add when the id is already pending
	ErrDuplicateID = errors.New("correlation id already pending")
	// ErrCancelled is delivered to an entry removed by Cancel
	ErrCancelled = errors.New("request cancelled by caller")
)

// Result is the outcome delivered to the waiting caller
type Result struct {
	Response *protocol.Response
	Err      error
}

type entry struct {
	id      string
	label   string
	created time.Time
	timer   *time.Timer
	done    chan Result
}

// Table is the set of in-flight requests. It is safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	entries  map[string]*entry
	closed   bool
	closeErr error
}

// New returns an empty table
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Add registers a pending request. When timeout elapses before a response is
// matched the entry is removed and the caller receives timeoutErr. label is
// used for diagnostics only (typically the command action).
func (t *Table) Add(id string, label string, timeout time.Duration, timeoutErr error) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.closeErr
	}
	if _, exists := t.entries[id]; exists {
		return nil, errors.Wrapf(ErrDuplicateID, "id %s", id)
	}
	e := &entry{
		id:      id,
		label:   label,
		created: time.Now(),
		done:    make(chan Result, 1),
	}
	e.timer = time.AfterFunc(timeout, func() {
		t.complete(id, e, Result{Err: timeoutErr})
	})
	t.entries[id] = e
	return e.done, nil
}

// complete removes the entry and delivers the result. The identity check
// ensures a stale timer never completes a later entry reusing the id.
func (t *Table) complete(id string, want *entry, result Result) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || (want != nil && e != want) {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, id)
	t.mu.Unlock()
	e.timer.Stop()
	e.done <- result
	return true
}

// Resolve completes the entry with a response. It returns false when no entry
// with that id is pending (late arrival after timeout, or unsolicited).
func (t *Table) Resolve(id string, resp *protocol.Response) bool {
	return t.complete(id, nil, Result{Response: resp})
}

// Reject completes the entry with an error
func (t *Table) Reject(id string, err error) bool {
	return t.complete(id, nil, Result{Err: err})
}

// Cancel removes the entry on behalf of the caller, delivering ErrCancelled
func (t *Table) Cancel(id string) bool {
	return t.Reject(id, ErrCancelled)
}

// RejectAll completes every pending entry with err and returns how many were rejected
func (t *Table) RejectAll(err error) int {
	t.mu.Lock()
	victims := make([]*entry, 0, len(t.entries))
	for id, e := range t.entries {
		victims = append(victims, e)
		delete(t.entries, id)
	}
	t.mu.Unlock()
	for _, e := range victims {
		e.timer.Stop()
		e.done <- Result{Err: err}
	}
	return len(victims)
}

// Close rejects everything pending with err and refuses further Adds
func (t *Table) Close(err error) int {
	t.mu.Lock()
	t.closed = true
	t.closeErr = err
	t.mu.Unlock()
	return t.RejectAll(err)
}

// Has reports whether id is still pending
func (t *Table) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Len is the number of pending entries
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Age returns how long the entry has been pending
func (t *Table) Age(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return 0, false
	}
	return time.Since(e.created), true
}

// Wait blocks until the entry completes or ctx is done. On ctx cancellation
// the entry is cancelled so its timer and table slot are released at once.
func (t *Table) Wait(ctx context.Context, id string, ch <-chan Result) Result {
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		// if a response won the race its result is already buffered
		t.Reject(id, ctx.Err())
		return <-ch
	}
}
