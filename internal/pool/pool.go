// Package pool implements the thread-safe token pool of spec.md §4.1: a
// round-robin selector over bearer tokens with per-token failure
// accounting and atomic bulk replacement. Grounded on the reference
// gateway's llm/auth.APIKeyProvider shape (Get(ctx) string) generalized to
// expose failure accounting and atomic replace, which a single static/
// random key provider does not need.
package pool

import (
	"sync"

	"github.com/openrelay/k2think-proxy/internal/apperr"
	"github.com/openrelay/k2think-proxy/internal/tokenstore"
)

// Entry is one upstream credential together with its failure accounting.
// Entries are immutable value snapshots returned by Select/Stats; mutation
// happens only inside the Pool under its lock, per spec.md §4.1.
type Entry struct {
	Value        string
	FailureCount int
	Disabled     bool
}

// Stats is a point-in-time snapshot of pool health (spec.md §4.1 "stats").
type Stats struct {
	Total    int
	Active   int
	Disabled int
	Entries  []Entry
}

// Pool is the round-robin token selector described in spec.md §4.1.
// The zero value is not usable; construct with New or Load.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	cursor      int
	maxFailures int
}

type entry struct {
	value        string
	failureCount int
	disabled     bool
}

func (e *entry) snapshot() Entry {
	return Entry{Value: e.value, FailureCount: e.failureCount, Disabled: e.disabled}
}

// New constructs an empty pool bound to maxFailures.
func New(maxFailures int) *Pool {
	return &Pool{maxFailures: maxFailures}
}

// Load builds a Pool from the token file at path (spec.md §4.1 "load").
func Load(path string, maxFailures int) (*Pool, error) {
	tokens, err := tokenstore.Load(path)
	if err != nil {
		return nil, err
	}

	p := New(maxFailures)
	p.replaceLocked(tokens)

	return p, nil
}

func newEntries(tokens []string) []*entry {
	entries := make([]*entry, len(tokens))
	for i, t := range tokens {
		entries[i] = &entry{value: t}
	}

	return entries
}

func (p *Pool) replaceLocked(tokens []string) {
	p.entries = newEntries(tokens)
	p.cursor = 0
}

// Replace atomically swaps the pool's entries and resets the cursor to 0
// (spec.md §4.1 "replace"). Built off-lock, swapped under lock, so the
// lock is held only for the assignment itself.
func (p *Pool) Replace(tokens []string) {
	entries := newEntries(tokens)

	p.mu.Lock()
	p.entries = entries
	p.cursor = 0
	p.mu.Unlock()
}

// ErrPoolEmpty signals no selectable (non-disabled) entry exists.
var ErrPoolEmpty = apperr.PoolEmpty()

// Select advances the round-robin cursor and returns the next non-disabled
// entry. If a full pass over all entries finds none selectable, it returns
// ErrPoolEmpty (spec.md §4.1 "select").
func (p *Pool) Select() (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	if n == 0 {
		return Entry{}, ErrPoolEmpty
	}

	for i := 0; i < n; i++ {
		idx := p.cursor % n
		p.cursor++

		e := p.entries[idx]
		if !e.disabled {
			return e.snapshot(), nil
		}
	}

	return Entry{}, ErrPoolEmpty
}

// Size returns the number of entries currently loaded, used by the
// dispatcher to bound retries and decide whether an auto-refresh trigger
// applies (spec.md §4.2 "pool size before the event was > 2").
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

func (p *Pool) find(value string) *entry {
	for _, e := range p.entries {
		if e.value == value {
			return e
		}
	}

	return nil
}

// RecordSuccess resets the entry's failure count and clears disabled
// (spec.md §4.1 "record_success"). Matching by value: entries are looked up
// by their opaque token, not by index, so a concurrent Replace never leaves
// a stale index pointing at the wrong entry.
func (p *Pool) RecordSuccess(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.find(value); e != nil {
		e.failureCount = 0
		e.disabled = false
	}
}

// RecordFailure increments the entry's failure count, disabling it once the
// count reaches maxFailures, and returns the resulting state (spec.md §4.1
// "record_failure"). The second return reports whether this call is the one
// that newly disabled the entry, used by the dispatcher to count "two
// distinct tokens disabled in this request" for the auto-refresh trigger.
func (p *Pool) RecordFailure(value string) (newCount int, disabledNow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(value)
	if e == nil {
		return 0, false
	}

	e.failureCount++

	wasDisabled := e.disabled
	if e.failureCount >= p.maxFailures {
		e.disabled = true
	}

	return e.failureCount, e.disabled && !wasDisabled
}

// Reset clears failure accounting for the entry at index (spec.md §4.1
// "reset"). Index refers to position in the pool's current declared order,
// as returned by Stats.
func (p *Pool) Reset(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.entries) {
		return apperr.BadRequest("token index %d out of range [0,%d)", index, len(p.entries))
	}

	p.entries[index].failureCount = 0
	p.entries[index].disabled = false

	return nil
}

// ResetAll clears failure accounting for every entry (spec.md §4.1
// "reset_all").
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		e.failureCount = 0
		e.disabled = false
	}
}

// Stats returns a snapshot of pool health (spec.md §4.1 "stats").
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:   len(p.entries),
		Entries: make([]Entry, len(p.entries)),
	}

	for i, e := range p.entries {
		s.Entries[i] = e.snapshot()
		if e.disabled {
			s.Disabled++
		} else {
			s.Active++
		}
	}

	return s
}
