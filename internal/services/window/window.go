// Package window keeps per-symbol, age- and count-bounded sample buffers.
package window

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
)

// ErrOutOfOrder is returned by Guard.Admit for a sample older than the last admitted one.
var ErrOutOfOrder = errors.New("out-of-order sample")

// Guard tracks the newest admitted timestamp per key. It is not safe for concurrent use.
type Guard[K comparable] struct {
	last map[K]time.Time
}

func NewGuard[K comparable]() *Guard[K] {
	return &Guard[K]{last: make(map[K]time.Time)}
}

// Admit records ts for key. Equal timestamps are admitted.
func (g *Guard[K]) Admit(key K, ts time.Time) error {
	if last, ok := g.last[key]; ok && ts.Before(last) {
		return fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
			ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	g.last[key] = ts
	return nil
}

// Sliding is an append-only buffer of samples ordered by timestamp.
// Every insert prunes samples older than the newest timestamp minus the span
// and trims the buffer to the configured capacity.
type Sliding[T models.Timestamped] struct {
	span  time.Duration
	limit int
	items []T
}

// NewSliding creates a buffer bounded by span and limit. A limit <= 0 means unbounded by count.
func NewSliding[T models.Timestamped](span time.Duration, limit int) *Sliding[T] {
	return &Sliding[T]{span: span, limit: limit}
}

// Add appends a sample and prunes.
func (w *Sliding[T]) Add(s T) {
	w.items = append(w.items, s)
	w.prune(s.At())
}

// Snapshot returns a copy of the samples with timestamp >= now - span.
func (w *Sliding[T]) Snapshot(now time.Time) []T {
	cutoff := now.Add(-w.span)
	i := sort.Search(len(w.items), func(i int) bool { return !w.items[i].At().Before(cutoff) })
	out := make([]T, len(w.items)-i)
	copy(out, w.items[i:])
	return out
}

// Last returns the newest sample.
func (w *Sliding[T]) Last() (T, bool) {
	var zero T
	if len(w.items) == 0 {
		return zero, false
	}
	return w.items[len(w.items)-1], true
}

func (w *Sliding[T]) Len() int { return len(w.items) }

func (w *Sliding[T]) Span() time.Duration { return w.span }

func (w *Sliding[T]) Clear() { w.items = w.items[:0] }

func (w *Sliding[T]) prune(newest time.Time) {
	cutoff := newest.Add(-w.span)
	drop := 0
	for drop < len(w.items) && w.items[drop].At().Before(cutoff) {
		drop++
	}
	if w.limit > 0 && len(w.items)-drop > w.limit {
		drop = len(w.items) - w.limit
	}
	if drop > 0 {
		n := copy(w.items, w.items[drop:])
		var zero T
		for i := n; i < len(w.items); i++ {
			w.items[i] = zero
		}
		w.items = w.items[:n]
	}
}

// Store is a symbol-keyed set of sliding windows. Unknown symbols get an empty window.
// Each window has its own lock; the store lock only guards the symbol map.
type Store[T models.Timestamped] struct {
	mu      sync.RWMutex
	span    time.Duration
	limit   int
	windows map[string]*entry[T]
}

type entry[T models.Timestamped] struct {
	mu sync.Mutex
	w  *Sliding[T]
}

// NewStore creates a store whose windows share span and limit.
func NewStore[T models.Timestamped](span time.Duration, limit int) *Store[T] {
	return &Store[T]{span: span, limit: limit, windows: make(map[string]*entry[T])}
}

// Add appends a sample to the symbol's window.
func (s *Store[T]) Add(symbol string, sample T) {
	e := s.open(symbol)
	e.mu.Lock()
	e.w.Add(sample)
	e.mu.Unlock()
}

// Snapshot returns the symbol's samples within the span ending at now.
func (s *Store[T]) Snapshot(symbol string, now time.Time) []T {
	e := s.lookup(symbol)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Snapshot(now)
}

// Last returns the newest sample stored for the symbol.
func (s *Store[T]) Last(symbol string) (T, bool) {
	e := s.lookup(symbol)
	if e == nil {
		var zero T
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Last()
}

// Len returns the number of buffered samples for the symbol.
func (s *Store[T]) Len(symbol string) int {
	e := s.lookup(symbol)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Len()
}

// Symbols lists symbols with a window.
func (s *Store[T]) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.windows))
	for sym := range s.windows {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Clear drops one symbol's window, or every window when symbol is empty.
func (s *Store[T]) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == "" {
		s.windows = make(map[string]*entry[T])
		return
	}
	delete(s.windows, symbol)
}

// SetSpan changes the span used for windows created after the call and for existing ones.
func (s *Store[T]) SetSpan(span time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span = span
	for _, e := range s.windows {
		e.mu.Lock()
		e.w.span = span
		e.mu.Unlock()
	}
}

func (s *Store[T]) lookup(symbol string) *entry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows[symbol]
}

func (s *Store[T]) open(symbol string) *entry[T] {
	if e := s.lookup(symbol); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.windows[symbol]
	if !ok {
		e = &entry[T]{w: NewSliding[T](s.span, s.limit)}
		s.windows[symbol] = e
	}
	return e
}
