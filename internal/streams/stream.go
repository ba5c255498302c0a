// Package streams provides a minimal pull-based iterator used to carry raw
// upstream SSE events into the dispatcher without buffering a whole
// response in memory. Grounded on the
// reference gateway's llm/streams package (see its append_test.go): a
// Stream[T] is Next/Current/Err/Close, nothing more.
package streams

// Stream is a single-consumer, forward-only iterator.
//
// Usage:
//
//	for stream.Next() {
//	    item := stream.Current()
//	}
//	if err := stream.Err(); err != nil { ... }
type Stream[T any] interface {
	// Next advances to the next item, returning false at end-of-stream or
	// on error. Callers must check Err after Next returns false.
	Next() bool
	// Current returns the item most recently made available by Next.
	// Only valid after Next returned true.
	Current() T
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases any underlying resource (e.g. an HTTP body).
	Close() error
}
