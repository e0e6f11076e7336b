// Package sink defines the core-side capability boundary toward a
// durable bar-storage destination (spec.md §4.4 "Sink ordering", §6.2).
package sink

import (
	"context"
	"time"

	"barsync/internal/manifest"
	"barsync/internal/provider"
)

// SliceRange is the half-open range a single write_slice call covers.
type SliceRange struct {
	Start time.Time
	End   time.Time
}

// Sink is the capability the core consumes to durably persist a
// fetched slice. Implementations must be idempotent on
// (stream_id, slice_range, bar-open-set): the Runtime may call
// WriteSlice more than once for the same slice on a retried commit
// (spec.md §4.4, §6.2).
type Sink interface {
	WriteSlice(ctx context.Context, key manifest.StreamKey, r SliceRange, bars []provider.Bar) error
}

// Class is the sink error taxonomy (spec.md §7).
type Class int

const (
	// ClassTransient: temporary I/O failure, retry with backoff.
	ClassTransient Class = iota
	// ClassPermanent: permission error or similar, surface and cool down.
	ClassPermanent
)

// Error wraps a sink failure with its taxonomy class.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string { return "sink: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the Runtime should retry this error with
// backoff rather than marking the gap failed immediately.
func (e *Error) Transient() bool { return e.Class == ClassTransient }

func NewTransient(op string, err error) *Error { return &Error{Class: ClassTransient, Op: op, Err: err} }
func NewPermanent(op string, err error) *Error { return &Error{Class: ClassPermanent, Op: op, Err: err} }
