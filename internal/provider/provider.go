// Package provider defines the core-side capability boundary toward an
// external bar vendor (spec.md §4.5, §6.1). The core never branches on
// provider code internally — it holds a BarProvider value obtained at
// startup and calls it polymorphically, mirroring the teacher's
// capability-interface style for swappable external collaborators
// (internal/flow.Client and internal/market's price clients were each
// a single concrete type behind a narrow interface).
package provider

import (
	"context"
	"fmt"
	"time"

	"barsync/internal/manifest"
	"barsync/internal/timeframe"
)

// Bar is one OHLCV record.
type Bar struct {
	OpenUTC    time.Time
	CloseUTC   time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount *int64
	VWAP       *float64
}

// FetchPage is the result of one fetch_bars call. NextCursor is nil
// once the caller has paged through every bar in the requested range.
type FetchPage struct {
	Bars       []Bar
	NextCursor []byte
}

// Capabilities describes a provider's declared operating parameters
// (spec.md §6.1), used by the Planner for slicing and lag enforcement
// and by the Runtime for rate limiting.
type Capabilities struct {
	MaxBarsPerRequest int
	RequestsPerMinute int
	SubscriptionPlan  string
	// MinLag is the minimum allowed distance from now() this plan may
	// request data for; the Planner subtracts this from effective_end.
	MinLag time.Duration
}

// BarProvider is the capability the core consumes to fetch bars for a
// stream. Implementations must return bars sorted ascending on
// OpenUTC, unique, strictly within range, and grid-aligned — the core
// validates these invariants and rejects violators without committing
// (spec.md §4.5).
type BarProvider interface {
	Capabilities(key manifest.StreamKey) (Capabilities, error)
	FetchBars(ctx context.Context, key manifest.StreamKey, tf timeframe.Timeframe, start, end time.Time, maxBars int, cursor []byte) (FetchPage, error)
}

// ValidatePage enforces the invariants spec.md §4.5 requires of every
// returned page before the Runtime may commit it: bars sorted
// ascending on OpenUTC, unique, strictly within [start, end), and
// grid-aligned to tf relative to base.
func ValidatePage(page FetchPage, tf timeframe.Timeframe, base, start, end time.Time) error {
	var prev time.Time
	for i, b := range page.Bars {
		if b.OpenUTC.Before(start) || !b.OpenUTC.Before(end) {
			return NewInvariantViolation("validate_page", fmt.Errorf("bar %d open %s outside requested range [%s, %s)", i, b.OpenUTC, start, end))
		}
		if !tf.IsAligned(base, b.OpenUTC) {
			return NewInvariantViolation("validate_page", fmt.Errorf("bar %d open %s is not grid-aligned", i, b.OpenUTC))
		}
		if i > 0 && !b.OpenUTC.After(prev) {
			return NewInvariantViolation("validate_page", fmt.Errorf("bar %d open %s out of order or duplicate (prev %s)", i, b.OpenUTC, prev))
		}
		prev = b.OpenUTC
	}
	return nil
}
