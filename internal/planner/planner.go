// Package planner implements the gap-detection and scheduling
// algorithm (spec.md §4.3): comparing desired coverage against actual
// coverage and open work, and emitting new queued gaps. It never
// touches the manifest store directly — callers pass in stream state
// already read from the store and get back a plan to apply.
//
// No single teacher file matches this one-to-one; it is grounded on
// the *composition* of ingester.AsyncWorker.tryProcessNextRange
// (candidate-range selection, lookahead scanning) and
// ingester.Service.process (effective-end / now-based range
// computation, mode-driven start/end selection).
package planner

import (
	"sort"
	"time"

	"barsync/internal/coverage"
	"barsync/internal/manifest"
	"barsync/internal/provider"
)

// Params bundles the external inputs the Planner needs beyond the
// stream's own state.
type Params struct {
	Now               time.Time
	ProviderLatencyMargin time.Duration // subtracted from now before flooring to grid
	HotWindow         time.Duration
	MaxBarsPerRequest int
	FailureCooldown   time.Duration
}

// PlannedGap is one new gap the Planner wants the store to enqueue.
type PlannedGap struct {
	StartTS     time.Time
	EndTS       time.Time
	Hot         bool
	PriorityKey int64
}

// Plan computes the set of new gaps to enqueue for one stream, given
// its current coverage, open (queued/leased) gaps, and scheduling
// parameters. It does not mutate anything; the caller is responsible
// for calling manifest.Store.EnqueueGap for each result. EnqueueGap runs
// in its own statement, separate from the read that produced the inputs.
//
// existingGaps must include every queued, leased, AND failed gap for
// the stream — not just queued/leased — so a failed gap's range is
// never re-emitted as an overlapping queued gap before its cool-down
// elapses (spec.md §4.3 "the planner refuses to re-emit until
// cool-down"); the caller is responsible for reviving cooled-down
// failed gaps back to queued separately.
func Plan(entry manifest.Entry, cov *coverage.Bitmap, existingGaps []manifest.Gap, p Params) ([]PlannedGap, error) {
	tf := entry.Timeframe()

	effectiveEnd := p.Now.Add(-p.ProviderLatencyMargin)
	if entry.DesiredEnd != nil && entry.DesiredEnd.Before(effectiveEnd) {
		effectiveEnd = *entry.DesiredEnd
	}
	effectiveEnd = tf.FloorToGrid(entry.DesiredStart, effectiveEnd)

	if !effectiveEnd.After(entry.DesiredStart) {
		return nil, nil
	}

	endPos, err := tf.PositionOf(entry.DesiredStart, effectiveEnd)
	if err != nil {
		return nil, err
	}
	if endPos == 0 {
		return nil, nil
	}

	missing := cov.MissingIn(coverage.Range{Start: 0, End: endPos - 1})
	if len(missing) == 0 {
		return nil, nil
	}

	openRanges := make([]coverage.Range, 0, len(existingGaps))
	for _, g := range existingGaps {
		if g.State != manifest.GapQueued && g.State != manifest.GapLeased && g.State != manifest.GapFailed {
			continue
		}
		sp, err := tf.PositionOf(entry.DesiredStart, g.StartTS)
		if err != nil {
			continue
		}
		ep, err := tf.PositionOf(entry.DesiredStart, g.EndTS)
		if err != nil {
			continue
		}
		openRanges = append(openRanges, coverage.Range{Start: sp, End: ep})
	}

	residual := subtractRanges(missing, openRanges)
	if len(residual) == 0 {
		return nil, nil
	}

	maxBars := p.MaxBarsPerRequest
	if maxBars <= 0 {
		maxBars = 1
	}

	var out []PlannedGap
	for _, r := range residual {
		for start := r.Start; start <= r.End; start += int64(maxBars) {
			end := start + int64(maxBars) - 1
			if end > r.End {
				end = r.End
			}
			startTS := tf.InstantOf(entry.DesiredStart, start)
			endTS := tf.InstantOf(entry.DesiredStart, end)
			hot := p.Now.Sub(endTS) <= p.HotWindow
			out = append(out, PlannedGap{
				StartTS:     startTS,
				EndTS:       endTS,
				Hot:         hot,
				PriorityKey: priorityKey(hot, endTS),
			})
		}
	}
	return out, nil
}

// priorityKey implements spec.md §4.3's two orderings selected by
// class: within hot, freshest open_instant sorts first; within cold,
// oldest sorts first. Both are realized as ascending sort keys so a
// single ORDER BY priority_key ASC works for either class.
func priorityKey(hot bool, openInstant time.Time) int64 {
	if hot {
		return -openInstant.UnixNano()
	}
	return openInstant.UnixNano()
}

// subtractRanges removes every position covered by any range in
// subtract from the ranges in base, returning the maximal remaining
// contiguous sub-ranges in ascending order.
func subtractRanges(base, subtract []coverage.Range) []coverage.Range {
	if len(subtract) == 0 {
		return base
	}
	sorted := append([]coverage.Range(nil), subtract...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []coverage.Range
	for _, b := range base {
		cur := b
		for _, s := range sorted {
			if s.End < cur.Start || s.Start > cur.End {
				continue
			}
			if s.Start <= cur.Start && s.End >= cur.End {
				cur.Start = cur.End + 1
				break
			}
			if s.Start <= cur.Start {
				cur.Start = s.End + 1
				continue
			}
			if s.End >= cur.End {
				cur.End = s.Start - 1
				continue
			}
			out = append(out, coverage.Range{Start: cur.Start, End: s.Start - 1})
			cur.Start = s.End + 1
		}
		if cur.Start <= cur.End {
			out = append(out, cur)
		}
	}
	return out
}

// EffectiveLag returns the minimum allowed lag from now this stream's
// provider subscription plan permits, for use as ProviderLatencyMargin.
func EffectiveLag(caps provider.Capabilities) time.Duration {
	return caps.MinLag
}

// RecomputeWatermark returns the new watermark for a stream: the
// greatest instant t such that every grid position in [0, position_of(t))
// is covered (spec.md §4.4 step 3, §9 open question — failed gaps
// never count toward this).
func RecomputeWatermark(entry manifest.Entry, cov *coverage.Bitmap) time.Time {
	tf := entry.Timeframe()
	prefix := cov.LongestCoveredPrefix()
	return tf.InstantOf(entry.DesiredStart, prefix)
}
