// Package runtime is the concurrent worker pool that leases gaps,
// invokes a bar provider, writes results via a sink, and commits
// coverage atomically (spec.md §4.4, §5). Grounded on
// ingester.AsyncWorker's pool shape (Start/runLoop/ticker,
// stateless tasks driven entirely by store reads) and
// ingester.CheckpointCommitter's idea of a background pass advancing
// a monotone frontier, folded here into the per-gap commit protocol.
package runtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"barsync/internal/coverage"
	"barsync/internal/eventbus"
	"barsync/internal/manifest"
	"barsync/internal/planner"
	"barsync/internal/provider"
	"barsync/internal/sink"
)

// ProviderBinding pairs one provider_code with its capability
// implementations and lease defaults.
type ProviderBinding struct {
	Code     string
	Provider provider.BarProvider
	Sink     sink.Sink
	LeaseTTL time.Duration // default 5 minutes if zero
}

// Config configures a Pool.
type Config struct {
	MaxConcurrency  int
	MaxCommitRetries int // bounded retries on ConflictRetry before escalating to failed (default 5)
	MaxAttempts     int // attempts before a gap is marked failed for good (default 5)
	ShutdownGrace   time.Duration // default 30s
	PollInterval    time.Duration // how often an idle worker re-polls for a lease (default 2s)
}

// Pool is the stateless worker pool described in spec.md §4.4: workers
// hold no state beyond an immutable Config, a Store handle, and the
// ProviderBindings — every decision is derived from the manifest store
// and the gap a worker currently holds.
type Pool struct {
	store    *manifest.Store
	bindings map[string]ProviderBinding
	limiters *limiterSet
	cfg      Config
	bus      *eventbus.Bus

	workerID string
}

// New constructs a Pool over the given provider bindings. bus may be
// nil, in which case slice-committed triggers are simply not published
// (the Planner's own periodic tick still covers everything).
func New(store *manifest.Store, bindings []ProviderBinding, cfg Config, bus *eventbus.Bus) *Pool {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxCommitRetries <= 0 {
		cfg.MaxCommitRetries = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	byCode := make(map[string]ProviderBinding, len(bindings))
	for _, b := range bindings {
		if b.LeaseTTL <= 0 {
			b.LeaseTTL = 5 * time.Minute
		}
		byCode[b.Code] = b
	}

	return &Pool{
		store:    store,
		bindings: byCode,
		limiters: newLimiterSet(),
		cfg:      cfg,
		bus:      bus,
		workerID: uuid.NewString(),
	}
}

// Run starts cfg.MaxConcurrency worker tasks and blocks until ctx is
// cancelled and every in-flight commit has either finished or the
// shutdown grace period has elapsed (spec.md §4.4 "Cancellation",
// §5 "Cancellation semantics").
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.MaxConcurrency; i++ {
		wg.Add(1)
		workerID := uuid.NewString()
		go func() {
			defer wg.Done()
			p.runLoop(ctx, workerID)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	timer := time.NewTimer(p.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Printf("[runtime] shutdown grace period %s elapsed with workers still in flight", p.cfg.ShutdownGrace)
	}
}

// runLoop is one worker task's inner loop: acquire lease → fetch →
// write via sink → commit → loop (spec.md §4.4).
func (p *Pool) runLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		gap, binding, ok := p.acquireAny(ctx, workerID)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		commitCtx := context.Background()
		if err := p.process(commitCtx, workerID, binding, gap); err != nil {
			log.Printf("[runtime] worker %s: gap %d: %v", workerID, gap.ID, err)
		}
	}
}

// acquireAny tries every bound provider code in turn for a leasable
// gap. It does not block between providers; the caller's poll ticker
// governs retry cadence when nothing is available anywhere.
func (p *Pool) acquireAny(ctx context.Context, workerID string) (*manifest.Gap, ProviderBinding, bool) {
	for code, binding := range p.bindings {
		gap, err := p.store.AcquireNextLease(ctx, code, workerID, binding.LeaseTTL)
		if err == manifest.ErrNoLeaseAvailable {
			continue
		}
		if err != nil {
			log.Printf("[runtime] acquire_next_lease(%s): %v", code, err)
			continue
		}
		return gap, binding, true
	}
	return nil, ProviderBinding{}, false
}

// process runs the fetch → sink → commit sequence for one leased gap,
// with bounded exponential backoff on transient errors and bounded
// retries on coverage CAS conflicts (spec.md §4.4 step 4, §7).
func (p *Pool) process(ctx context.Context, workerID string, binding ProviderBinding, gap *manifest.Gap) error {
	view, err := p.store.GetStream(ctx, gap.ManifestID)
	if err != nil {
		return err
	}

	caps, err := binding.Provider.Capabilities(view.Entry.Key)
	if err != nil {
		return p.fail(ctx, workerID, gap, view, "capabilities: "+err.Error())
	}

	limiter := p.limiters.get(binding.Code, caps.RequestsPerMinute)

	bars, ferr := fetchAll(ctx, binding.Provider, limiter, view.Entry, gap, caps)
	if ferr != nil {
		if perr, ok := ferr.(*provider.Error); ok && perr.Transient() {
			return p.retryLater(ctx, workerID, gap, view, perr)
		}
		return p.fail(ctx, workerID, gap, view, ferr.Error())
	}

	sliceRange := sink.SliceRange{Start: gap.StartTS, End: view.Entry.Timeframe().InstantOf(gap.EndTS, 1)}
	if err := binding.Sink.WriteSlice(ctx, view.Entry.Key, sliceRange, bars); err != nil {
		if serr, ok := err.(*sink.Error); ok && serr.Transient() {
			return p.retryLater(ctx, workerID, gap, view, serr)
		}
		return p.fail(ctx, workerID, gap, view, err.Error())
	}

	return p.commit(ctx, workerID, gap, view, bars)
}

func fetchAll(ctx context.Context, bp provider.BarProvider, limiter *rate.Limiter, entry manifest.Entry, gap *manifest.Gap, caps provider.Capabilities) ([]provider.Bar, error) {
	tf := entry.Timeframe()
	endPos, err := tf.PositionOf(entry.DesiredStart, gap.EndTS)
	if err != nil {
		return nil, err
	}
	endExclusive := tf.InstantOf(entry.DesiredStart, endPos+1)

	maxBars := caps.MaxBarsPerRequest
	if maxBars <= 0 {
		maxBars = 1000
	}

	var all []provider.Bar
	var cursor []byte
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := bp.FetchBars(ctx, entry.Key, tf, gap.StartTS, endExclusive, maxBars, cursor)
		if err != nil {
			return nil, err
		}
		if err := provider.ValidatePage(page, tf, entry.DesiredStart, gap.StartTS, endExclusive); err != nil {
			return nil, err
		}
		all = append(all, page.Bars...)
		if len(page.NextCursor) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// commit implements the four-step commit protocol of spec.md §4.4,
// retrying on ErrConflictRetry up to cfg.MaxCommitRetries times.
func (p *Pool) commit(ctx context.Context, workerID string, gap *manifest.Gap, view manifest.StreamView, bars []provider.Bar) error {
	tf := view.Entry.Timeframe()

	for attempt := 0; attempt < p.cfg.MaxCommitRetries; attempt++ {
		cov, err := coverage.Decode(view.Coverage.Bitmap, view.Coverage.Version)
		if err != nil {
			return err
		}

		var positions []int64
		for _, b := range bars {
			pos, err := tf.PositionOf(view.Entry.DesiredStart, b.OpenUTC)
			if err != nil {
				continue
			}
			positions = append(positions, pos)
		}
		cov.MarkCoveredPositions(positions)

		gapStartPos, _ := tf.PositionOf(view.Entry.DesiredStart, gap.StartTS)
		gapEndPos, _ := tf.PositionOf(view.Entry.DesiredStart, gap.EndTS)
		missing := cov.MissingIn(coverage.Range{Start: gapStartPos, End: gapEndPos})

		if len(missing) > 0 && len(positions) == 0 {
			// The provider made zero progress on this gap — the canonical
			// weekend/holiday/delisted-symbol case of spec.md §8 Scenario 1.
			// Re-enqueuing a fresh queued gap here (as the partial-progress
			// path below does) would reset attempts to 0 and loop forever;
			// instead bound it the same as any other non-terminal outcome
			// and escalate to failed with a NoDataForRange diagnostic once
			// attempts are exhausted (spec.md §7, §4.3 "Failure bookkeeping").
			if gap.Attempts+1 >= p.cfg.MaxAttempts {
				msg := fmt.Sprintf("NoDataForRange: provider returned no bars for [%s, %s) after %d attempts",
					gap.StartTS.Format(time.RFC3339), gap.EndTS.Format(time.RFC3339), gap.Attempts+1)
				return p.fail(ctx, workerID, gap, view, msg)
			}
			return p.store.ReleaseLease(ctx, gap.ID, workerID, manifest.GapQueued)
		}

		var residuals []manifest.ResidualRange
		for _, m := range missing {
			residuals = append(residuals, manifest.ResidualRange{
				StartTS: tf.InstantOf(view.Entry.DesiredStart, m.Start),
				EndTS:   tf.InstantOf(view.Entry.DesiredStart, m.End),
			})
		}

		newBitmap, err := cov.Encode()
		if err != nil {
			return err
		}
		wm := planner.RecomputeWatermark(view.Entry, cov)

		err = p.store.ApplySliceResult(ctx, manifest.SliceOutcome{
			ManifestID:       gap.ManifestID,
			GapID:            gap.ID,
			CoveredPositions: positions,
			ResidualRanges:   residuals,
			GapOutcome:       manifest.GapDone,
			ExpectedVersion:  view.Coverage.Version,
			NewWatermark:     &wm,
		}, newBitmap)

		if err == manifest.ErrConflictRetry {
			view, err = p.store.GetStream(ctx, gap.ManifestID)
			if err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		// ApplySliceResult already transitioned the gap row to 'done' and
		// cleared its lease fields within the same transaction; a second
		// ReleaseLease call here would find state != 'leased' and fail.
		p.publishSliceCommitted(gap.ManifestID)
		return nil
	}
	return p.fail(ctx, workerID, gap, view, "exceeded max commit retries on CAS conflict")
}

// publishSliceCommitted notifies the Planner's re-plan trigger bus of a
// successful commit, the cheap re-plan path of spec.md §4.3 ("on
// successful slice commit: advance watermark, possibly emit next
// chunk"). A nil bus (e.g. in tests) is a silent no-op.
func (p *Pool) publishSliceCommitted(manifestID int64) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Trigger{
		Kind:      eventbus.KindSliceCommitted,
		StreamID:  manifestID,
		Timestamp: time.Now(),
	})
}

func (p *Pool) fail(ctx context.Context, workerID string, gap *manifest.Gap, view manifest.StreamView, msg string) error {
	if err := p.store.SetLastError(ctx, gap.ManifestID, msg); err != nil {
		log.Printf("[runtime] set_last_error: %v", err)
	}
	return p.store.ReleaseLease(ctx, gap.ID, workerID, manifest.GapFailed)
}

// retryLater applies an exponential backoff sleep and then releases the
// lease back to queued so it can be retried. ReleaseLease increments the
// gap's attempts counter on that requeue, and once attempts would reach
// cfg.MaxAttempts the gap is marked failed instead.
func (p *Pool) retryLater(ctx context.Context, workerID string, gap *manifest.Gap, view manifest.StreamView, err error) error {
	if gap.Attempts+1 >= p.cfg.MaxAttempts {
		return p.fail(ctx, workerID, gap, view, err.Error())
	}

	delay := backoffDelay(gap.Attempts, retryAfterSeconds(err))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	if rerr := p.store.ReleaseLease(ctx, gap.ID, workerID, manifest.GapQueued); rerr != nil {
		return rerr
	}
	return err
}

func retryAfterSeconds(err error) int {
	if perr, ok := err.(*provider.Error); ok {
		return perr.RetryAfter
	}
	return 0
}

func backoffDelay(attempt int, retryAfterSeconds int) time.Duration {
	if retryAfterSeconds > 0 {
		return time.Duration(retryAfterSeconds) * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	for i := 0; i < attempt; i++ {
		b.NextBackOff()
	}
	return b.NextBackOff()
}
