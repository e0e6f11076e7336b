package manifest

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barsync/internal/timeframe"
)

//go:embed schema.sql
var embeddedSchema string

// Store is the durable manifest/coverage/gap catalog (spec.md §4.1).
// Grounded on the teacher's repository.Repository: a thin wrapper
// around a pgxpool.Pool with env-tunable pool settings and per-connection
// runtime parameters to auto-kill stale sessions.
type Store struct {
	db *pgxpool.Pool
}

// NewStore connects to dbURL and applies the same pool-tuning
// conventions as the teacher's repository.NewRepository.
func NewStore(dbURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse db url: %w", err)
	}

	if v := os.Getenv("BARSYNC_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("BARSYNC_DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = getEnvDefault("BARSYNC_DB_STATEMENT_TIMEOUT", "300000")
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("manifest: connect: %w", err)
	}
	return &Store{db: pool}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Migrate applies the embedded schema. It is idempotent — every
// statement in schema.sql uses CREATE ... IF NOT EXISTS / CREATE OR
// REPLACE, except the trigger, which is dropped if present and
// re-created, mirroring the teacher's Repository.Migrate exec-whole-file
// convention.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, embeddedSchema); err != nil {
		return fmt.Errorf("manifest: migrate: %w", err)
	}
	return nil
}

// UpsertSpec reconciles the manifest to exactly the given declarative
// set of streams (spec.md §4.1, §6.4). The whole reconciliation runs
// in a single transaction: adds, range updates, and soft-deletes (with
// their coverage/gap rows purged) commit atomically.
func (s *Store) UpsertSpec(ctx context.Context, specs []AssetSpec) (Diff, error) {
	var diff Diff

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return diff, fmt.Errorf("manifest: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	wanted := make(map[StreamKey]AssetSpec, len(specs))
	for _, spec := range specs {
		wanted[spec.Key()] = spec
	}

	rows, err := tx.Query(ctx, `
		SELECT id, symbol, provider, asset_class, tf_amount, tf_unit, desired_start, desired_end
		FROM app.asset_manifest
		WHERE pending_delete = FALSE`)
	if err != nil {
		return diff, fmt.Errorf("manifest: scan existing: %w", err)
	}
	existing := make(map[StreamKey]Entry)
	for rows.Next() {
		var e Entry
		var tfUnit string
		if err := rows.Scan(&e.ID, &e.Key.Symbol, &e.Key.Provider, &e.Key.AssetClass, &e.Key.TFAmount, &tfUnit, &e.DesiredStart, &e.DesiredEnd); err != nil {
			rows.Close()
			return diff, fmt.Errorf("manifest: scan row: %w", err)
		}
		e.Key.TFUnit = unitFromString(tfUnit)
		existing[e.Key] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return diff, fmt.Errorf("manifest: scan existing: %w", err)
	}

	for key, spec := range wanted {
		tf := spec.Timeframe
		alignedStart := floorForTimeframe(tf, spec.Range.Start, spec.Range.Start)
		var alignedEnd *time.Time
		if spec.Range.End != nil {
			e := floorForTimeframe(tf, spec.Range.Start, *spec.Range.End)
			alignedEnd = &e
		}

		if prior, ok := existing[key]; ok {
			if !prior.DesiredStart.Equal(alignedStart) || !equalEndPtr(prior.DesiredEnd, alignedEnd) {
				if _, err := tx.Exec(ctx, `
					UPDATE app.asset_manifest
					SET desired_start = $1, desired_end = $2
					WHERE id = $3`, alignedStart, alignedEnd, prior.ID); err != nil {
					return diff, fmt.Errorf("manifest: update %v: %w", key, err)
				}
				diff.Modified = append(diff.Modified, key)
			}
			continue
		}

		var newID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO app.asset_manifest
				(symbol, provider, asset_class, tf_amount, tf_unit, desired_start, desired_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			key.Symbol, key.Provider, key.AssetClass, key.TFAmount, string(key.TFUnit), alignedStart, alignedEnd,
		).Scan(&newID)
		if err != nil {
			return diff, fmt.Errorf("manifest: insert %v: %w", key, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO app.asset_coverage_bitmap (manifest_id, bitmap, version)
			VALUES ($1, ''::BYTEA, 0)`, newID); err != nil {
			return diff, fmt.Errorf("manifest: init coverage %v: %w", key, err)
		}
		diff.Added = append(diff.Added, key)
	}

	for key, prior := range existing {
		if _, ok := wanted[key]; ok {
			continue
		}
		if _, err := tx.Exec(ctx, `DELETE FROM app.asset_gaps WHERE manifest_id = $1`, prior.ID); err != nil {
			return diff, fmt.Errorf("manifest: purge gaps %v: %w", key, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM app.asset_coverage_bitmap WHERE manifest_id = $1`, prior.ID); err != nil {
			return diff, fmt.Errorf("manifest: purge coverage %v: %w", key, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE app.asset_manifest SET pending_delete = TRUE WHERE id = $1`, prior.ID); err != nil {
			return diff, fmt.Errorf("manifest: soft delete %v: %w", key, err)
		}
		diff.Removed = append(diff.Removed, key)
	}

	if err := tx.Commit(ctx); err != nil {
		return diff, fmt.Errorf("manifest: commit upsert: %w", err)
	}
	return diff, nil
}

func equalEndPtr(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func unitFromString(s string) timeframe.Unit {
	return timeframe.Unit(s)
}

// GetStream returns a single-transaction snapshot of a manifest entry,
// its coverage blob, and its open (queued/leased) gaps.
func (s *Store) GetStream(ctx context.Context, id int64) (StreamView, error) {
	var view StreamView

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return view, fmt.Errorf("manifest: begin get_stream: %w", err)
	}
	defer tx.Rollback(ctx)

	var tfUnit string
	err = tx.QueryRow(ctx, `
		SELECT id, symbol, provider, asset_class, tf_amount, tf_unit,
		       desired_start, desired_end, watermark, last_error,
		       created_at, updated_at, update_rev, pending_delete
		FROM app.asset_manifest WHERE id = $1`, id,
	).Scan(&view.Entry.ID, &view.Entry.Key.Symbol, &view.Entry.Key.Provider, &view.Entry.Key.AssetClass,
		&view.Entry.Key.TFAmount, &tfUnit, &view.Entry.DesiredStart, &view.Entry.DesiredEnd,
		&view.Entry.Watermark, &view.Entry.LastError, &view.Entry.CreatedAt, &view.Entry.UpdatedAt,
		&view.Entry.UpdateRev, &view.Entry.PendingDelete)
	if err == pgx.ErrNoRows {
		return view, ErrNotFound
	}
	if err != nil {
		return view, fmt.Errorf("manifest: get manifest %d: %w", id, err)
	}
	if view.Entry.PendingDelete {
		return view, ErrNotFound
	}
	view.Entry.Key.TFUnit = unitFromString(tfUnit)

	err = tx.QueryRow(ctx, `
		SELECT manifest_id, bitmap, version
		FROM app.asset_coverage_bitmap WHERE manifest_id = $1`, id,
	).Scan(&view.Coverage.ManifestID, &view.Coverage.Bitmap, &view.Coverage.Version)
	if err != nil && err != pgx.ErrNoRows {
		return view, fmt.Errorf("manifest: get coverage %d: %w", id, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, manifest_id, start_ts, end_ts, state, COALESCE(lease_owner,''),
		       lease_expires_at, attempts, last_failure_at, COALESCE(last_failure_msg,''), hot, priority_key
		FROM app.asset_gaps
		WHERE manifest_id = $1 AND state IN ('queued','leased')
		ORDER BY start_ts ASC`, id)
	if err != nil {
		return view, fmt.Errorf("manifest: get open gaps %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.ID, &g.ManifestID, &g.StartTS, &g.EndTS, &g.State, &g.LeaseOwner,
			&g.LeaseExpiresAt, &g.Attempts, &g.LastFailureAt, &g.LastFailureMsg, &g.Hot, &g.PriorityKey); err != nil {
			return view, fmt.Errorf("manifest: scan gap: %w", err)
		}
		view.OpenGaps = append(view.OpenGaps, g)
	}
	if err := rows.Err(); err != nil {
		return view, fmt.Errorf("manifest: iterate gaps: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return view, fmt.Errorf("manifest: commit get_stream: %w", err)
	}
	return view, nil
}

// ListStreamIDs returns all non-deleted manifest ids, optionally
// filtered by provider_code.
func (s *Store) ListStreamIDs(ctx context.Context, providerCode string) ([]int64, error) {
	var rows pgx.Rows
	var err error
	if providerCode == "" {
		rows, err = s.db.Query(ctx, `SELECT id FROM app.asset_manifest WHERE pending_delete = FALSE`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT id FROM app.asset_manifest WHERE pending_delete = FALSE AND provider = $1`, providerCode)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: list stream ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("manifest: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnqueueGap inserts a new queued gap for a manifest. Overlap with an
// existing open gap is prevented by the unique (manifest_id, start_ts, end_ts)
// constraint at the exact-range level; the Planner is responsible for
// ensuring ranges it emits don't overlap existing open gaps (spec.md §4.3).
func (s *Store) EnqueueGap(ctx context.Context, manifestID int64, startTS, endTS time.Time, hot bool, priorityKey int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO app.asset_gaps (manifest_id, start_ts, end_ts, state, hot, priority_key)
		VALUES ($1, $2, $3, 'queued', $4, $5)
		ON CONFLICT (manifest_id, start_ts, end_ts) DO NOTHING`,
		manifestID, startTS, endTS, hot, priorityKey)
	if err != nil {
		return fmt.Errorf("manifest: enqueue gap: %w", err)
	}
	return nil
}

// AcquireLease picks the oldest queued gap, or a leased gap whose
// lease has expired, for the given manifest, and transitions it to
// leased with the new owner (spec.md §4.1).
func (s *Store) AcquireLease(ctx context.Context, manifestID int64, workerID string, leaseTTL time.Duration) (*Gap, error) {
	return s.acquireLeaseWhere(ctx, "manifest_id = $1", manifestID, workerID, leaseTTL)
}

// AcquireNextLease scans across every stream for the given provider
// code and leases the highest-priority eligible gap, implementing the
// cross-stream scheduling the worker pool needs on top of the
// per-stream AcquireLease primitive (spec.md §5).
func (s *Store) AcquireNextLease(ctx context.Context, providerCode string, workerID string, leaseTTL time.Duration) (*Gap, error) {
	return s.acquireLeaseWhere(ctx, "manifest_id IN (SELECT id FROM app.asset_manifest WHERE provider = $1 AND pending_delete = FALSE)", providerCode, workerID, leaseTTL)
}

func (s *Store) acquireLeaseWhere(ctx context.Context, whereClause string, whereArg any, workerID string, leaseTTL time.Duration) (*Gap, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest: begin acquire_lease: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		SELECT id FROM app.asset_gaps
		WHERE %s
		  AND (state = 'queued' OR (state = 'leased' AND lease_expires_at < now()))
		ORDER BY hot DESC, priority_key ASC, manifest_id ASC, start_ts ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, whereClause)

	var gapID int64
	err = tx.QueryRow(ctx, query, whereArg).Scan(&gapID)
	if err == pgx.ErrNoRows {
		return nil, ErrNoLeaseAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: select lease candidate: %w", err)
	}

	expiresAt := time.Now().UTC().Add(leaseTTL)
	var g Gap
	err = tx.QueryRow(ctx, `
		UPDATE app.asset_gaps
		SET state = 'leased', lease_owner = $1, lease_expires_at = $2
		WHERE id = $3
		RETURNING id, manifest_id, start_ts, end_ts, state, lease_owner, lease_expires_at,
		          attempts, last_failure_at, COALESCE(last_failure_msg,''), hot, priority_key`,
		workerID, expiresAt, gapID,
	).Scan(&g.ID, &g.ManifestID, &g.StartTS, &g.EndTS, &g.State, &g.LeaseOwner, &g.LeaseExpiresAt,
		&g.Attempts, &g.LastFailureAt, &g.LastFailureMsg, &g.Hot, &g.PriorityKey)
	if err != nil {
		return nil, fmt.Errorf("manifest: claim lease: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("manifest: commit acquire_lease: %w", err)
	}
	return &g, nil
}

// ReleaseLease transitions a leased gap to queued, failed, or done.
// It rejects the transition if workerID does not match the current
// lessee (spec.md §4.1). Every non-done transition bumps attempts,
// including a transient requeue to queued — it is the count of leases
// that did not end in done, and it is what bounds retryLater's
// escalation to failed once max_attempts is reached (spec.md §7).
func (s *Store) ReleaseLease(ctx context.Context, gapID int64, workerID string, outcome GapState) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.asset_gaps
		SET state = $1,
		    lease_owner = CASE WHEN $1 = 'leased' THEN lease_owner ELSE NULL END,
		    lease_expires_at = CASE WHEN $1 = 'leased' THEN lease_expires_at ELSE NULL END,
		    attempts = CASE WHEN $1 = 'done' THEN attempts ELSE attempts + 1 END,
		    last_failure_at = CASE WHEN $1 = 'failed' THEN now() ELSE last_failure_at END
		WHERE id = $2 AND lease_owner = $3 AND state = 'leased'`,
		outcome, gapID, workerID)
	if err != nil {
		return fmt.Errorf("manifest: release lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseOwnerMismatch
	}
	return nil
}

// ResidualRange is one still-missing sub-range re-enqueued as a fresh
// queued gap when a leased gap is only partially covered by the
// provider's response (spec.md §4.4 step 3).
type ResidualRange struct {
	StartTS time.Time
	EndTS   time.Time
}

// SliceOutcome describes the result of a single worker commit attempt
// to feed into ApplySliceResult.
type SliceOutcome struct {
	ManifestID       int64
	GapID            int64
	CoveredPositions []int64         // positions newly confirmed materialized
	ResidualRanges   []ResidualRange // still-missing sub-ranges of the original gap, re-enqueued fresh
	GapOutcome       GapState        // terminal state for the original gap ('done' or 'failed')
	FailureMsg       string
	ExpectedVersion  int64
	NewWatermark     *time.Time // advance watermark in the same commit, if it moved forward
}

// ApplySliceResult atomically CASes coverage.version, replaces the
// bitmap with newBitmap (the caller's already OR-merged coverage),
// transitions the leased gap, optionally re-enqueues residual gaps, and
// advances the watermark to o.NewWatermark if that is greater than the
// stored one (spec.md §4.1, §4.4). The watermark itself is computed by
// the caller.
// On a version mismatch it returns ErrConflictRetry without mutating
// anything; the caller must re-read GetStream and retry.
func (s *Store) ApplySliceResult(ctx context.Context, o SliceOutcome, newBitmap []byte) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("manifest: begin apply_slice_result: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE app.asset_coverage_bitmap
		SET bitmap = $1, version = version + 1
		WHERE manifest_id = $2 AND version = $3`,
		newBitmap, o.ManifestID, o.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("manifest: cas coverage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflictRetry
	}

	if o.GapOutcome == GapFailed {
		if _, err := tx.Exec(ctx, `
			UPDATE app.asset_gaps
			SET state = 'failed', lease_owner = NULL, lease_expires_at = NULL,
			    attempts = attempts + 1, last_failure_at = now(), last_failure_msg = $1
			WHERE id = $2`, o.FailureMsg, o.GapID); err != nil {
			return fmt.Errorf("manifest: mark gap failed: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE app.asset_gaps
			SET state = 'done', lease_owner = NULL, lease_expires_at = NULL
			WHERE id = $1`, o.GapID); err != nil {
			return fmt.Errorf("manifest: mark gap done: %w", err)
		}
		for _, r := range o.ResidualRanges {
			if err := s.enqueueGapTx(ctx, tx, o.ManifestID, r.StartTS, r.EndTS, false, r.StartTS.UnixNano()); err != nil {
				return err
			}
		}
	}

	if o.NewWatermark != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE app.asset_manifest
			SET watermark = GREATEST(COALESCE(watermark, $2), $2), last_error = NULL
			WHERE id = $1`, o.ManifestID, *o.NewWatermark); err != nil {
			return fmt.Errorf("manifest: advance watermark: %w", err)
		}
	}
	if o.GapOutcome == GapFailed && o.FailureMsg != "" {
		if _, err := tx.Exec(ctx, `UPDATE app.asset_manifest SET last_error = $1 WHERE id = $2`, o.FailureMsg, o.ManifestID); err != nil {
			return fmt.Errorf("manifest: set last_error: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("manifest: commit apply_slice_result: %w", err)
	}
	return nil
}

func (s *Store) enqueueGapTx(ctx context.Context, tx pgx.Tx, manifestID int64, startTS, endTS time.Time, hot bool, priorityKey int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO app.asset_gaps (manifest_id, start_ts, end_ts, state, hot, priority_key)
		VALUES ($1, $2, $3, 'queued', $4, $5)
		ON CONFLICT (manifest_id, start_ts, end_ts) DO NOTHING`,
		manifestID, startTS, endTS, hot, priorityKey)
	if err != nil {
		return fmt.Errorf("manifest: enqueue residual gap: %w", err)
	}
	return nil
}

// SetWatermark advances a manifest's watermark if newWatermark is
// greater than the current value, and clears last_error (a successful
// commit clears it per spec.md §7).
func (s *Store) SetWatermark(ctx context.Context, manifestID int64, newWatermark time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE app.asset_manifest
		SET watermark = GREATEST(COALESCE(watermark, $2), $2), last_error = NULL, updated_at = now()
		WHERE id = $1`, manifestID, newWatermark)
	if err != nil {
		return fmt.Errorf("manifest: set watermark: %w", err)
	}
	return nil
}

// SetLastError records the most recent terminal failure's message for
// a manifest (spec.md §4.3 failure bookkeeping).
func (s *Store) SetLastError(ctx context.Context, manifestID int64, msg string) error {
	_, err := s.db.Exec(ctx, `UPDATE app.asset_manifest SET last_error = $1 WHERE id = $2`, msg, manifestID)
	if err != nil {
		return fmt.Errorf("manifest: set last_error: %w", err)
	}
	return nil
}

// FailedGaps returns every gap for a manifest still in the terminal
// 'failed' state, regardless of cooldown. The Planner subtracts their
// ranges from its missing-range candidates so it never re-emits an
// overlapping gap for a range still cooling down (spec.md §4.3
// "the planner refuses to re-emit until cool-down"); FailedGapsPastCooldown
// below is the separate, narrower query for ranges actually eligible
// for revival.
func (s *Store) FailedGaps(ctx context.Context, manifestID int64) ([]Gap, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, manifest_id, start_ts, end_ts, state, COALESCE(lease_owner,''), lease_expires_at,
		       attempts, last_failure_at, COALESCE(last_failure_msg,''), hot, priority_key
		FROM app.asset_gaps
		WHERE manifest_id = $1 AND state = 'failed'`,
		manifestID)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed gaps: %w", err)
	}
	defer rows.Close()
	var gaps []Gap
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.ID, &g.ManifestID, &g.StartTS, &g.EndTS, &g.State, &g.LeaseOwner, &g.LeaseExpiresAt,
			&g.Attempts, &g.LastFailureAt, &g.LastFailureMsg, &g.Hot, &g.PriorityKey); err != nil {
			return nil, fmt.Errorf("manifest: scan failed gap: %w", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// FailedGapsPastCooldown returns failed gaps for a manifest whose
// last_failure_at is older than cooldown, eligible for the Planner to
// re-emit (spec.md §4.3 Failure bookkeeping).
func (s *Store) FailedGapsPastCooldown(ctx context.Context, manifestID int64, cooldown time.Duration) ([]Gap, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, manifest_id, start_ts, end_ts, state, COALESCE(lease_owner,''), lease_expires_at,
		       attempts, last_failure_at, COALESCE(last_failure_msg,''), hot, priority_key
		FROM app.asset_gaps
		WHERE manifest_id = $1 AND state = 'failed' AND last_failure_at < now() - $2::interval`,
		manifestID, fmt.Sprintf("%d seconds", int64(cooldown.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("manifest: failed gaps past cooldown: %w", err)
	}
	defer rows.Close()
	var gaps []Gap
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.ID, &g.ManifestID, &g.StartTS, &g.EndTS, &g.State, &g.LeaseOwner, &g.LeaseExpiresAt,
			&g.Attempts, &g.LastFailureAt, &g.LastFailureMsg, &g.Hot, &g.PriorityKey); err != nil {
			return nil, fmt.Errorf("manifest: scan failed gap: %w", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// ReviveFailedGap transitions a cooled-down failed gap back to queued
// so the Planner's next cycle can retry it.
func (s *Store) ReviveFailedGap(ctx context.Context, gapID int64) error {
	_, err := s.db.Exec(ctx, `UPDATE app.asset_gaps SET state = 'queued' WHERE id = $1 AND state = 'failed'`, gapID)
	if err != nil {
		return fmt.Errorf("manifest: revive failed gap: %w", err)
	}
	return nil
}

// GCDoneGaps deletes gaps in terminal 'done' state older than the
// retention window (spec.md §3 Lifecycles).
func (s *Store) GCDoneGaps(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM app.asset_gaps
		WHERE state = 'done' AND end_ts < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("manifest: gc done gaps: %w", err)
	}
	return tag.RowsAffected(), nil
}

func floorForTimeframe(tf SpecTimeframe, base, instant time.Time) time.Time {
	full := timeframe.Timeframe{Amount: tf.Amount, Unit: tf.Unit}
	return full.FloorToGrid(base, instant)
}
