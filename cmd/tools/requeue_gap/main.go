// Command requeue_gap forces a single gap back to the queued state,
// clearing any stale lease and failure bookkeeping, so the worker pool
// picks it up again on its next poll. Useful for a gap stuck leased
// under a worker that crashed before its lease expired, or a failed
// gap an operator wants retried immediately instead of waiting out the
// cooldown.
//
// Grounded on the teacher's cmd/tools/repair_indexing_anomalies: a
// direct pgxpool connection issuing one targeted operator-driven
// UPDATE, reported via RowsAffected.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	dbURL := os.Getenv("BARSYNC_DB_URL")
	if dbURL == "" {
		log.Fatal("BARSYNC_DB_URL is required")
	}
	if len(os.Args) < 2 {
		log.Fatal("usage: requeue_gap <gap_id>")
	}
	gapID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		log.Fatalf("invalid gap_id %q: %v", os.Args[1], err)
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatalf("Unable to parse BARSYNC_DB_URL: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	tag, err := pool.Exec(ctx, `
		UPDATE app.asset_gaps
		SET state = 'queued', lease_owner = NULL, lease_expires_at = NULL,
		    last_failure_at = NULL, last_failure_msg = NULL
		WHERE id = $1 AND state IN ('leased', 'failed')`, gapID)
	if err != nil {
		log.Fatalf("Failed to requeue gap: %v", err)
	}
	if tag.RowsAffected() == 0 {
		fmt.Printf("No leased or failed gap found with id %d (it may already be queued or done).\n", gapID)
		return
	}
	fmt.Printf("Gap %d requeued.\n", gapID)
}
