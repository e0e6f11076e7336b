// Command reset_watermark clears a single manifest's watermark and
// last_error. The coverage bitmap and gaps are left as they are; the
// next successful commit sets the watermark again from coverage.
//
// Grounded on the teacher's cmd/tools/reset_checkpoint: a bare
// pgxpool connect, one targeted UPDATE/DELETE, and a RowsAffected
// check to report whether anything was actually reset.
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
		log.Fatal("usage: reset_watermark <manifest_id>")
	}
	manifestID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		log.Fatalf("invalid manifest_id %q: %v", os.Args[1], err)
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
	tag, err := pool.Exec(ctx,
		`UPDATE app.asset_manifest SET watermark = NULL, last_error = NULL WHERE id = $1`, manifestID)
	if err != nil {
		log.Fatalf("Failed to reset watermark: %v", err)
	}
	if tag.RowsAffected() == 0 {
		fmt.Printf("No manifest found with id %d.\n", manifestID)
		return
	}
	fmt.Printf("Watermark reset for manifest %d. It is set again from coverage on the next successful commit.\n", manifestID)
}
