// Package manifest is the durable catalog of desired streams and their
// progress markers (spec.md §4.1). It owns all persisted state; the
// Planner and Runtime only ever hold borrowed views returned from a
// Store method for the duration of a transaction.
package manifest

import (
	"time"

	"barsync/internal/timeframe"
)

// StreamKey uniquely identifies a stream. All five fields are part of
// the key — there is no surrogate alias (spec.md §3).
type StreamKey struct {
	Symbol      string
	Provider    string
	AssetClass  string
	TFAmount    int
	TFUnit      timeframe.Unit
}

// Entry is one manifest row: a stream's desired range and progress.
type Entry struct {
	ID           int64
	Key          StreamKey
	DesiredStart time.Time
	DesiredEnd   *time.Time // nil means open-ended
	Watermark    *time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UpdateRev    int64
	PendingDelete bool
}

// Timeframe returns the entry's validated Timeframe value.
func (e *Entry) Timeframe() timeframe.Timeframe {
	return timeframe.Timeframe{Amount: e.Key.TFAmount, Unit: e.Key.TFUnit}
}

// GapState is the lifecycle state of a work item.
type GapState string

const (
	GapQueued GapState = "queued"
	GapLeased GapState = "leased"
	GapDone   GapState = "done"
	GapFailed GapState = "failed"
)

// Gap is a contiguous inclusive range of instants queued for fetching
// on a specific manifest's grid (spec.md §3).
type Gap struct {
	ID              int64
	ManifestID      int64
	StartTS         time.Time
	EndTS           time.Time
	State           GapState
	LeaseOwner      string
	LeaseExpiresAt  *time.Time
	Attempts        int
	LastFailureAt   *time.Time
	LastFailureMsg  string
	Hot             bool
	PriorityKey     int64
}

// AssetSpec is one user-declared desired stream (spec.md §6.4).
type AssetSpec struct {
	Symbol     string         `yaml:"symbol"`
	Provider   string         `yaml:"provider"`
	AssetClass string         `yaml:"asset_class"`
	Timeframe  SpecTimeframe  `yaml:"timeframe"`
	Range      SpecRange      `yaml:"range"`
}

// SpecTimeframe is the YAML-friendly timeframe shape.
type SpecTimeframe struct {
	Amount int            `yaml:"amount"`
	Unit   timeframe.Unit `yaml:"unit"`
}

// SpecRange is the YAML-friendly desired range; End is nil for
// open-ended streams.
type SpecRange struct {
	Start time.Time  `yaml:"start"`
	End   *time.Time `yaml:"end,omitempty"`
}

// Key builds the StreamKey this spec identifies.
func (a AssetSpec) Key() StreamKey {
	return StreamKey{
		Symbol:     a.Symbol,
		Provider:   a.Provider,
		AssetClass: a.AssetClass,
		TFAmount:   a.Timeframe.Amount,
		TFUnit:     a.Timeframe.Unit,
	}
}

// Diff is the result of UpsertSpec: which streams were added, which
// were modified (range changed), and which were soft-deleted.
type Diff struct {
	Added    []StreamKey
	Modified []StreamKey
	Removed  []StreamKey
}

// StreamView is the single-transaction snapshot returned by GetStream.
type StreamView struct {
	Entry    Entry
	Coverage CoverageBlob
	OpenGaps []Gap
}

// CoverageBlob is the persisted representation of a coverage bitmap
// plus its CAS version, as stored in asset_coverage_bitmap.
type CoverageBlob struct {
	ManifestID int64
	Bitmap     []byte
	Version    int64
}
