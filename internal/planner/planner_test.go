package planner

import (
	"testing"
	"time"

	"barsync/internal/coverage"
	"barsync/internal/manifest"
	"barsync/internal/timeframe"
)

func dayEntry(desiredStart time.Time, desiredEnd *time.Time) manifest.Entry {
	return manifest.Entry{
		ID: 1,
		Key: manifest.StreamKey{
			Symbol: "AAPL", Provider: "alpaca", AssetClass: "us_equity",
			TFAmount: 1, TFUnit: timeframe.Day,
		},
		DesiredStart: desiredStart,
		DesiredEnd:   desiredEnd,
	}
}

func TestPlan_ColdBackfill(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC) // 10 grid positions
	entry := dayEntry(start, &end)

	cov := coverage.New()
	cov.MarkCoveredPositions([]int64{0, 1, 2, 4, 5, 6, 7, 9})

	plans, err := Plan(entry, cov, nil, Params{
		Now:               end,
		MaxBarsPerRequest: 100,
		HotWindow:         time.Minute,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 residual gaps (position 3 and 8), got %d: %+v", len(plans), plans)
	}
	if !plans[0].StartTS.Equal(start.AddDate(0, 0, 3)) {
		t.Errorf("first gap start = %v, want position 3", plans[0].StartTS)
	}
	if !plans[1].StartTS.Equal(start.AddDate(0, 0, 8)) {
		t.Errorf("second gap start = %v, want position 8", plans[1].StartTS)
	}
}

func TestPlan_SubtractsOpenGaps(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	entry := dayEntry(start, &end)

	cov := coverage.New()
	cov.MarkCoveredPositions([]int64{0, 1, 2, 4, 5, 6, 7, 9})

	openGaps := []manifest.Gap{
		{ManifestID: 1, StartTS: start.AddDate(0, 0, 3), EndTS: start.AddDate(0, 0, 3), State: manifest.GapQueued},
	}

	plans, err := Plan(entry, cov, openGaps, Params{Now: end, MaxBarsPerRequest: 100, HotWindow: time.Minute})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 residual gap after subtracting open gap, got %d: %+v", len(plans), plans)
	}
	if !plans[0].StartTS.Equal(start.AddDate(0, 0, 8)) {
		t.Errorf("residual gap start = %v, want position 8", plans[0].StartTS)
	}
}

func TestPlan_HotRefresh(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := dayEntry(start, nil)
	entry.Key.TFUnit = timeframe.Minute
	entry.Key.TFAmount = 1

	cov := coverage.New()
	cov.MarkCoveredPositions([]int64{0, 1, 2, 3, 4}) // watermark at position 5

	now := start.Add(10 * time.Minute)
	plans, err := Plan(entry, cov, nil, Params{
		Now:               now,
		MaxBarsPerRequest: 1000,
		HotWindow:         time.Hour,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected single hot chunk, got %d: %+v", len(plans), plans)
	}
	if !plans[0].Hot {
		t.Errorf("expected gap classified hot")
	}
	if !plans[0].StartTS.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("gap start = %v, want position 5 (%v)", plans[0].StartTS, start.Add(5*time.Minute))
	}
}

func TestPlan_MonthlyTimeframe(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := manifest.Entry{
		ID: 1,
		Key: manifest.StreamKey{
			Symbol: "XYZ", Provider: "alpaca", AssetClass: "us_equity",
			TFAmount: 1, TFUnit: timeframe.Month,
		},
		DesiredStart: start,
	}
	cov := coverage.New()

	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) // exactly position 3
	plans, err := Plan(entry, cov, nil, Params{Now: now, MaxBarsPerRequest: 100, HotWindow: time.Hour})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(plans))
	}
	wantEnd := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) // position 2
	if !plans[0].EndTS.Equal(wantEnd) {
		t.Errorf("gap end = %v, want %v (position 2, not 90 days)", plans[0].EndTS, wantEnd)
	}
}

func TestPlan_EmptyRangeWhenStartEqualsEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := dayEntry(start, &start)
	cov := coverage.New()

	plans, err := Plan(entry, cov, nil, Params{Now: start, MaxBarsPerRequest: 100, HotWindow: time.Hour})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 0 {
		t.Errorf("expected no gaps when desired_start = desired_end, got %d", len(plans))
	}
}

func TestPlan_SlicingRespectsMaxBarsPerRequest(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 25)
	entry := dayEntry(start, &end)
	cov := coverage.New()

	plans, err := Plan(entry, cov, nil, Params{Now: end, MaxBarsPerRequest: 10, HotWindow: time.Minute})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("expected 3 chunks of <=10 bars for 25 positions, got %d", len(plans))
	}
	for i, p := range plans {
		count, _ := entry.Timeframe().PositionCount(p.StartTS, p.EndTS.AddDate(0, 0, 1))
		if count > 10 {
			t.Errorf("chunk %d has %d positions, exceeds max_bars_per_request", i, count)
		}
	}
}

func TestPriorityKey_HotSortsFreshestFirst(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)
	if priorityKey(true, later) >= priorityKey(true, earlier) {
		t.Errorf("expected fresher (later) hot instant to sort first (smaller key)")
	}
}

func TestPriorityKey_ColdSortsOldestFirst(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)
	if priorityKey(false, earlier) >= priorityKey(false, later) {
		t.Errorf("expected older cold instant to sort first (smaller key)")
	}
}

func TestRecomputeWatermark(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := dayEntry(start, nil)
	cov := coverage.New()
	cov.MarkCoveredPositions([]int64{0, 1, 2})

	wm := RecomputeWatermark(entry, cov)
	want := start.AddDate(0, 0, 3)
	if !wm.Equal(want) {
		t.Errorf("watermark = %v, want %v", wm, want)
	}
}
