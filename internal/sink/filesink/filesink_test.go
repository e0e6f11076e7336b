package filesink

import (
	"context"
	"os"
	"testing"
	"time"

	"barsync/internal/manifest"
	"barsync/internal/provider"
	"barsync/internal/sink"
)

func testKey() manifest.StreamKey {
	return manifest.StreamKey{Symbol: "AAPL", Provider: "alpaca", AssetClass: "us_equity", TFAmount: 1, TFUnit: "day"}
}

func TestWriteSlice_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []provider.Bar{{OpenUTC: base, Close: 100}}
	r := sink.SliceRange{Start: base, End: base.AddDate(0, 0, 1)}

	if err := s.WriteSlice(context.Background(), testKey(), r, bars); err != nil {
		t.Fatalf("WriteSlice: %v", err)
	}

	var found int
	filepath_Walk(t, dir, &found)
	if found != 1 {
		t.Errorf("expected 1 file written, got %d", found)
	}
}

func TestWriteSlice_Idempotent(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []provider.Bar{{OpenUTC: base, Close: 100}}
	r := sink.SliceRange{Start: base, End: base.AddDate(0, 0, 1)}

	if err := s.WriteSlice(context.Background(), testKey(), r, bars); err != nil {
		t.Fatalf("first WriteSlice: %v", err)
	}
	if err := s.WriteSlice(context.Background(), testKey(), r, bars); err != nil {
		t.Fatalf("second WriteSlice: %v", err)
	}

	var found int
	filepath_Walk(t, dir, &found)
	if found != 1 {
		t.Errorf("expected exactly 1 file after repeat write, got %d", found)
	}
}

func TestWriteSlice_DifferentBarsDifferentFingerprint(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r := sink.SliceRange{Start: base, End: base.AddDate(0, 0, 1)}

	if err := s.WriteSlice(context.Background(), testKey(), r, []provider.Bar{{OpenUTC: base, Close: 100}}); err != nil {
		t.Fatalf("WriteSlice 1: %v", err)
	}
	if err := s.WriteSlice(context.Background(), testKey(), r, []provider.Bar{{OpenUTC: base, Close: 200}}); err != nil {
		t.Fatalf("WriteSlice 2: %v", err)
	}

	var found int
	filepath_Walk(t, dir, &found)
	if found != 2 {
		t.Errorf("expected 2 distinct files for differing bar content, got %d", found)
	}
}

func filepath_Walk(t *testing.T, dir string, count *int) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			filepath_Walk(t, dir+"/"+e.Name(), count)
			continue
		}
		if len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == "json" {
			*count++
		}
	}
}
