// Package memvendor is a deterministic in-memory BarProvider test
// double that needs no network access, grounded on the teacher's dependency-light test-double style
// (e.g. internal/ingester's fake processors in async_worker_test.go).
package memvendor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"barsync/internal/manifest"
	"barsync/internal/provider"
	"barsync/internal/timeframe"
)

// Vendor serves bars from a fixed in-memory set, keyed by StreamKey.
// It never pages: FetchPage.NextCursor is always nil.
type Vendor struct {
	Caps  provider.Capabilities
	Base  map[manifest.StreamKey]time.Time // grid base (desired_start) per stream
	Bars  map[manifest.StreamKey][]provider.Bar
	Holes map[manifest.StreamKey]map[int64]bool // positions to omit, simulating vendor gaps
}

// New returns an empty Vendor with the given capabilities.
func New(caps provider.Capabilities) *Vendor {
	return &Vendor{
		Caps:  caps,
		Base:  make(map[manifest.StreamKey]time.Time),
		Bars:  make(map[manifest.StreamKey][]provider.Bar),
		Holes: make(map[manifest.StreamKey]map[int64]bool),
	}
}

// Seed registers synthetic bars for a stream at every grid position in
// [0, count), skipping any position named in holePositions.
func (v *Vendor) Seed(key manifest.StreamKey, tf timeframe.Timeframe, base time.Time, count int, holePositions ...int64) {
	v.Base[key] = base
	holes := make(map[int64]bool, len(holePositions))
	for _, h := range holePositions {
		holes[h] = true
	}
	v.Holes[key] = holes

	var bars []provider.Bar
	for i := int64(0); i < int64(count); i++ {
		if holes[i] {
			continue
		}
		open := tf.InstantOf(base, i)
		bars = append(bars, provider.Bar{
			OpenUTC:  open,
			CloseUTC: tf.InstantOf(base, i+1),
			Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		})
	}
	v.Bars[key] = bars
}

func (v *Vendor) Capabilities(key manifest.StreamKey) (provider.Capabilities, error) {
	return v.Caps, nil
}

func (v *Vendor) FetchBars(ctx context.Context, key manifest.StreamKey, tf timeframe.Timeframe, start, end time.Time, maxBars int, cursor []byte) (provider.FetchPage, error) {
	all, ok := v.Bars[key]
	if !ok {
		return provider.FetchPage{}, fmt.Errorf("memvendor: unknown stream %+v", key)
	}

	idx := sort.Search(len(all), func(i int) bool { return !all[i].OpenUTC.Before(start) })
	var page []provider.Bar
	for ; idx < len(all) && len(page) < maxBars; idx++ {
		if !all[idx].OpenUTC.Before(end) {
			break
		}
		page = append(page, all[idx])
	}
	return provider.FetchPage{Bars: page}, nil
}
