package provider

import (
	"testing"
	"time"

	"barsync/internal/timeframe"
)

func TestValidatePage_RejectsOutOfRange(t *testing.T) {
	tf := timeframe.Timeframe{Amount: 1, Unit: timeframe.Day}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	start := base
	end := base.AddDate(0, 0, 5)

	page := FetchPage{Bars: []Bar{{OpenUTC: base.AddDate(0, 0, 10)}}}
	err := ValidatePage(page, tf, base, start, end)
	if err == nil {
		t.Fatal("expected invariant violation for out-of-range bar")
	}
	var perr *Error
	if !asProviderError(err, &perr) || perr.Class != ClassInvariantViolation {
		t.Errorf("expected ClassInvariantViolation, got %v", err)
	}
}

func TestValidatePage_RejectsMisaligned(t *testing.T) {
	tf := timeframe.Timeframe{Amount: 1, Unit: timeframe.Day}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := base.AddDate(0, 0, 5)

	page := FetchPage{Bars: []Bar{{OpenUTC: base.Add(12 * time.Hour)}}}
	if err := ValidatePage(page, tf, base, base, end); err == nil {
		t.Fatal("expected invariant violation for misaligned bar")
	}
}

func TestValidatePage_RejectsDuplicateOrOutOfOrder(t *testing.T) {
	tf := timeframe.Timeframe{Amount: 1, Unit: timeframe.Day}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := base.AddDate(0, 0, 5)

	page := FetchPage{Bars: []Bar{
		{OpenUTC: base.AddDate(0, 0, 1)},
		{OpenUTC: base.AddDate(0, 0, 1)},
	}}
	if err := ValidatePage(page, tf, base, base, end); err == nil {
		t.Fatal("expected invariant violation for duplicate bar")
	}
}

func TestValidatePage_AcceptsValid(t *testing.T) {
	tf := timeframe.Timeframe{Amount: 1, Unit: timeframe.Day}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := base.AddDate(0, 0, 5)

	page := FetchPage{Bars: []Bar{
		{OpenUTC: base},
		{OpenUTC: base.AddDate(0, 0, 1)},
		{OpenUTC: base.AddDate(0, 0, 2)},
	}}
	if err := ValidatePage(page, tf, base, base, end); err != nil {
		t.Errorf("expected valid page, got %v", err)
	}
}

func asProviderError(err error, out **Error) bool {
	perr, ok := err.(*Error)
	if ok {
		*out = perr
	}
	return ok
}
