// Package timeframe implements the bar-grid arithmetic that every other
// core package builds on: validating (amount, unit) pairs, converting
// between UTC instants and grid positions, and flooring arbitrary
// instants onto the grid.
package timeframe

import (
	"fmt"
	"time"
)

// Unit is a bar timeframe unit.
type Unit string

const (
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
)

// Timeframe is a validated (amount, unit) pair inducing a bar grid on
// the UTC timeline.
//
// Week anchor: the anchor day of a Week timeframe is whatever UTC
// weekday desired_start falls on — there is no remapping to Monday or
// Sunday. Position 0 of the grid is always desired_start itself;
// positions advance in exact 7*amount day steps from there.
type Timeframe struct {
	Amount int
	Unit   Unit
}

// New validates amount/unit against the restricted domain in spec §3
// and returns a Timeframe, or an error if the pair is out of domain.
func New(amount int, unit Unit) (Timeframe, error) {
	tf := Timeframe{Amount: amount, Unit: unit}
	if err := tf.Validate(); err != nil {
		return Timeframe{}, err
	}
	return tf, nil
}

// Validate reports whether the timeframe's (amount, unit) pair is in
// the domain allowed by spec §3.
func (t Timeframe) Validate() error {
	switch t.Unit {
	case Minute:
		if t.Amount < 1 || t.Amount > 59 {
			return fmt.Errorf("timeframe: minute amount %d out of range [1,59]", t.Amount)
		}
	case Hour:
		if t.Amount < 1 || t.Amount > 23 {
			return fmt.Errorf("timeframe: hour amount %d out of range [1,23]", t.Amount)
		}
	case Day:
		if t.Amount != 1 {
			return fmt.Errorf("timeframe: day amount must be 1, got %d", t.Amount)
		}
	case Week:
		if t.Amount != 1 {
			return fmt.Errorf("timeframe: week amount must be 1, got %d", t.Amount)
		}
	case Month:
		switch t.Amount {
		case 1, 2, 3, 4, 6, 12:
		default:
			return fmt.Errorf("timeframe: month amount %d not in {1,2,3,4,6,12}", t.Amount)
		}
	default:
		return fmt.Errorf("timeframe: unknown unit %q", t.Unit)
	}
	return nil
}

// IsSubDay reports whether the unit's grid arithmetic is exact
// multiples of seconds (Minute, Hour) as opposed to calendar arithmetic
// (Day, Week, Month).
func (t Timeframe) IsSubDay() bool {
	return t.Unit == Minute || t.Unit == Hour
}

// Duration returns the fixed step duration: amount minutes or hours for
// sub-day units, 24h for Day and 7×24h for Week. It panics if called on
// a Month timeframe, which has no fixed duration (calendar-month
// arithmetic — see InstantOf).
func (t Timeframe) Duration() time.Duration {
	switch t.Unit {
	case Minute:
		return time.Duration(t.Amount) * time.Minute
	case Hour:
		return time.Duration(t.Amount) * time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	default:
		panic(fmt.Sprintf("timeframe: Duration() not defined for unit %q", t.Unit))
	}
}

// FloorToGrid floors an arbitrary instant to the grid induced by this
// timeframe anchored at base (desired_start). Instants before base floor
// to base. For Month, the grid is anchored at the first day of base's
// month. A zero-value base is not special-cased.
func (t Timeframe) FloorToGrid(base, instant time.Time) time.Time {
	base = base.UTC()
	instant = instant.UTC()
	if t.Unit == Month {
		return t.floorMonth(base, instant)
	}
	if instant.Before(base) {
		return base
	}
	if t.Unit == Week {
		days := int(instant.Sub(base).Hours() / 24)
		step := 7 * t.Amount
		aligned := (days / step) * step
		return base.AddDate(0, 0, aligned)
	}
	step := t.Duration()
	elapsed := instant.Sub(base)
	n := elapsed / step
	return base.Add(n * step)
}

func (t Timeframe) floorMonth(base, instant time.Time) time.Time {
	by, bm, _ := base.Date()
	iy, im, _ := instant.Date()
	baseMonths := by*12 + int(bm) - 1
	instMonths := iy*12 + int(im) - 1
	delta := instMonths - baseMonths
	if delta < 0 {
		delta = 0
	}
	n := delta / t.Amount
	return time.Date(by, bm, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n*t.Amount, 0)
}

// IsAligned reports whether instant falls exactly on a grid position
// relative to base.
func (t Timeframe) IsAligned(base, instant time.Time) bool {
	return t.FloorToGrid(base, instant).Equal(instant.UTC())
}

// PositionOf returns the grid position of instant relative to base
// (desired_start). It is undefined (returns an error) if instant is
// before base or not grid-aligned.
func (t Timeframe) PositionOf(base, instant time.Time) (int64, error) {
	base = base.UTC()
	instant = instant.UTC()
	if instant.Before(base) {
		return 0, fmt.Errorf("timeframe: instant %s before base %s", instant, base)
	}
	if !t.IsAligned(base, instant) {
		return 0, fmt.Errorf("timeframe: instant %s is not grid-aligned to base %s", instant, base)
	}
	if t.Unit == Month {
		by, bm, _ := base.Date()
		iy, im, _ := instant.Date()
		baseMonths := by*12 + int(bm) - 1
		instMonths := iy*12 + int(im) - 1
		return int64(instMonths-baseMonths) / int64(t.Amount), nil
	}
	if t.Unit == Week {
		days := int64(instant.Sub(base).Hours() / 24)
		return days / int64(7*t.Amount), nil
	}
	step := t.Duration()
	return int64(instant.Sub(base) / step), nil
}

// InstantOf returns the open instant of grid position i relative to base.
// Month positions step by whole calendar months; a base day that does
// not exist in the target month is clamped to that month's last day.
func (t Timeframe) InstantOf(base time.Time, i int64) time.Time {
	base = base.UTC()
	if t.Unit == Month {
		y, m, d := base.Date()
		first := time.Date(y, m, 1, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), time.UTC).AddDate(0, int(i)*t.Amount, 0)
		if last := first.AddDate(0, 1, -1).Day(); d > last {
			d = last
		}
		return first.AddDate(0, 0, d-1)
	}
	if t.Unit == Week {
		return base.AddDate(0, 0, int(i)*7*t.Amount)
	}
	return base.Add(time.Duration(i) * t.Duration())
}

// PositionCount returns the number of grid positions in [start, end),
// both assumed grid-aligned relative to start.
func (t Timeframe) PositionCount(start, end time.Time) (int64, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("timeframe: end %s before start %s", end, start)
	}
	return t.PositionOf(start, end)
}
