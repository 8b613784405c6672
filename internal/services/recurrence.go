// Package services provides the business logic of the subscription tracker:
// recurrence advancement, financial aggregation, reminder policy, and
// entitlement reconciliation.
package services

import (
	"time"

	"subsum/internal/core"
)

// AdvanceResult reports one advancement pass over a subscription's
// next-charge date.
type AdvanceResult struct {
	// NextChargeDate is the advanced date, or the original date when no
	// advancement happened or the pass faulted.
	NextChargeDate time.Time

	// Periods is the number of whole billing periods added.
	Periods int

	// Faulted is set when the iteration cap was exceeded. The date is
	// left unchanged so stored state never gets corrupted.
	Faulted bool
}

// iteration slack on top of the elapsed/period estimate
const advanceCapMargin = 4

// Advance rolls a stale next-charge date forward to the first occurrence on
// or after start-of-day(now). The result is always reachable from the
// original date by a whole number of period additions: month and year steps
// are computed from the original date with end-of-month clamping, so a
// charge anchored on the 31st keeps its anchor (Jan 31 -> Feb 28 -> Mar 31)
// instead of drifting to the shortest month's length.
//
// Inactive subscriptions and dates already on or after today are returned
// unchanged. The loop is bounded by the elapsed-time/period ratio plus a
// small margin; exceeding the cap signals a fault instead of spinning.
func Advance(sub core.Subscription, now time.Time) AdvanceResult {
	today := core.StartOfDay(now)
	origin := sub.NextChargeDate

	if !sub.Active || !origin.Before(today) {
		return AdvanceResult{NextChargeDate: origin}
	}

	cap := advanceCap(sub.Frequency, origin, today)
	for k := 1; k <= cap; k++ {
		candidate := addPeriods(origin, sub.Frequency, k)
		if !candidate.Before(today) {
			return AdvanceResult{NextChargeDate: candidate, Periods: k}
		}
	}

	return AdvanceResult{NextChargeDate: origin, Faulted: true}
}

// advanceCap bounds the advancement loop: elapsed days divided by the
// shortest possible period length, plus slack for short months.
func advanceCap(f core.BillingFrequency, origin, today time.Time) int {
	elapsedDays := int(today.Sub(core.StartOfDay(origin)).Hours() / 24)
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	minPeriodDays := 1
	switch f {
	case core.Weekly:
		minPeriodDays = 7
	case core.Monthly:
		minPeriodDays = 28
	case core.Yearly:
		minPeriodDays = 365
	}

	return elapsedDays/minPeriodDays + advanceCapMargin
}

// addPeriods returns origin plus k whole billing periods, computed from the
// origin each time so repeated advancement never accumulates drift. An
// unknown frequency does not advance, so Advance caps out and faults rather
// than guessing a period length.
func addPeriods(origin time.Time, f core.BillingFrequency, k int) time.Time {
	switch f {
	case core.Weekly:
		return origin.AddDate(0, 0, 7*k)
	case core.Monthly:
		return addMonthsClamped(origin, k)
	case core.Yearly:
		return addMonthsClamped(origin, 12*k)
	default:
		return origin
	}
}

// addMonthsClamped adds calendar months with end-of-month clamping, e.g.
// Jan 31 + 1 month = last day of February. time.AddDate is not used because
// it normalizes overflow (Jan 31 + 1 month = Mar 2/3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	m := int(month) + months
	y := year + (m-1)/12
	m = (m-1)%12 + 1
	if m <= 0 {
		m += 12
		y--
	}

	if last := daysInMonth(y, time.Month(m)); day > last {
		day = last
	}
	return time.Date(y, time.Month(m), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
