package services

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subsum/internal/core"
)

// Aggregation functions. All of them are pure: they take a caller-owned
// snapshot, never mutate it, and are safe to call concurrently. Every sum
// runs on exact decimals; tie-breaks are fixed so results are deterministic
// for identical snapshots.

// Active filters the snapshot down to active subscriptions.
func Active(subs []core.Subscription) []core.Subscription {
	out := make([]core.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// MonthlyTotal sums the month-normalized amounts of the active set.
func MonthlyTotal(subs []core.Subscription) decimal.Decimal {
	total := decimal.Zero
	for _, s := range Active(subs) {
		total = total.Add(s.MonthlyAmount())
	}
	return total
}

// YearlyProjection is the monthly total projected over twelve months.
func YearlyProjection(subs []core.Subscription) decimal.Decimal {
	return MonthlyTotal(subs).Mul(decimal.NewFromInt(12))
}

// UpcomingCharges returns the active subscriptions charging on or after
// start-of-day(now), soonest first. Date ties break on the name,
// case-insensitively. A positive limit truncates the list.
func UpcomingCharges(subs []core.Subscription, now time.Time, limit int) []core.Subscription {
	today := core.StartOfDay(now)

	upcoming := make([]core.Subscription, 0, len(subs))
	for _, s := range Active(subs) {
		if !s.NextChargeDate.Before(today) {
			upcoming = append(upcoming, s)
		}
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		if !upcoming[i].NextChargeDate.Equal(upcoming[j].NextChargeDate) {
			return upcoming[i].NextChargeDate.Before(upcoming[j].NextChargeDate)
		}
		return strings.ToLower(upcoming[i].Name) < strings.ToLower(upcoming[j].Name)
	})

	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming
}

// MostExpensive returns the active subscription with the largest monthly
// amount, or nil for an empty active set. Amount ties break on the earliest
// created-at, then on the name.
func MostExpensive(subs []core.Subscription) *core.Subscription {
	var best *core.Subscription
	var bestMonthly decimal.Decimal

	for _, s := range Active(subs) {
		s := s
		monthly := s.MonthlyAmount()
		if best == nil {
			best, bestMonthly = &s, monthly
			continue
		}
		switch monthly.Cmp(bestMonthly) {
		case 1:
			best, bestMonthly = &s, monthly
		case 0:
			if s.CreatedAt.Before(best.CreatedAt) ||
				(s.CreatedAt.Equal(best.CreatedAt) && strings.ToLower(s.Name) < strings.ToLower(best.Name)) {
				best, bestMonthly = &s, monthly
			}
		}
	}
	return best
}

// CategoryTotals groups the active set by category and sums the monthly
// amounts, largest total first. Total ties break on the fixed category
// order. The row totals always add up to MonthlyTotal because both sum the
// same per-subscription values.
func CategoryTotals(subs []core.Subscription) []core.CategoryTotal {
	totals := make(map[core.Category]decimal.Decimal)
	for _, s := range Active(subs) {
		totals[s.Category] = totals[s.Category].Add(s.MonthlyAmount())
	}

	out := make([]core.CategoryTotal, 0, len(totals))
	for cat, total := range totals {
		out = append(out, core.CategoryTotal{Category: cat, Total: total})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Category.Rank() < out[j].Category.Rank()
	})
	return out
}

// MonthlyTrend returns a fixed-length series of month-markers ending at now,
// oldest first. Each point sums the monthly amounts of active subscriptions
// created on or before that marker, so the series shows how the recurring
// spend built up over time. Zero entries are kept.
func MonthlyTrend(subs []core.Subscription, now time.Time, months int) []core.TrendPoint {
	if months <= 0 {
		return nil
	}

	active := Active(subs)
	out := make([]core.TrendPoint, 0, months)
	for i := months - 1; i >= 0; i-- {
		marker := now.AddDate(0, -i, 0)
		total := decimal.Zero
		for _, s := range active {
			if !s.CreatedAt.After(marker) {
				total = total.Add(s.MonthlyAmount())
			}
		}
		out = append(out, core.TrendPoint{Month: marker, Total: total})
	}
	return out
}

// BuildOverview assembles every summary in one pass over the snapshot.
func BuildOverview(subs []core.Subscription, now time.Time, upcomingLimit int) core.Overview {
	return core.Overview{
		MonthlyTotal:     MonthlyTotal(subs),
		YearlyProjection: YearlyProjection(subs),
		MostExpensive:    MostExpensive(subs),
		Upcoming:         UpcomingCharges(subs, now, upcomingLimit),
		ByCategory:       CategoryTotals(subs),
	}
}
