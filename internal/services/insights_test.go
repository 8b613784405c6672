package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subsum/internal/core"
)

func sub(name, amount string, freq core.BillingFrequency, cat core.Category, next, created time.Time, active bool) core.Subscription {
	return core.Subscription{
		ID:             uuid.New(),
		Name:           name,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		Frequency:      freq,
		NextChargeDate: next,
		Category:       cat,
		CreatedAt:      created,
		Active:         active,
	}
}

func TestMonthlyTotalAndProjection(t *testing.T) {
	created := date(2025, 1, 1)
	next := date(2025, 7, 1)
	subs := []core.Subscription{
		sub("Netflix", "12.00", core.Monthly, core.CategoryStreaming, next, created, true),
		sub("Backup", "120.00", core.Yearly, core.CategoryCloud, next, created, true),
		sub("Cancelled", "99.00", core.Monthly, core.CategoryOther, next, created, false),
	}

	total := MonthlyTotal(subs)
	if want := decimal.RequireFromString("22"); !total.Equal(want) {
		t.Errorf("MonthlyTotal() = %s, want %s", total, want)
	}
	proj := YearlyProjection(subs)
	if want := decimal.RequireFromString("264"); !proj.Equal(want) {
		t.Errorf("YearlyProjection() = %s, want %s", proj, want)
	}

	// idempotent: repeated calls on the same snapshot agree
	if again := MonthlyTotal(subs); !again.Equal(total) {
		t.Errorf("MonthlyTotal() second call = %s, first = %s", again, total)
	}
}

func TestCategoryTotalsSumToMonthlyTotal(t *testing.T) {
	created := date(2025, 1, 1)
	next := date(2025, 7, 1)
	subs := []core.Subscription{
		sub("Netflix", "15.49", core.Monthly, core.CategoryStreaming, next, created, true),
		sub("Disney", "9.99", core.Monthly, core.CategoryStreaming, next, created, true),
		sub("Gym app", "7.00", core.Weekly, core.CategoryFitness, next, created, true),
		sub("Storage", "120.00", core.Yearly, core.CategoryCloud, next, created, true),
		sub("Old paper", "30.00", core.Monthly, core.CategoryNews, next, created, false),
	}

	rows := CategoryTotals(subs)
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Total)
	}
	if total := MonthlyTotal(subs); !sum.Equal(total) {
		t.Errorf("sum of category totals %s != monthly total %s", sum, total)
	}

	// inactive categories never show up
	for _, row := range rows {
		if row.Category == core.CategoryNews {
			t.Errorf("inactive subscription leaked into category totals")
		}
	}

	// descending by total
	for i := 1; i < len(rows); i++ {
		if rows[i].Total.GreaterThan(rows[i-1].Total) {
			t.Errorf("category totals not descending: %s > %s", rows[i].Total, rows[i-1].Total)
		}
	}
}

func TestCategoryTotalsTieBreakUsesFixedOrder(t *testing.T) {
	created := date(2025, 1, 1)
	next := date(2025, 7, 1)
	subs := []core.Subscription{
		sub("B", "10.00", core.Monthly, core.CategoryUtilities, next, created, true),
		sub("A", "10.00", core.Monthly, core.CategoryMusic, next, created, true),
	}

	rows := CategoryTotals(subs)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Category != core.CategoryMusic || rows[1].Category != core.CategoryUtilities {
		t.Errorf("tie-break order = %v, %v; want music before utilities", rows[0].Category, rows[1].Category)
	}
}

func TestUpcomingCharges(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	created := date(2025, 1, 1)
	subs := []core.Subscription{
		sub("zeta", "5.00", core.Monthly, core.CategoryOther, date(2025, 6, 20), created, true),
		sub("Alpha", "5.00", core.Monthly, core.CategoryOther, date(2025, 6, 20), created, true),
		sub("early", "5.00", core.Monthly, core.CategoryOther, date(2025, 6, 15), created, true),
		sub("stale", "5.00", core.Monthly, core.CategoryOther, date(2025, 6, 1), created, true),
		sub("inactive", "5.00", core.Monthly, core.CategoryOther, date(2025, 6, 16), created, false),
	}

	got := UpcomingCharges(subs, now, 0)
	wantNames := []string{"early", "Alpha", "zeta"}
	if len(got) != len(wantNames) {
		t.Fatalf("got %d upcoming, want %d", len(got), len(wantNames))
	}
	for i, name := range wantNames {
		if got[i].Name != name {
			t.Errorf("upcoming[%d] = %s, want %s", i, got[i].Name, name)
		}
	}

	limited := UpcomingCharges(subs, now, 2)
	if len(limited) != 2 || limited[1].Name != "Alpha" {
		t.Errorf("limit not applied deterministically: %+v", limited)
	}
}

func TestMostExpensive(t *testing.T) {
	next := date(2025, 7, 1)

	if got := MostExpensive(nil); got != nil {
		t.Fatalf("empty snapshot should yield nil, got %v", got)
	}

	older := date(2025, 1, 1)
	newer := date(2025, 2, 1)
	subs := []core.Subscription{
		sub("bravo", "20.00", core.Monthly, core.CategoryOther, next, newer, true),
		sub("alpha", "20.00", core.Monthly, core.CategoryOther, next, older, true),
		sub("cheap", "1.00", core.Monthly, core.CategoryOther, next, older, true),
		sub("huge but inactive", "99.00", core.Monthly, core.CategoryOther, next, older, false),
	}

	got := MostExpensive(subs)
	if got == nil || got.Name != "alpha" {
		t.Fatalf("tie should break on earliest created-at, got %+v", got)
	}

	// same created-at: name decides
	subs[0].CreatedAt = older
	got = MostExpensive(subs)
	if got == nil || got.Name != "alpha" {
		t.Errorf("tie should break on name, got %+v", got)
	}
}

func TestMonthlyTrend(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	subs := []core.Subscription{
		sub("old", "10.00", core.Monthly, core.CategoryOther, date(2025, 7, 1), date(2024, 1, 1), true),
		sub("recent", "5.00", core.Monthly, core.CategoryOther, date(2025, 7, 1), date(2025, 5, 1), true),
		sub("inactive", "7.00", core.Monthly, core.CategoryOther, date(2025, 7, 1), date(2024, 1, 1), false),
	}

	points := MonthlyTrend(subs, now, 6)
	if len(points) != 6 {
		t.Fatalf("got %d points, want 6", len(points))
	}

	// ascending months
	for i := 1; i < len(points); i++ {
		if !points[i].Month.After(points[i-1].Month) {
			t.Errorf("trend not ascending at %d", i)
		}
	}

	// oldest marker (Jan 15) predates "recent": only "old" counts
	if want := decimal.RequireFromString("10"); !points[0].Total.Equal(want) {
		t.Errorf("points[0] = %s, want %s", points[0].Total, want)
	}
	// final marker includes both
	if want := decimal.RequireFromString("15"); !points[5].Total.Equal(want) {
		t.Errorf("points[5] = %s, want %s", points[5].Total, want)
	}

	// fixed length even with no subscriptions
	empty := MonthlyTrend(nil, now, 6)
	if len(empty) != 6 {
		t.Fatalf("empty snapshot should still yield 6 points, got %d", len(empty))
	}
	for _, p := range empty {
		if !p.Total.IsZero() {
			t.Errorf("empty snapshot point = %s, want 0", p.Total)
		}
	}
}
