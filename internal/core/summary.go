package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryTotal is one row of the category breakdown.
type CategoryTotal struct {
	Category Category
	Total    decimal.Decimal
}

// TrendPoint is one month-marker of the spending trend series.
type TrendPoint struct {
	Month time.Time
	Total decimal.Decimal
}

// Overview bundles the derived financial summaries for the active set.
type Overview struct {
	MonthlyTotal     decimal.Decimal
	YearlyProjection decimal.Decimal
	MostExpensive    *Subscription
	Upcoming         []Subscription
	ByCategory       []CategoryTotal
}
