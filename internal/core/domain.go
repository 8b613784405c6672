package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Weekly  BillingFrequency = "weekly"
	Monthly BillingFrequency = "monthly"
	Yearly  BillingFrequency = "yearly"
)

const (
	CategoryStreaming    Category = "streaming"
	CategoryMusic        Category = "music"
	CategoryCloud        Category = "cloud"
	CategoryProductivity Category = "productivity"
	CategoryGaming       Category = "gaming"
	CategoryNews         Category = "news"
	CategoryFitness      Category = "fitness"
	CategoryEducation    Category = "education"
	CategoryUtilities    Category = "utilities"
	CategoryOther        Category = "other"
)

type (
	BillingFrequency string

	Category string

	Subscription struct {
		ID             uuid.UUID
		Name           string
		Amount         decimal.Decimal
		Currency       string
		Frequency      BillingFrequency
		NextChargeDate time.Time
		Category       Category
		CreatedAt      time.Time
		Active         bool
	}

	Settings struct {
		Currency               string
		DefaultReminderDays    int
		IsProUser              bool
		BiometricLockEnabled   bool
		NotificationsEnabled   bool
		HasCompletedOnboarding bool
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyName        = errors.New("empty subscription name")
	ErrInvalidFrequency = errors.New("invalid billing frequency")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrZeroChargeDate   = errors.New("next charge date cannot be zero")
)

// Categories lists every category in its fixed display order. The order is
// also the tie-break order for category totals.
var Categories = []Category{
	CategoryStreaming,
	CategoryMusic,
	CategoryCloud,
	CategoryProductivity,
	CategoryGaming,
	CategoryNews,
	CategoryFitness,
	CategoryEducation,
	CategoryUtilities,
	CategoryOther,
}

var categoryRank = func() map[Category]int {
	m := make(map[Category]int, len(Categories))
	for i, c := range Categories {
		m[c] = i
	}
	return m
}()

// ParseBillingFrequency decodes a raw persisted value. The second return is
// false when the value is unknown; callers decide how to handle the
// corruption instead of getting a silent default.
func ParseBillingFrequency(raw string) (BillingFrequency, bool) {
	switch BillingFrequency(raw) {
	case Weekly, Monthly, Yearly:
		return BillingFrequency(raw), true
	}
	return Monthly, false
}

// ParseCategory decodes a raw persisted value. The second return is false
// when the value is unknown.
func ParseCategory(raw string) (Category, bool) {
	if _, ok := categoryRank[Category(raw)]; ok {
		return Category(raw), true
	}
	return CategoryOther, false
}

func (f BillingFrequency) DisplayName() string {
	switch f {
	case Weekly:
		return "Weekly"
	case Monthly:
		return "Monthly"
	case Yearly:
		return "Yearly"
	}
	return string(f)
}

func (c Category) DisplayName() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Rank returns the category's position in the fixed ordering. Unknown
// categories sort last.
func (c Category) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(Categories)
}

var (
	weeksPerYear  = decimal.NewFromInt(52)
	monthsPerYear = decimal.NewFromInt(12)
)

// MonthlyAmount is the amount normalized to one month. The weekly and yearly
// divisions run at decimal.DivisionPrecision; yearly totals needing exactness
// must use YearlyAmount, which never divides.
func (s Subscription) MonthlyAmount() decimal.Decimal {
	switch s.Frequency {
	case Weekly:
		return s.Amount.Mul(weeksPerYear).Div(monthsPerYear)
	case Yearly:
		return s.Amount.Div(monthsPerYear)
	default:
		return s.Amount
	}
}

// YearlyAmount is the amount normalized to one year, computed directly from
// the frequency so weekly amounts stay exact (amount × 52).
func (s Subscription) YearlyAmount() decimal.Decimal {
	switch s.Frequency {
	case Weekly:
		return s.Amount.Mul(weeksPerYear)
	case Monthly:
		return s.Amount.Mul(monthsPerYear)
	default:
		return s.Amount
	}
}

// DaysUntilNextCharge is the whole-day distance from now to the next charge.
// Negative when the stored date is stale and not yet advanced.
func (s Subscription) DaysUntilNextCharge(now time.Time) int {
	from := StartOfDay(now)
	to := StartOfDay(s.NextChargeDate)
	return int(to.Sub(from).Hours() / 24)
}

func (s Subscription) Validate() error {
	if len(strings.TrimSpace(s.Name)) == 0 {
		return ErrEmptyName
	}
	if len(s.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if s.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if _, ok := ParseBillingFrequency(string(s.Frequency)); !ok {
		return ErrInvalidFrequency
	}
	if _, ok := ParseCategory(string(s.Category)); !ok {
		return ErrInvalidCategory
	}
	if s.NextChargeDate.IsZero() {
		return ErrZeroChargeDate
	}
	return nil
}

func (st Settings) Validate() error {
	if st.DefaultReminderDays < 0 || st.DefaultReminderDays > 30 {
		return errors.New("reminder days must be between 0 and 30")
	}
	return nil
}

// DefaultSettings mirrors the values a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{
		Currency:             "USD",
		DefaultReminderDays:  1,
		NotificationsEnabled: true,
	}
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
