package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"subsum/internal/core"
)

const dateLayout = "2006-01-02"

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// chartValue converts an exact decimal into a renderable float. Only chart
// payloads go through this; every stored or summed amount stays decimal.
func chartValue(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

type subscriptionDTO struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Amount              string    `json:"amount"`
	Currency            string    `json:"currency"`
	Frequency           string    `json:"frequency"`
	NextChargeDate      string    `json:"next_charge_date"`
	Category            string    `json:"category"`
	CreatedAt           time.Time `json:"created_at"`
	Active              bool      `json:"active"`
	MonthlyAmount       string    `json:"monthly_amount"`
	DaysUntilNextCharge int       `json:"days_until_next_charge"`
}

func toSubscriptionDTO(s core.Subscription, now time.Time) subscriptionDTO {
	return subscriptionDTO{
		ID:                  s.ID.String(),
		Name:                s.Name,
		Amount:              s.Amount.String(),
		Currency:            s.Currency,
		Frequency:           string(s.Frequency),
		NextChargeDate:      s.NextChargeDate.Format(dateLayout),
		Category:            string(s.Category),
		CreatedAt:           s.CreatedAt,
		Active:              s.Active,
		MonthlyAmount:       s.MonthlyAmount().String(),
		DaysUntilNextCharge: s.DaysUntilNextCharge(now),
	}
}

func toSubscriptionDTOs(subs []core.Subscription, now time.Time) []subscriptionDTO {
	out := make([]subscriptionDTO, len(subs))
	for i, s := range subs {
		out[i] = toSubscriptionDTO(s, now)
	}
	return out
}

type categoryTotalDTO struct {
	Category    string `json:"category"`
	DisplayName string `json:"display_name"`
	Total       string `json:"total"`
}

type overviewDTO struct {
	MonthlyTotal     string             `json:"monthly_total"`
	YearlyProjection string             `json:"yearly_projection"`
	MostExpensive    *subscriptionDTO   `json:"most_expensive,omitempty"`
	Upcoming         []subscriptionDTO  `json:"upcoming"`
	ByCategory       []categoryTotalDTO `json:"by_category"`
}

func toOverviewDTO(o core.Overview, now time.Time) overviewDTO {
	dto := overviewDTO{
		MonthlyTotal:     o.MonthlyTotal.String(),
		YearlyProjection: o.YearlyProjection.String(),
		Upcoming:         toSubscriptionDTOs(o.Upcoming, now),
		ByCategory:       make([]categoryTotalDTO, 0, len(o.ByCategory)),
	}
	if o.MostExpensive != nil {
		d := toSubscriptionDTO(*o.MostExpensive, now)
		dto.MostExpensive = &d
	}
	for _, ct := range o.ByCategory {
		dto.ByCategory = append(dto.ByCategory, categoryTotalDTO{
			Category:    string(ct.Category),
			DisplayName: ct.Category.DisplayName(),
			Total:       ct.Total.String(),
		})
	}
	return dto
}

type trendPointDTO struct {
	Month string  `json:"month"`
	Total string  `json:"total"`
	Chart float64 `json:"chart_value"`
}

func toTrendDTOs(points []core.TrendPoint) []trendPointDTO {
	out := make([]trendPointDTO, len(points))
	for i, p := range points {
		out[i] = trendPointDTO{
			Month: p.Month.Format("2006-01"),
			Total: p.Total.String(),
			Chart: chartValue(p.Total),
		}
	}
	return out
}

type settingsDTO struct {
	Currency               string `json:"currency"`
	DefaultReminderDays    int    `json:"default_reminder_days"`
	IsProUser              bool   `json:"is_pro_user"`
	BiometricLockEnabled   bool   `json:"biometric_lock_enabled"`
	NotificationsEnabled   bool   `json:"notifications_enabled"`
	HasCompletedOnboarding bool   `json:"has_completed_onboarding"`
}

func toSettingsDTO(s core.Settings) settingsDTO {
	return settingsDTO{
		Currency:               s.Currency,
		DefaultReminderDays:    s.DefaultReminderDays,
		IsProUser:              s.IsProUser,
		BiometricLockEnabled:   s.BiometricLockEnabled,
		NotificationsEnabled:   s.NotificationsEnabled,
		HasCompletedOnboarding: s.HasCompletedOnboarding,
	}
}

func (d settingsDTO) toSettings() core.Settings {
	return core.Settings{
		Currency:               d.Currency,
		DefaultReminderDays:    d.DefaultReminderDays,
		IsProUser:              d.IsProUser,
		BiometricLockEnabled:   d.BiometricLockEnabled,
		NotificationsEnabled:   d.NotificationsEnabled,
		HasCompletedOnboarding: d.HasCompletedOnboarding,
	}
}
