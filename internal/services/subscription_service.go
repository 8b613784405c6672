package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"subsum/internal/core"
)

// ErrProRequired marks operations gated behind the premium entitlement.
var ErrProRequired = errors.New("pro entitlement required")

// Repository is the persistence port the service orchestrates.
type Repository interface {
	ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (core.Subscription, error)
	InsertSubscription(ctx context.Context, sub core.Subscription) error
	UpdateSubscription(ctx context.Context, sub core.Subscription) error
	UpdateNextChargeDate(ctx context.Context, id uuid.UUID, next time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	GetSettings(ctx context.Context) (core.Settings, error)
	SaveSettings(ctx context.Context, settings core.Settings) error
}

// Entitlements is the read side of the entitlement reconciler.
type Entitlements interface {
	IsPro() bool
}

// SubscriptionService ties the repository, the recurrence rules, and the
// reminder policy together. Every read of the subscription set first rolls
// stale next-charge dates forward and persists the result, so callers only
// ever see current dates.
type SubscriptionService struct {
	repo         Repository
	reminders    *ReminderPolicy
	entitlements Entitlements

	trendMonths   int
	upcomingLimit int
	now           func() time.Time
}

func NewSubscriptionService(repo Repository, reminders *ReminderPolicy, entitlements Entitlements, trendMonths, upcomingLimit int) *SubscriptionService {
	return &SubscriptionService{
		repo:          repo,
		reminders:     reminders,
		entitlements:  entitlements,
		trendMonths:   trendMonths,
		upcomingLimit: upcomingLimit,
		now:           time.Now,
	}
}

// CreateInput carries the user-supplied fields for a new subscription.
type CreateInput struct {
	Name           string
	Amount         string
	Currency       string
	Frequency      string
	NextChargeDate time.Time
	Category       string
}

// Create validates the input, assigns identity, persists the subscription
// and schedules its reminder.
func (s *SubscriptionService) Create(ctx context.Context, in CreateInput) (core.Subscription, error) {
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Subscription{}, err
	}

	freq, ok := core.ParseBillingFrequency(in.Frequency)
	if !ok && in.Frequency != "" {
		return core.Subscription{}, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, in.Frequency)
	}
	category, ok := core.ParseCategory(in.Category)
	if !ok {
		slog.WarnContext(ctx, "Unknown category, falling back", "category", in.Category)
	}

	now := s.now()
	sub := core.Subscription{
		ID:             uuid.New(),
		Name:           in.Name,
		Amount:         amount,
		Currency:       in.Currency,
		Frequency:      freq,
		NextChargeDate: in.NextChargeDate,
		Category:       category,
		CreatedAt:      now,
		Active:         true,
	}
	if sub.Currency == "" {
		settings, err := s.repo.GetSettings(ctx)
		if err != nil {
			return core.Subscription{}, fmt.Errorf("load settings: %w", err)
		}
		sub.Currency = settings.Currency
	}
	if err := sub.Validate(); err != nil {
		return core.Subscription{}, err
	}

	if err := s.repo.InsertSubscription(ctx, sub); err != nil {
		return core.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	slog.InfoContext(ctx, "Subscription created",
		"subscription_id", sub.ID,
		"name", sub.Name,
		"frequency", sub.Frequency)

	if err := s.scheduleReminder(ctx, sub); err != nil {
		slog.ErrorContext(ctx, "Failed to schedule reminder", "subscription_id", sub.ID, "error", err)
	}
	return sub, nil
}

// Get returns a single subscription with its next-charge date rolled forward.
func (s *SubscriptionService) Get(ctx context.Context, id uuid.UUID) (core.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return core.Subscription{}, err
	}
	return s.advanceOne(ctx, sub), nil
}

// List returns all subscriptions, next charge soonest first, after rolling
// every stale active date forward and persisting the advance.
func (s *SubscriptionService) List(ctx context.Context) ([]core.Subscription, error) {
	subs, err := s.repo.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	for i := range subs {
		subs[i] = s.advanceOne(ctx, subs[i])
	}
	return subs, nil
}

// Update replaces the stored subscription and reschedules its reminder.
func (s *SubscriptionService) Update(ctx context.Context, sub core.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if err := s.scheduleReminder(ctx, sub); err != nil {
		slog.ErrorContext(ctx, "Failed to reschedule reminder", "subscription_id", sub.ID, "error", err)
	}
	return nil
}

// Cancel deactivates a subscription without deleting its history and drops
// its pending reminder.
func (s *SubscriptionService) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	slog.InfoContext(ctx, "Subscription cancelled", "subscription_id", id)
	return s.reminders.Cancel(ctx, id.String())
}

// Reactivate flips a cancelled subscription back on; the next list pass
// rolls its charge date forward before anything else sees it.
func (s *SubscriptionService) Reactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return fmt.Errorf("reactivate subscription: %w", err)
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.scheduleReminder(ctx, sub)
}

// Delete removes the subscription and its pending reminder.
func (s *SubscriptionService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	slog.InfoContext(ctx, "Subscription deleted", "subscription_id", id)
	return s.reminders.Cancel(ctx, id.String())
}

// Overview builds the spending summary from the current subscription set.
func (s *SubscriptionService) Overview(ctx context.Context) (core.Overview, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return core.Overview{}, err
	}
	return BuildOverview(subs, s.now(), s.upcomingLimit), nil
}

// Trend returns the month-by-month recurring spend series.
func (s *SubscriptionService) Trend(ctx context.Context) ([]core.TrendPoint, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return MonthlyTrend(subs, s.now(), s.trendMonths), nil
}

// Settings returns the stored user settings.
func (s *SubscriptionService) Settings(ctx context.Context) (core.Settings, error) {
	return s.repo.GetSettings(ctx)
}

// UpdateSettings persists the new settings and resyncs every reminder,
// because the reminder-day lead time applies globally and retroactively.
// Custom lead times beyond the default are a premium feature.
func (s *SubscriptionService) UpdateSettings(ctx context.Context, settings core.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	defaults := core.DefaultSettings()
	if settings.DefaultReminderDays != defaults.DefaultReminderDays && !s.entitlements.IsPro() {
		return fmt.Errorf("custom reminder lead time: %w", ErrProRequired)
	}

	current, err := s.repo.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	// entitlement projection is owned by the reconciler, never by callers
	settings.IsProUser = current.IsProUser

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return s.ResyncReminders(ctx)
}

// ResyncReminders rebuilds the pending reminder set from the current
// subscriptions and settings.
func (s *SubscriptionService) ResyncReminders(ctx context.Context) error {
	subs, err := s.List(ctx)
	if err != nil {
		return err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.NotificationsEnabled {
		slog.InfoContext(ctx, "Notifications disabled, clearing reminders")
		_, err := s.reminders.Resync(ctx, nil, settings.DefaultReminderDays, s.now())
		return err
	}
	_, err = s.reminders.Resync(ctx, subs, s.reminderDays(settings), s.now())
	return err
}

// advanceOne rolls a stale next-charge date forward and persists the new
// date. A capped advance keeps the stored date and flags the record; the
// caller still gets a usable subscription either way.
func (s *SubscriptionService) advanceOne(ctx context.Context, sub core.Subscription) core.Subscription {
	result := Advance(sub, s.now())
	if result.Faulted {
		slog.ErrorContext(ctx, "Next-charge advance capped, keeping stored date",
			"subscription_id", sub.ID,
			"next_charge", sub.NextChargeDate.Format("2006-01-02"))
		return sub
	}
	if result.Periods == 0 {
		return sub
	}
	if err := s.repo.UpdateNextChargeDate(ctx, sub.ID, result.NextChargeDate); err != nil {
		slog.ErrorContext(ctx, "Failed to persist advanced charge date",
			"subscription_id", sub.ID,
			"error", err)
		return sub
	}
	slog.InfoContext(ctx, "Advanced next charge date",
		"subscription_id", sub.ID,
		"periods", result.Periods,
		"next_charge", result.NextChargeDate.Format("2006-01-02"))
	sub.NextChargeDate = result.NextChargeDate
	return sub
}

func (s *SubscriptionService) scheduleReminder(ctx context.Context, sub core.Subscription) error {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.NotificationsEnabled {
		return nil
	}
	return s.reminders.Schedule(ctx, sub, s.reminderDays(settings), s.now())
}

// reminderDays clamps the lead time to the default for non-pro users, no
// matter what the stored settings say.
func (s *SubscriptionService) reminderDays(settings core.Settings) int {
	if s.entitlements.IsPro() {
		return settings.DefaultReminderDays
	}
	return core.DefaultSettings().DefaultReminderDays
}
