package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subsum/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339
)

// SQLiteRepository persists subscriptions and settings in a local SQLite
// file. Amounts are stored as decimal strings, never floats, and charge
// dates as plain dates so ordering works lexicographically.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const subscriptionColumns = "id, name, amount, currency, frequency, next_charge, category, created_at, is_active"

// ListSubscriptions returns every subscription, next charge soonest first.
func (r *SQLiteRepository) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions ORDER BY next_charge, name COLLATE NOCASE")
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []core.Subscription
	for rows.Next() {
		sub, err := scanSubscription(ctx, rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// GetSubscription looks up one subscription by id.
func (r *SQLiteRepository) GetSubscription(ctx context.Context, id uuid.UUID) (core.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id.String())
	sub, err := scanSubscription(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return sub, err
}

// InsertSubscription stores a new subscription.
func (r *SQLiteRepository) InsertSubscription(ctx context.Context, sub core.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID.String(),
		sub.Name,
		sub.Amount.String(),
		sub.Currency,
		string(sub.Frequency),
		sub.NextChargeDate.Format(dateLayout),
		string(sub.Category),
		sub.CreatedAt.Format(timeLayout),
		boolToInt(sub.Active),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription replaces the mutable fields of a stored subscription.
func (r *SQLiteRepository) UpdateSubscription(ctx context.Context, sub core.Subscription) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET name = ?, amount = ?, currency = ?, frequency = ?, next_charge = ?, category = ?, is_active = ?
		 WHERE id = ?`,
		sub.Name,
		sub.Amount.String(),
		sub.Currency,
		string(sub.Frequency),
		sub.NextChargeDate.Format(dateLayout),
		string(sub.Category),
		boolToInt(sub.Active),
		sub.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return requireRow(res, sub.ID)
}

// UpdateNextChargeDate moves one subscription's next charge forward.
func (r *SQLiteRepository) UpdateNextChargeDate(ctx context.Context, id uuid.UUID, next time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE subscriptions SET next_charge = ? WHERE id = ?",
		next.Format(dateLayout), id.String())
	if err != nil {
		return fmt.Errorf("update next charge: %w", err)
	}
	return requireRow(res, id)
}

// SetActive flips the active flag without touching anything else.
func (r *SQLiteRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE subscriptions SET is_active = ? WHERE id = ?",
		boolToInt(active), id.String())
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return requireRow(res, id)
}

// DeleteSubscription removes a subscription permanently.
func (r *SQLiteRepository) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return requireRow(res, id)
}

// GetSettings returns the singleton settings row, seeding the defaults on
// first access.
func (r *SQLiteRepository) GetSettings(ctx context.Context) (core.Settings, error) {
	var s core.Settings
	var isPro, biometric, notifications, onboarded int
	err := r.db.QueryRowContext(ctx,
		`SELECT currency, default_reminder_days, is_pro_user, biometric_lock_enabled,
		        notifications_enabled, has_completed_onboarding
		 FROM settings WHERE id = 1`).
		Scan(&s.Currency, &s.DefaultReminderDays, &isPro, &biometric, &notifications, &onboarded)
	if errors.Is(err, sql.ErrNoRows) {
		defaults := core.DefaultSettings()
		if err := r.SaveSettings(ctx, defaults); err != nil {
			return core.Settings{}, fmt.Errorf("seed default settings: %w", err)
		}
		return defaults, nil
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("query settings: %w", err)
	}

	s.IsProUser = isPro != 0
	s.BiometricLockEnabled = biometric != 0
	s.NotificationsEnabled = notifications != 0
	s.HasCompletedOnboarding = onboarded != 0
	return s, nil
}

// SaveSettings upserts the singleton settings row.
func (r *SQLiteRepository) SaveSettings(ctx context.Context, s core.Settings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (id, currency, default_reminder_days, is_pro_user,
		                       biometric_lock_enabled, notifications_enabled, has_completed_onboarding)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     currency = excluded.currency,
		     default_reminder_days = excluded.default_reminder_days,
		     is_pro_user = excluded.is_pro_user,
		     biometric_lock_enabled = excluded.biometric_lock_enabled,
		     notifications_enabled = excluded.notifications_enabled,
		     has_completed_onboarding = excluded.has_completed_onboarding`,
		s.Currency,
		s.DefaultReminderDays,
		boolToInt(s.IsProUser),
		boolToInt(s.BiometricLockEnabled),
		boolToInt(s.NotificationsEnabled),
		boolToInt(s.HasCompletedOnboarding),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSubscription decodes one row. Unknown enum values fall back with a
// warning instead of failing the whole read, so a downgrade never bricks
// the stored data.
func scanSubscription(ctx context.Context, row rowScanner) (core.Subscription, error) {
	var (
		idStr, amountStr, freqStr, nextStr, catStr, createdStr string
		sub                                                    core.Subscription
		active                                                 int
	)
	if err := row.Scan(&idStr, &sub.Name, &amountStr, &sub.Currency, &freqStr,
		&nextStr, &catStr, &createdStr, &active); err != nil {
		return core.Subscription{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("parse subscription id %q: %w", idStr, err)
	}
	sub.ID = id

	sub.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("parse amount %q: %w", amountStr, err)
	}

	var ok bool
	sub.Frequency, ok = core.ParseBillingFrequency(freqStr)
	if !ok {
		slog.WarnContext(ctx, "Unknown stored frequency, falling back",
			"subscription_id", idStr, "frequency", freqStr)
	}
	sub.Category, ok = core.ParseCategory(catStr)
	if !ok {
		slog.WarnContext(ctx, "Unknown stored category, falling back",
			"subscription_id", idStr, "category", catStr)
	}

	sub.NextChargeDate, err = time.ParseInLocation(dateLayout, nextStr, time.UTC)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("parse next charge %q: %w", nextStr, err)
	}
	sub.CreatedAt, err = time.Parse(timeLayout, createdStr)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("parse created at %q: %w", createdStr, err)
	}

	sub.Active = active != 0
	return sub, nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
