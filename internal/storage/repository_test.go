package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subsum/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "subsum.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testSubscription(name string, next time.Time) core.Subscription {
	return core.Subscription{
		ID:             uuid.New(),
		Name:           name,
		Amount:         decimal.RequireFromString("15.99"),
		Currency:       "USD",
		Frequency:      core.Monthly,
		NextChargeDate: next,
		Category:       core.CategoryStreaming,
		CreatedAt:      time.Date(2025, 1, 2, 10, 30, 0, 0, time.UTC),
		Active:         true,
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	next := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	want := testSubscription("Netflix", next)
	if err := repo.InsertSubscription(ctx, want); err != nil {
		t.Fatalf("InsertSubscription() error: %v", err)
	}

	got, err := repo.GetSubscription(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetSubscription() error: %v", err)
	}
	if got.ID != want.ID || got.Name != want.Name || got.Currency != want.Currency {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.Amount.Equal(want.Amount) {
		t.Errorf("amount = %s, want %s", got.Amount, want.Amount)
	}
	if got.Frequency != core.Monthly || got.Category != core.CategoryStreaming {
		t.Errorf("enums mangled: %v %v", got.Frequency, got.Category)
	}
	if !got.NextChargeDate.Equal(next) {
		t.Errorf("next charge = %s, want %s", got.NextChargeDate, next)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created at = %s, want %s", got.CreatedAt, want.CreatedAt)
	}
	if !got.Active {
		t.Errorf("active flag lost")
	}
}

func TestListOrdersByNextCharge(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	later := testSubscription("Later", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	sooner := testSubscription("Sooner", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	for _, s := range []core.Subscription{later, sooner} {
		if err := repo.InsertSubscription(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := repo.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions() error: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subscriptions, want 2", len(subs))
	}
	if subs[0].Name != "Sooner" || subs[1].Name != "Later" {
		t.Errorf("order = [%s %s], want [Sooner Later]", subs[0].Name, subs[1].Name)
	}
}

func TestUpdateNextChargeAndActive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	sub := testSubscription("Gym", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	if err := repo.InsertSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	next := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateNextChargeDate(ctx, sub.ID, next); err != nil {
		t.Fatalf("UpdateNextChargeDate() error: %v", err)
	}
	if err := repo.SetActive(ctx, sub.ID, false); err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}

	got, err := repo.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextChargeDate.Equal(next) {
		t.Errorf("next charge = %s, want %s", got.NextChargeDate, next)
	}
	if got.Active {
		t.Errorf("active flag not cleared")
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	sub := testSubscription("Short lived", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	if err := repo.InsertSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription() error: %v", err)
	}

	if _, err := repo.GetSubscription(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSubscription() error = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteSubscription(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateNextChargeDate(ctx, uuid.New(), time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing row error = %v, want ErrNotFound", err)
	}
}

func TestSettingsSeededOnFirstRead(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	got, err := repo.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error: %v", err)
	}
	if got != core.DefaultSettings() {
		t.Errorf("first read = %+v, want defaults", got)
	}

	got.Currency = "EUR"
	got.DefaultReminderDays = 3
	got.IsProUser = true
	if err := repo.SaveSettings(ctx, got); err != nil {
		t.Fatalf("SaveSettings() error: %v", err)
	}

	again, err := repo.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != got {
		t.Errorf("round trip = %+v, want %+v", again, got)
	}
}
