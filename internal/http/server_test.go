package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subsum/internal/core"
	notifymem "subsum/internal/notify/memory"
	"subsum/internal/services"
	"subsum/internal/storage"
	"subsum/internal/store"
	storemem "subsum/internal/store/memory"
)

var testProducts = services.ProductIDs{Monthly: "com.subsum.pro.monthly", Yearly: "com.subsum.pro.yearly"}

// repoMem is an in-memory services.Repository backing the handler tests.
type repoMem struct {
	mu       sync.Mutex
	subs     map[uuid.UUID]core.Subscription
	settings core.Settings
}

func newRepoMem() *repoMem {
	return &repoMem{
		subs:     make(map[uuid.UUID]core.Subscription),
		settings: core.DefaultSettings(),
	}
}

func (r *repoMem) ListSubscriptions(context.Context) ([]core.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out, nil
}

func (r *repoMem) GetSubscription(_ context.Context, id uuid.UUID) (core.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return core.Subscription{}, storage.ErrNotFound
	}
	return s, nil
}

func (r *repoMem) InsertSubscription(_ context.Context, sub core.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	return nil
}

func (r *repoMem) UpdateSubscription(_ context.Context, sub core.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return storage.ErrNotFound
	}
	r.subs[sub.ID] = sub
	return nil
}

func (r *repoMem) UpdateNextChargeDate(_ context.Context, id uuid.UUID, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.NextChargeDate = next
	r.subs[id] = s
	return nil
}

func (r *repoMem) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Active = active
	r.subs[id] = s
	return nil
}

func (r *repoMem) DeleteSubscription(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *repoMem) GetSettings(context.Context) (core.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings, nil
}

func (r *repoMem) SaveSettings(_ context.Context, settings core.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	return nil
}

type testEnv struct {
	server *Server
	repo   *repoMem
	store  *storemem.Store
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	repo := newRepoMem()
	st := storemem.NewStore()
	scheduler := notifymem.NewScheduler()
	reconciler := services.NewReconciler(st, repo, testProducts)
	svc := services.NewSubscriptionService(repo, services.NewReminderPolicy(scheduler), reconciler, 6, 5)

	s := NewServer("127.0.0.1:0", svc, reconciler)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return &testEnv{server: s, repo: repo, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestServer(t)

	created := env.do(t, http.MethodPost, "/subscriptions",
		`{"name":"Netflix","amount":"15.99","frequency":"monthly","next_charge_date":"2099-07-01","category":"streaming"}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", created.Code, created.Body)
	}
	dto := decodeBody[subscriptionDTO](t, created)
	if dto.Currency != "USD" {
		t.Errorf("currency = %q, want default USD", dto.Currency)
	}
	if dto.MonthlyAmount != "15.99" {
		t.Errorf("monthly_amount = %q, want 15.99", dto.MonthlyAmount)
	}

	got := env.do(t, http.MethodGet, "/subscriptions/"+dto.ID, "")
	if got.Code != http.StatusOK {
		t.Fatalf("get status = %d", got.Code)
	}

	updated := env.do(t, http.MethodPut, "/subscriptions/"+dto.ID, `{"amount":"19.99","name":"Netflix Premium"}`)
	if updated.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", updated.Code, updated.Body)
	}
	udto := decodeBody[subscriptionDTO](t, updated)
	if udto.Amount != "19.99" || udto.Name != "Netflix Premium" {
		t.Errorf("update result = %+v", udto)
	}

	cancelled := env.do(t, http.MethodPost, "/subscriptions/"+dto.ID+"/cancel", "")
	if cancelled.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", cancelled.Code)
	}
	after := env.do(t, http.MethodGet, "/subscriptions/"+dto.ID, "")
	if adto := decodeBody[subscriptionDTO](t, after); adto.Active {
		t.Error("subscription still active after cancel")
	}

	deleted := env.do(t, http.MethodDelete, "/subscriptions/"+dto.ID, "")
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", deleted.Code)
	}
	if missing := env.do(t, http.MethodGet, "/subscriptions/"+dto.ID, ""); missing.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", missing.Code)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"bad date", `{"name":"X","amount":"5","next_charge_date":"tomorrow"}`, http.StatusUnprocessableEntity},
		{"bad amount", `{"name":"X","amount":"free","next_charge_date":"2099-07-01"}`, http.StatusUnprocessableEntity},
		{"empty name", `{"name":" ","amount":"5","next_charge_date":"2099-07-01"}`, http.StatusUnprocessableEntity},
		{"bad frequency", `{"name":"X","amount":"5","frequency":"daily","next_charge_date":"2099-07-01"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/subscriptions", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestPathIDValidation(t *testing.T) {
	env := newTestServer(t)

	if w := env.do(t, http.MethodGet, "/subscriptions/not-a-uuid", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/subscriptions/"+uuid.NewString(), ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}

func TestOverviewReflectsMutations(t *testing.T) {
	env := newTestServer(t)

	empty := env.do(t, http.MethodGet, "/overview", "")
	if empty.Code != http.StatusOK {
		t.Fatalf("overview status = %d", empty.Code)
	}
	if dto := decodeBody[overviewDTO](t, empty); dto.MonthlyTotal != "0" {
		t.Errorf("empty overview monthly_total = %q", dto.MonthlyTotal)
	}

	// second read is served from cache and must match
	cached := env.do(t, http.MethodGet, "/overview", "")
	if dto := decodeBody[overviewDTO](t, cached); dto.MonthlyTotal != "0" {
		t.Errorf("cached overview monthly_total = %q", dto.MonthlyTotal)
	}

	create := env.do(t, http.MethodPost, "/subscriptions",
		`{"name":"Spotify","amount":"9.99","frequency":"monthly","next_charge_date":"2099-07-01","category":"music"}`)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", create.Code, create.Body)
	}

	fresh := env.do(t, http.MethodGet, "/overview", "")
	dto := decodeBody[overviewDTO](t, fresh)
	if dto.MonthlyTotal != "9.99" {
		t.Errorf("overview monthly_total after create = %q, want 9.99", dto.MonthlyTotal)
	}
	if dto.YearlyProjection != "119.88" {
		t.Errorf("yearly_projection = %q, want 119.88", dto.YearlyProjection)
	}
}

func TestTrendEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/trend", "")
	if w.Code != http.StatusOK {
		t.Fatalf("trend status = %d", w.Code)
	}
	points := decodeBody[[]trendPointDTO](t, w)
	if len(points) != 6 {
		t.Errorf("trend points = %d, want 6", len(points))
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestServer(t)

	env.do(t, http.MethodPost, "/subscriptions",
		`{"name":"Netflix","amount":"15.99","frequency":"monthly","next_charge_date":"2099-07-01","category":"streaming"}`)
	w := env.do(t, http.MethodPost, "/subscriptions",
		`{"name":"Old Gym","amount":"25","frequency":"monthly","next_charge_date":"2099-07-01","category":"fitness"}`)
	cancelled := decodeBody[subscriptionDTO](t, w)
	env.do(t, http.MethodPost, "/subscriptions/"+cancelled.ID+"/cancel", "")

	w = env.do(t, http.MethodGet, "/export.csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content-type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if lines[0] != "Name,Amount,Currency,Frequency,Next Charge,Category" {
		t.Errorf("header line = %q", lines[0])
	}
	if len(lines) != 2 || !strings.Contains(lines[1], "Netflix") {
		t.Errorf("export body = %q", w.Body.String())
	}
}

func TestSettingsProGate(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPut, "/settings",
		`{"currency":"EUR","default_reminder_days":5,"notifications_enabled":true}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("custom lead time without pro = %d, want 403", w.Code)
	}

	w = env.do(t, http.MethodPut, "/settings",
		`{"currency":"EUR","default_reminder_days":1,"notifications_enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("settings update status = %d, body = %s", w.Code, w.Body)
	}
	dto := decodeBody[settingsDTO](t, w)
	if dto.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", dto.Currency)
	}
}

func TestSettingsCannotGrantEntitlement(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPut, "/settings",
		`{"currency":"USD","default_reminder_days":1,"notifications_enabled":true,"is_pro_user":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("settings update status = %d, body = %s", w.Code, w.Body)
	}
	if dto := decodeBody[settingsDTO](t, w); dto.IsProUser {
		t.Error("settings update must not grant pro")
	}
}

func TestEntitlementEndpoints(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/entitlement", "")
	state := decodeBody[map[string]any](t, w)
	if state["state"] != "unknown" || state["is_pro"] != false {
		t.Errorf("initial entitlement = %v", state)
	}

	env.store.SetPurchaseResult(store.PurchaseResult{
		Outcome:     store.OutcomeSuccess,
		Transaction: &store.Transaction{ID: "tx-1", Verified: true, PurchasedAt: time.Now()},
	})
	w = env.do(t, http.MethodPost, "/entitlement/purchase", `{"product_id":"com.subsum.pro.monthly"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("purchase status = %d, body = %s", w.Code, w.Body)
	}
	result := decodeBody[map[string]any](t, w)
	if result["outcome"] != "success" || result["is_pro"] != true {
		t.Errorf("purchase result = %v", result)
	}

	w = env.do(t, http.MethodPost, "/entitlement/purchase", `{"product_id":"com.other.app"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown product status = %d, want 400", w.Code)
	}

	env.store.SetEntitlements([]store.Transaction{
		{ID: "tx-1", ProductID: testProducts.Monthly, Verified: true, PurchasedAt: time.Now()},
	})
	w = env.do(t, http.MethodPost, "/entitlement/restore", "")
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d", w.Code)
	}
	if result := decodeBody[map[string]any](t, w); result["is_pro"] != true {
		t.Errorf("restore result = %v", result)
	}
}

func TestRestoreDisabledKeepsProjection(t *testing.T) {
	env := newTestServer(t)
	env.server.DisableRestore()

	// pro granted through the transaction stream, as in a deployment whose
	// commerce backend cannot be queried
	tx := store.Transaction{ID: "tx-1", ProductID: testProducts.Monthly, Verified: true, PurchasedAt: time.Now()}
	if err := env.server.reconciler.HandleTransaction(context.Background(), tx); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/entitlement/restore", "")
	if w.Code != http.StatusGone {
		t.Fatalf("restore status = %d, want 410", w.Code)
	}

	w = env.do(t, http.MethodGet, "/entitlement", "")
	if state := decodeBody[map[string]any](t, w); state["is_pro"] != true {
		t.Errorf("entitlement after blocked restore = %v", state)
	}
	settings, err := env.repo.GetSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !settings.IsProUser {
		t.Error("persisted projection lost")
	}
}

func TestProductsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.store.SetProducts([]store.Product{
		{ID: testProducts.Monthly, DisplayName: "Pro Monthly", Price: decimal.RequireFromString("2.99"), Currency: "USD"},
	})

	w := env.do(t, http.MethodGet, "/entitlement/products", "")
	first := decodeBody[map[string]any](t, w)
	if products, _ := first["products"].([]any); len(products) != 0 {
		t.Errorf("catalog before load = %v", first)
	}

	env.server.reconciler.LoadProducts(context.Background())
	w = env.do(t, http.MethodGet, "/entitlement/products", "")
	second := decodeBody[map[string]any](t, w)
	products, _ := second["products"].([]any)
	if second["loading"] != false || len(products) != 1 {
		t.Errorf("catalog = %v", second)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	env := newTestServer(t)

	var last int
	for i := 0; i < 61; i++ {
		w := env.do(t, http.MethodPost, "/subscriptions", `{`)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("61st mutation status = %d, want 429", last)
	}

	// reads are never limited
	if w := env.do(t, http.MethodGet, "/subscriptions", ""); w.Code != http.StatusOK {
		t.Errorf("read status = %d after limit", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/subscriptions", "")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestServer(t)

	if w := env.do(t, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}
}
