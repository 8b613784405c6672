package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"subsum/internal/core"
	"subsum/internal/export"
	"subsum/internal/services"
	"subsum/internal/storage"
)

type createSubscriptionRequest struct {
	Name           string `json:"name"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Frequency      string `json:"frequency"`
	NextChargeDate string `json:"next_charge_date"`
	Category       string `json:"category"`
}

type updateSubscriptionRequest struct {
	Name           string `json:"name"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Frequency      string `json:"frequency"`
	NextChargeDate string `json:"next_charge_date"`
	Category       string `json:"category"`
	Active         *bool  `json:"active"`
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.service.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List subscriptions failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionDTOs(subs, time.Now()))
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next, err := parseDate(req.NextChargeDate)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid next_charge_date, expected YYYY-MM-DD")
		return
	}

	sub, err := s.service.Create(r.Context(), services.CreateInput{
		Name:           strings.TrimSpace(req.Name),
		Amount:         req.Amount,
		Currency:       strings.TrimSpace(req.Currency),
		Frequency:      req.Frequency,
		NextChargeDate: next,
		Category:       req.Category,
	})
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Create subscription failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	s.structLog.LogSubscriptionCreated(r.Context(), sub.ID.String(), sub.Name, sub.Amount.String(), string(sub.Frequency))
	s.invalidateDerived()
	respondJSON(w, http.StatusCreated, toSubscriptionDTO(sub, time.Now()))
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := s.service.Get(r.Context(), id)
	if err != nil {
		respondStorageError(w, r, err, "get subscription")
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionDTO(sub, time.Now()))
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := s.service.Get(r.Context(), id)
	if err != nil {
		respondStorageError(w, r, err, "get subscription")
		return
	}

	if req.Name != "" {
		sub.Name = strings.TrimSpace(req.Name)
	}
	if req.Amount != "" {
		amount, err := core.ParseAmount(req.Amount)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid amount")
			return
		}
		sub.Amount = amount
	}
	if req.Currency != "" {
		sub.Currency = strings.TrimSpace(req.Currency)
	}
	if req.Frequency != "" {
		freq, ok := core.ParseBillingFrequency(req.Frequency)
		if !ok {
			respondError(w, http.StatusUnprocessableEntity, "invalid frequency")
			return
		}
		sub.Frequency = freq
	}
	if req.NextChargeDate != "" {
		next, err := parseDate(req.NextChargeDate)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid next_charge_date, expected YYYY-MM-DD")
			return
		}
		sub.NextChargeDate = next
	}
	if req.Category != "" {
		cat, ok := core.ParseCategory(req.Category)
		if !ok {
			slog.WarnContext(r.Context(), "Unknown category on update, falling back", "category", req.Category)
		}
		sub.Category = cat
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}

	if err := s.service.Update(r.Context(), sub); err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondStorageError(w, r, err, "update subscription")
		return
	}

	s.invalidateDerived()
	respondJSON(w, http.StatusOK, toSubscriptionDTO(sub, time.Now()))
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.Delete(r.Context(), id); err != nil {
		respondStorageError(w, r, err, "delete subscription")
		return
	}
	s.invalidateDerived()
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.Cancel(r.Context(), id); err != nil {
		respondStorageError(w, r, err, "cancel subscription")
		return
	}
	s.invalidateDerived()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.Reactivate(r.Context(), id); err != nil {
		respondStorageError(w, r, err, "reactivate subscription")
		return
	}
	s.invalidateDerived()
	respondJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

const (
	overviewCacheKey = "overview"
	trendCacheKey    = "trend"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.overviewCache.Get(overviewCacheKey); ok {
		respondJSON(w, http.StatusOK, toOverviewDTO(cached, time.Now()))
		return
	}

	overview, err := s.service.Overview(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Overview failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to build overview")
		return
	}
	s.overviewCache.Set(overviewCacheKey, overview)
	respondJSON(w, http.StatusOK, toOverviewDTO(overview, time.Now()))
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.trendCache.Get(trendCacheKey); ok {
		respondJSON(w, http.StatusOK, toTrendDTOs(cached))
		return
	}

	points, err := s.service.Trend(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Trend failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to build trend")
		return
	}
	s.trendCache.Set(trendCacheKey, points)
	respondJSON(w, http.StatusOK, toTrendDTOs(points))
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	subs, err := s.service.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Export failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to export subscriptions")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="subscriptions.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(export.CSV(subs)))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.service.Settings(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Get settings failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, toSettingsDTO(settings))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.service.UpdateSettings(r.Context(), req.toSettings()); err != nil {
		if errors.Is(err, services.ErrProRequired) {
			respondError(w, http.StatusForbidden, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Update settings failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}

	settings, err := s.service.Settings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, toSettingsDTO(settings))
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"state":  string(s.reconciler.State()),
		"is_pro": s.reconciler.IsPro(),
	})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	catalog, loading := s.reconciler.Catalog()

	type productDTO struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Price       string `json:"price"`
		Currency    string `json:"currency"`
	}
	products := make([]productDTO, 0, len(catalog))
	for _, p := range catalog {
		products = append(products, productDTO{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Price:       p.Price.String(),
			Currency:    p.Currency,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"loading":  loading,
	})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := s.reconciler.Purchase(r.Context(), req.ProductID)
	if err != nil {
		if strings.Contains(err.Error(), "unknown product") {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Purchase failed", "product_id", req.ProductID, "error", err)
		respondError(w, http.StatusBadGateway, "purchase failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"outcome": string(outcome),
		"is_pro":  s.reconciler.IsPro(),
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if !s.restoreEnabled {
		respondError(w, http.StatusGone, "restore is not available for this deployment")
		return
	}
	if err := s.reconciler.Restore(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Restore failed", "error", err)
		respondError(w, http.StatusBadGateway, "restore failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"is_pro": s.reconciler.IsPro()})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return uuid.UUID{}, false
	}
	return id, true
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
}

func respondStorageError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}
	slog.ErrorContext(r.Context(), "Storage operation failed", "operation", op, "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func isValidationError(err error) bool {
	return errors.Is(err, core.ErrInvalidAmount) ||
		errors.Is(err, core.ErrEmptyName) ||
		errors.Is(err, core.ErrInvalidFrequency) ||
		errors.Is(err, core.ErrInvalidCategory) ||
		errors.Is(err, core.ErrZeroChargeDate)
}
