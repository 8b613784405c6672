// Package memory provides an in-memory store.Store used by tests and local
// runs without a commerce backend.
package memory

import (
	"context"
	"errors"
	"sync"

	"subsum/internal/store"
)

type Store struct {
	mu           sync.Mutex
	products     []store.Product
	entitlements []store.Transaction
	purchase     store.PurchaseResult
	finished     []string

	// Err fields force failures for specific calls.
	ProductsErr     error
	EntitlementsErr error
	PurchaseErr     error
	SyncErr         error
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{}
}

// SetProducts seeds the offer catalog.
func (s *Store) SetProducts(products []store.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = products
}

// SetEntitlements seeds the current-entitlement records.
func (s *Store) SetEntitlements(txs []store.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlements = txs
}

// SetPurchaseResult sets the canned answer for the next Purchase call.
func (s *Store) SetPurchaseResult(r store.PurchaseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchase = r
}

// Finished returns the transaction ids acknowledged so far, in order.
func (s *Store) Finished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.finished))
	copy(out, s.finished)
	return out
}

func (s *Store) Products(_ context.Context, ids []string) ([]store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProductsErr != nil {
		return nil, s.ProductsErr
	}
	var out []store.Product
	for _, p := range s.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (s *Store) CurrentEntitlements(_ context.Context) ([]store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EntitlementsErr != nil {
		return nil, s.EntitlementsErr
	}
	out := make([]store.Transaction, len(s.entitlements))
	copy(out, s.entitlements)
	return out, nil
}

func (s *Store) Purchase(_ context.Context, productID string) (store.PurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PurchaseErr != nil {
		return store.PurchaseResult{}, s.PurchaseErr
	}
	if s.purchase.Outcome == "" {
		return store.PurchaseResult{}, errors.New("no purchase result configured")
	}
	r := s.purchase
	if r.Transaction != nil && r.Transaction.ProductID == "" {
		tx := *r.Transaction
		tx.ProductID = productID
		r.Transaction = &tx
	}
	return r, nil
}

func (s *Store) Finish(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, transactionID)
	return nil
}

func (s *Store) Sync(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SyncErr
}
