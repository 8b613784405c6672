// Package store defines the ports for the commerce store collaborator.
//
// The store delivers purchase outcomes synchronously and transaction updates
// asynchronously; both carry a verification flag set by the platform. Only
// verified transactions may ever grant entitlement.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOutcome is the store's answer to a purchase request.
type PurchaseOutcome string

const (
	OutcomeSuccess       PurchaseOutcome = "success"
	OutcomeUserCancelled PurchaseOutcome = "userCancelled"
	OutcomePending       PurchaseOutcome = "pending"
)

type (
	// Product is a purchasable premium offer.
	Product struct {
		ID          string
		DisplayName string
		Price       decimal.Decimal
		Currency    string
	}

	// Transaction is a purchase record as reported by the store. Verified
	// is false for records whose signature the platform could not check.
	Transaction struct {
		ID          string
		ProductID   string
		Verified    bool
		PurchasedAt time.Time
	}

	// PurchaseResult pairs the outcome with the transaction, present only
	// on success.
	PurchaseResult struct {
		Outcome     PurchaseOutcome
		Transaction *Transaction
	}

	// Store is the outbound port to the commerce platform.
	Store interface {
		// Products looks up the offer catalog for the given product ids.
		Products(ctx context.Context, ids []string) ([]Product, error)

		// CurrentEntitlements returns the transactions the platform
		// currently considers owned, verified or not.
		CurrentEntitlements(ctx context.Context) ([]Transaction, error)

		// Purchase runs the purchase flow for one product.
		Purchase(ctx context.Context, productID string) (PurchaseResult, error)

		// Finish acknowledges a processed transaction with the store.
		Finish(ctx context.Context, transactionID string) error

		// Sync asks the platform to refresh its entitlement records
		// (user-triggered restore).
		Sync(ctx context.Context) error
	}
)
