package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit  = "deposit"
	TransactionTypeTransfer = "transfer"

	TransactionStatusPending = "pending"
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

type User struct {
	ID        uuid.UUID
	Email     string
	GoogleID  string
	Name      string
	Picture   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wallet holds a user's balance. WalletNumber is the externally shareable
// transfer target, distinct from the internal id.
type Wallet struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	WalletNumber string
	Balance      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Transaction struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	Reference             string
	Type                  string
	Amount                decimal.Decimal
	Status                string
	RecipientWalletNumber *string
	RecipientUserID       *uuid.UUID
	GatewayReference      *string
	AuthorizationURL      *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type APIKey struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	KeyHash     string
	KeyPrefix   string
	Permissions []string
	IsActive    bool
	IsRevoked   bool
	ExpiresAt   time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveAt reports whether the key counts against the per-user quota.
func (k APIKey) ActiveAt(now time.Time) bool {
	return k.IsActive && !k.IsRevoked && k.ExpiresAt.After(now.UTC())
}

// WebhookOutcome is the result of one webhook delivery applied to the ledger.
type WebhookOutcome struct {
	Processed        bool
	AlreadyProcessed bool
	Transaction      *Transaction
	WalletNumber     string
}
