// internal/domain/credits/entity.go
package credits

import (
	"database/sql"
	"time"
)

type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionGeneration  TransactionType = "generation"
	TransactionRefund      TransactionType = "refund"
	TransactionAdjustment  TransactionType = "adjustment"
	TransactionSignupBonus TransactionType = "signup_bonus"
)

type APIKeyStatus string

const (
	APIKeyActive  APIKeyStatus = "active"
	APIKeyRevoked APIKeyStatus = "revoked"
)

// Wallet holds a user's credit balance.
type Wallet struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	Balance     int64     `json:"balance" db:"balance"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Transaction records one credit movement; balances are append-derived.
type Transaction struct {
	ID            int64           `json:"id" db:"id"`
	UserID        int64           `json:"user_id" db:"user_id"`
	Type          TransactionType `json:"type" db:"type"`
	Amount        int64           `json:"amount" db:"amount"`
	BalanceBefore int64           `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64           `json:"balance_after" db:"balance_after"`
	Description   sql.NullString  `json:"description" db:"description"`
	ReferenceNo   sql.NullString  `json:"reference_no" db:"reference_no"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// APIKey is an opaque programmatic credential. Only the hash is stored;
// the plaintext key is shown once at issue time.
type APIKey struct {
	ID         int64        `json:"id" db:"id"`
	UserID     int64        `json:"user_id" db:"user_id"`
	KeyPrefix  string       `json:"key_prefix" db:"key_prefix"`
	KeyHash    string       `json:"-" db:"key_hash"`
	Label      string       `json:"label" db:"label"`
	Status     APIKeyStatus `json:"status" db:"status"`
	LastUsedAt sql.NullTime `json:"last_used_at" db:"last_used_at"`
	RevokedAt  sql.NullTime `json:"revoked_at" db:"revoked_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
