// internal/domain/credits/dto.go
package credits

import "time"

// WalletSummary is the balance snapshot for UI display.
type WalletSummary struct {
	Balance     int64     `json:"balance"`
	LastUpdated time.Time `json:"last_updated"`
}

// CreateAPIKeyRequest for issuing a new key.
type CreateAPIKeyRequest struct {
	Label string `json:"label" binding:"required,max=64"`
}

// CreateAPIKeyResponse returns the plaintext key exactly once.
type CreateAPIKeyResponse struct {
	Key    string `json:"key"`
	KeyID  int64  `json:"key_id"`
	Prefix string `json:"prefix"`
	Label  string `json:"label"`
}

// GrantCreditsRequest is the admin top-up payload.
type GrantCreditsRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description" binding:"max=256"`
	ReferenceNo string `json:"reference_no" binding:"max=64"`
}

// TransactionHistoryFilters for listing credit movements.
type TransactionHistoryFilters struct {
	Type     *TransactionType `form:"type"`
	Page     int              `form:"page" binding:"min=0"`
	PageSize int              `form:"page_size" binding:"min=0,max=100"`
}
