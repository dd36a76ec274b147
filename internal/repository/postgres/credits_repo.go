// internal/repository/postgres/credits_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"inkgen-service/internal/domain/credits"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// CreditsRepository persists credit wallets, their transaction ledger
// and API keys.
type CreditsRepository struct {
	db *DB
}

func NewCreditsRepository(db *DB) *CreditsRepository {
	return &CreditsRepository{db: db}
}

// GetOrCreateWallet returns the user's wallet, creating an empty one
// on first touch.
func (r *CreditsRepository) GetOrCreateWallet(ctx context.Context, userID int64) (*credits.Wallet, error) {
	query := `
		INSERT INTO credit_wallets (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO UPDATE SET last_updated = credit_wallets.last_updated
		RETURNING id, user_id, balance, last_updated
	`

	var w credits.Wallet
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &w, nil
}

// ApplyTransaction moves credits and appends the ledger row in one
// transaction. The wallet row is created on first touch, so a user who
// has never held credits debits like an empty wallet. Debits fail with
// ErrInvalidInput when the balance is insufficient.
func (r *CreditsRepository) ApplyTransaction(ctx context.Context, t *credits.Transaction) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The upsert takes the row lock for the rest of the transaction.
	var before int64
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_wallets (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO UPDATE SET last_updated = credit_wallets.last_updated
		RETURNING balance
	`, t.UserID).Scan(&before)
	if err != nil {
		return fmt.Errorf("failed to lock wallet: %w", err)
	}

	after := before + t.Amount
	if after < 0 {
		return xerrors.ErrInvalidInput
	}

	if _, err := tx.Exec(ctx,
		`UPDATE credit_wallets SET balance = $2, last_updated = NOW() WHERE user_id = $1`,
		t.UserID, after,
	); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	t.BalanceBefore = before
	t.BalanceAfter = after

	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (user_id, type, amount, balance_before, balance_after, description, reference_no)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, t.UserID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter, t.Description, t.ReferenceNo,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger row: %w", err)
	}

	return tx.Commit(ctx)
}

// ListTransactions returns the newest ledger rows for a user.
func (r *CreditsRepository) ListTransactions(ctx context.Context, userID int64, filters credits.TransactionHistoryFilters) ([]*credits.Transaction, error) {
	pageSize := filters.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}

	query := `
		SELECT id, user_id, type, amount, balance_before, balance_after, description, reference_no, created_at
		FROM credit_transactions
		WHERE user_id = $1 AND ($2::text IS NULL OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var typeFilter *string
	if filters.Type != nil {
		s := string(*filters.Type)
		typeFilter = &s
	}

	rows, err := r.db.Pool().Query(ctx, query, userID, typeFilter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var ts []*credits.Transaction
	for rows.Next() {
		var t credits.Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Description, &t.ReferenceNo, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		ts = append(ts, &t)
	}

	return ts, rows.Err()
}

// ========== API Keys ==========

func (r *CreditsRepository) CreateAPIKey(ctx context.Context, k *credits.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, key_prefix, key_hash, label, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(
		ctx, query,
		k.UserID, k.KeyPrefix, k.KeyHash, k.Label, k.Status,
	).Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

func (r *CreditsRepository) FindAPIKeyByHash(ctx context.Context, hash string) (*credits.APIKey, error) {
	query := `
		SELECT id, user_id, key_prefix, key_hash, label, status, last_used_at, revoked_at, created_at
		FROM api_keys
		WHERE key_hash = $1 AND status = 'active'
	`

	var k credits.APIKey
	err := r.db.Pool().QueryRow(ctx, query, hash).Scan(
		&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &k.Label, &k.Status,
		&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}

	return &k, nil
}

func (r *CreditsRepository) ListAPIKeys(ctx context.Context, userID int64) ([]*credits.APIKey, error) {
	query := `
		SELECT id, user_id, key_prefix, key_hash, label, status, last_used_at, revoked_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*credits.APIKey
	for rows.Next() {
		var k credits.APIKey
		if err := rows.Scan(
			&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &k.Label, &k.Status,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &k)
	}

	return keys, rows.Err()
}

func (r *CreditsRepository) RevokeAPIKey(ctx context.Context, userID, keyID int64) error {
	query := `
		UPDATE api_keys
		SET status = 'revoked', revoked_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'active'
	`

	tag, err := r.db.Pool().Exec(ctx, query, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// TouchAPIKey refreshes last_used_at, best-effort.
func (r *CreditsRepository) TouchAPIKey(ctx context.Context, keyID int64) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	return err
}
