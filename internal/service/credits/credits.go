// internal/service/credits/credits.go
package credits

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"inkgen-service/internal/domain/credits"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// KeyPrefix marks a bearer credential as an API key rather than a JWT.
const KeyPrefix = "ik_"

// Store is the persistence contract, implemented by
// postgres.CreditsRepository.
type Store interface {
	GetOrCreateWallet(ctx context.Context, userID int64) (*credits.Wallet, error)
	ApplyTransaction(ctx context.Context, t *credits.Transaction) error
	ListTransactions(ctx context.Context, userID int64, filters credits.TransactionHistoryFilters) ([]*credits.Transaction, error)
	CreateAPIKey(ctx context.Context, k *credits.APIKey) error
	FindAPIKeyByHash(ctx context.Context, hash string) (*credits.APIKey, error)
	ListAPIKeys(ctx context.Context, userID int64) ([]*credits.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID int64) error
	TouchAPIKey(ctx context.Context, keyID int64) error
}

// CreditsService manages wallets, credit movements and API keys.
type CreditsService struct {
	repo        Store
	signupBonus int64
	logger      *zap.Logger
}

// NewCreditsService builds the service. signupBonus is the starting
// balance granted to every new account; zero disables the grant.
func NewCreditsService(repo Store, signupBonus int64, logger *zap.Logger) *CreditsService {
	return &CreditsService{repo: repo, signupBonus: signupBonus, logger: logger}
}

// GetWallet returns the balance snapshot, creating the wallet lazily.
func (s *CreditsService) GetWallet(ctx context.Context, userID int64) (*credits.WalletSummary, error) {
	w, err := s.repo.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &credits.WalletSummary{Balance: w.Balance, LastUpdated: w.LastUpdated}, nil
}

// ChargeGeneration debits the weighted cost of one generation request.
// An insufficient balance surfaces as ErrInvalidInput from the
// repository's non-negative balance check.
func (s *CreditsService) ChargeGeneration(ctx context.Context, userID int64, weight int, moduleID string) error {
	t := &credits.Transaction{
		UserID: userID,
		Type:   credits.TransactionGeneration,
		Amount: -int64(weight),
	}
	t.Description.String, t.Description.Valid = fmt.Sprintf("generation: %s", moduleID), true

	if err := s.repo.ApplyTransaction(ctx, t); err != nil {
		return err
	}
	return nil
}

// Credit adds purchased or adjusted credits to the wallet.
func (s *CreditsService) Credit(ctx context.Context, userID, amount int64, typ credits.TransactionType, description, referenceNo string) (*credits.Transaction, error) {
	if amount <= 0 {
		return nil, xerrors.ErrInvalidInput
	}

	t := &credits.Transaction{
		UserID: userID,
		Type:   typ,
		Amount: amount,
	}
	t.Description.String, t.Description.Valid = description, description != ""
	t.ReferenceNo.String, t.ReferenceNo.Valid = referenceNo, referenceNo != ""

	if err := s.repo.ApplyTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GrantSignupBonus funds a freshly registered account with its
// starting credits. A zero bonus is a no-op.
func (s *CreditsService) GrantSignupBonus(ctx context.Context, userID int64) error {
	if s.signupBonus <= 0 {
		return nil
	}
	_, err := s.Credit(ctx, userID, s.signupBonus, credits.TransactionSignupBonus, "signup bonus", "")
	return err
}

// ListTransactions pages through the user's credit history.
func (s *CreditsService) ListTransactions(ctx context.Context, userID int64, filters credits.TransactionHistoryFilters) ([]*credits.Transaction, error) {
	if filters.PageSize <= 0 {
		filters.PageSize = 20
	}
	return s.repo.ListTransactions(ctx, userID, filters)
}

// CreateAPIKey mints a new programmatic key. The plaintext is returned
// exactly once; only its SHA-256 digest is stored.
func (s *CreditsService) CreateAPIKey(ctx context.Context, userID int64, req *credits.CreateAPIKeyRequest) (*credits.CreateAPIKeyResponse, error) {
	plaintext, err := newAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	k := &credits.APIKey{
		UserID:    userID,
		KeyPrefix: plaintext[:len(KeyPrefix)+8],
		KeyHash:   HashAPIKey(plaintext),
		Label:     req.Label,
		Status:    credits.APIKeyActive,
	}
	if err := s.repo.CreateAPIKey(ctx, k); err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}

	return &credits.CreateAPIKeyResponse{
		Key:    plaintext,
		KeyID:  k.ID,
		Prefix: k.KeyPrefix,
		Label:  k.Label,
	}, nil
}

// ListAPIKeys returns the user's keys, hashes excluded by the entity.
func (s *CreditsService) ListAPIKeys(ctx context.Context, userID int64) ([]*credits.APIKey, error) {
	return s.repo.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey disables a key. Revocation is permanent.
func (s *CreditsService) RevokeAPIKey(ctx context.Context, userID, keyID int64) error {
	return s.repo.RevokeAPIKey(ctx, userID, keyID)
}

// ResolveAPIKey looks up an active key by its plaintext and records the
// use. Unknown or revoked keys return ErrUnauthorized.
func (s *CreditsService) ResolveAPIKey(ctx context.Context, plaintext string) (*credits.APIKey, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return nil, xerrors.ErrUnauthorized
	}

	k, err := s.repo.FindAPIKeyByHash(ctx, HashAPIKey(plaintext))
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrUnauthorized
		}
		return nil, err
	}
	if k.Status != credits.APIKeyActive {
		return nil, xerrors.ErrUnauthorized
	}

	if err := s.repo.TouchAPIKey(ctx, k.ID); err != nil {
		s.logger.Warn("failed to record api key use", zap.Int64("key_id", k.ID), zap.Error(err))
	}
	return k, nil
}

// HashAPIKey is the at-rest digest of a plaintext key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func newAPIKey() (string, error) {
	tail := make([]byte, 18)
	if _, err := rand.Read(tail); err != nil {
		return "", err
	}
	return KeyPrefix + ulid.Make().String() + base64.RawURLEncoding.EncodeToString(tail), nil
}
