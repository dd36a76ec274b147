package credits

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"inkgen-service/internal/domain/credits"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memCreditsStore mirrors the repository's transactional semantics: the
// wallet row is created on first touch, and a rejected debit leaves no
// trace behind.
type memCreditsStore struct {
	mu      sync.Mutex
	nextID  int64
	wallets map[int64]*credits.Wallet
	ledger  []*credits.Transaction
	keys    map[int64]*credits.APIKey
}

func newMemCreditsStore() *memCreditsStore {
	return &memCreditsStore{
		wallets: make(map[int64]*credits.Wallet),
		keys:    make(map[int64]*credits.APIKey),
	}
}

func (s *memCreditsStore) GetOrCreateWallet(ctx context.Context, userID int64) (*credits.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.walletLocked(userID)
	cp := *w
	return &cp, nil
}

func (s *memCreditsStore) walletLocked(userID int64) *credits.Wallet {
	if w, ok := s.wallets[userID]; ok {
		return w
	}
	s.nextID++
	w := &credits.Wallet{ID: s.nextID, UserID: userID, LastUpdated: time.Now()}
	s.wallets[userID] = w
	return w
}

func (s *memCreditsStore) ApplyTransaction(ctx context.Context, t *credits.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var before int64
	if w, ok := s.wallets[t.UserID]; ok {
		before = w.Balance
	}
	after := before + t.Amount
	if after < 0 {
		return xerrors.ErrInvalidInput
	}

	w := s.walletLocked(t.UserID)
	w.Balance = after
	t.BalanceBefore = before
	t.BalanceAfter = after
	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = time.Now()
	cp := *t
	s.ledger = append(s.ledger, &cp)
	return nil
}

func (s *memCreditsStore) ListTransactions(ctx context.Context, userID int64, filters credits.TransactionHistoryFilters) ([]*credits.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*credits.Transaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
		}
	}
	return out, nil
}

func (s *memCreditsStore) CreateAPIKey(ctx context.Context, k *credits.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	k.ID = s.nextID
	k.CreatedAt = time.Now()
	cp := *k
	s.keys[k.ID] = &cp
	return nil
}

func (s *memCreditsStore) FindAPIKeyByHash(ctx context.Context, hash string) (*credits.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == hash && k.Status == credits.APIKeyActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *memCreditsStore) ListAPIKeys(ctx context.Context, userID int64) ([]*credits.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*credits.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memCreditsStore) RevokeAPIKey(ctx context.Context, userID, keyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID || k.Status != credits.APIKeyActive {
		return xerrors.ErrNotFound
	}
	k.Status = credits.APIKeyRevoked
	k.RevokedAt.Time, k.RevokedAt.Valid = time.Now(), true
	return nil
}

func (s *memCreditsStore) TouchAPIKey(ctx context.Context, keyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[keyID]; ok {
		k.LastUsedAt.Time, k.LastUsedAt.Valid = time.Now(), true
	}
	return nil
}

func TestChargeGeneration_FreshUserHasEmptyWallet(t *testing.T) {
	ctx := context.Background()
	store := newMemCreditsStore()
	svc := NewCreditsService(store, 0, zap.NewNop())

	// A user who never touched their wallet debits like a zero balance:
	// insufficient funds, not a missing-row failure.
	err := svc.ChargeGeneration(ctx, 7, 10, "blog")
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)

	// The refused debit leaves no ledger trace.
	txs, err := svc.ListTransactions(ctx, 7, credits.TransactionHistoryFilters{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSignupBonusFundsFirstGeneration(t *testing.T) {
	ctx := context.Background()
	store := newMemCreditsStore()
	svc := NewCreditsService(store, 100, zap.NewNop())

	require.NoError(t, svc.GrantSignupBonus(ctx, 7))
	require.NoError(t, svc.ChargeGeneration(ctx, 7, 10, "blog"))

	w, err := svc.GetWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(90), w.Balance)

	txs, err := svc.ListTransactions(ctx, 7, credits.TransactionHistoryFilters{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, credits.TransactionGeneration, txs[0].Type)
	assert.Equal(t, int64(100), txs[0].BalanceBefore)
	assert.Equal(t, int64(90), txs[0].BalanceAfter)
	assert.Equal(t, credits.TransactionSignupBonus, txs[1].Type)
}

func TestGrantSignupBonus_DisabledWhenZero(t *testing.T) {
	ctx := context.Background()
	store := newMemCreditsStore()
	svc := NewCreditsService(store, 0, zap.NewNop())

	require.NoError(t, svc.GrantSignupBonus(ctx, 7))
	assert.Empty(t, store.ledger)
}

func TestCredit_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	svc := NewCreditsService(newMemCreditsStore(), 0, zap.NewNop())

	_, err := svc.Credit(ctx, 7, 0, credits.TransactionAdjustment, "", "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	_, err = svc.Credit(ctx, 7, -5, credits.TransactionAdjustment, "", "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestAPIKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemCreditsStore()
	svc := NewCreditsService(store, 0, zap.NewNop())

	created, err := svc.CreateAPIKey(ctx, 7, &credits.CreateAPIKeyRequest{Label: "ci"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, KeyPrefix))
	assert.True(t, strings.HasPrefix(created.Key, created.Prefix))

	// The plaintext resolves back to its owner and records the use.
	k, err := svc.ResolveAPIKey(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), k.UserID)
	assert.True(t, store.keys[k.ID].LastUsedAt.Valid)

	// Garbage and wrong-prefix credentials are rejected uniformly.
	_, err = svc.ResolveAPIKey(ctx, "not-a-key")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
	_, err = svc.ResolveAPIKey(ctx, KeyPrefix+"0123456789mangled")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)

	// A revoked key stops resolving.
	require.NoError(t, svc.RevokeAPIKey(ctx, 7, created.KeyID))
	_, err = svc.ResolveAPIKey(ctx, created.Key)
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
}
