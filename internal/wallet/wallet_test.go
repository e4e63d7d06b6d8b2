package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whatsapp-relay/internal/model"
)

// fakeStore backs the debit flow with an in-memory ledger. The mutex stands
// in for the row lock a real store holds for the transaction's duration.
type fakeStore struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	txs      map[string]*model.WalletTransaction
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[int64]decimal.Decimal),
		txs:      make(map[string]*model.WalletTransaction),
	}
}

func (s *fakeStore) WithinDebitTx(ctx context.Context, fn func(tx DebitTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs[externalMessageID], nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	b, ok := t.store.balances[userID]
	if !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return b, nil
}

func (t *fakeTx) TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error) {
	return t.store.txs[externalMessageID], nil
}

func (t *fakeTx) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	t.store.balances[userID] = balance
	return nil
}

func (t *fakeTx) InsertTransaction(ctx context.Context, tx *model.WalletTransaction) error {
	if _, exists := t.store.txs[tx.ExternalMessageID]; exists {
		return ErrDuplicateTransaction
	}
	t.store.nextID++
	tx.ID = t.store.nextID
	t.store.txs[tx.ExternalMessageID] = tx
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDebit_HappyPath(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.balances[1] = dec("10")
	svc := NewService(store, time.Second)

	tx, err := svc.Debit(context.Background(), 1, dec("0.5"), "wamid.A")
	if err != nil {
		t.Fatalf("Debit() error: %v", err)
	}
	if tx == nil {
		t.Fatalf("expected a transaction")
	}
	if tx.Type != model.TxDebit {
		t.Fatalf("expected debit type, got %s", tx.Type)
	}
	if !store.balances[1].Equal(dec("9.5")) {
		t.Fatalf("expected balance 9.5, got %s", store.balances[1])
	}
}

func TestDebit_IdempotentPerExternalID(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.balances[1] = dec("10")
	svc := NewService(store, time.Second)

	first, err := svc.Debit(context.Background(), 1, dec("0.5"), "wamid.A")
	if err != nil {
		t.Fatalf("first Debit() error: %v", err)
	}
	second, err := svc.Debit(context.Background(), 1, dec("0.5"), "wamid.A")
	if err != nil {
		t.Fatalf("second Debit() error: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected same transaction, got %d and %d", first.ID, second.ID)
	}
	if !store.balances[1].Equal(dec("9.5")) {
		t.Fatalf("expected balance deducted once, got %s", store.balances[1])
	}
	if len(store.txs) != 1 {
		t.Fatalf("expected one transaction row, got %d", len(store.txs))
	}
}

func TestDebit_ConcurrentSameExternalID(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.balances[1] = dec("100")
	svc := NewService(store, time.Second)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), 1, dec("0.5"), "wamid.RACE")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Debit() error: %v", err)
		}
	}
	if !store.balances[1].Equal(dec("99.5")) {
		t.Fatalf("expected one deduction, balance %s", store.balances[1])
	}
	if len(store.txs) != 1 {
		t.Fatalf("expected one transaction row, got %d", len(store.txs))
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.balances[1] = dec("5")
	svc := NewService(store, time.Second)

	_, err := svc.Debit(context.Background(), 1, dec("10"), "wamid.B")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !store.balances[1].Equal(dec("5")) {
		t.Fatalf("balance must be untouched, got %s", store.balances[1])
	}
	if len(store.txs) != 0 {
		t.Fatalf("no transaction must be recorded, got %d", len(store.txs))
	}
}

func TestDebit_UnknownUser(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := NewService(store, time.Second)

	_, err := svc.Debit(context.Background(), 42, dec("1"), "wamid.C")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDebit_MissingExternalIDSkips(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.balances[1] = dec("10")
	svc := NewService(store, time.Second)

	tx, err := svc.Debit(context.Background(), 1, dec("1"), "")
	if err != nil {
		t.Fatalf("Debit() error: %v", err)
	}
	if tx != nil {
		t.Fatalf("expected no transaction, got %+v", tx)
	}
	if !store.balances[1].Equal(dec("10")) {
		t.Fatalf("balance must be untouched, got %s", store.balances[1])
	}
}

// raceStore reports no existing row inside the transaction but fails the
// insert, simulating a concurrent writer committing first.
type raceStore struct {
	*fakeStore
	winner *model.WalletTransaction
}

func (s *raceStore) WithinDebitTx(ctx context.Context, fn func(tx DebitTx) error) error {
	return fn(&raceTx{store: s})
}

func (s *raceStore) TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error) {
	return s.winner, nil
}

type raceTx struct {
	store *raceStore
}

func (t *raceTx) LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return dec("10"), nil
}

func (t *raceTx) TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error) {
	return nil, nil
}

func (t *raceTx) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	return nil
}

func (t *raceTx) InsertTransaction(ctx context.Context, tx *model.WalletTransaction) error {
	return ErrDuplicateTransaction
}

func TestDebit_InsertRaceReturnsWinner(t *testing.T) {
	t.Parallel()

	winner := &model.WalletTransaction{ID: 99, ExternalMessageID: "wamid.D"}
	store := &raceStore{fakeStore: newFakeStore(), winner: winner}
	svc := NewService(store, time.Second)

	tx, err := svc.Debit(context.Background(), 1, dec("1"), "wamid.D")
	if err != nil {
		t.Fatalf("Debit() error: %v", err)
	}
	if tx == nil || tx.ID != 99 {
		t.Fatalf("expected winner transaction, got %+v", tx)
	}
}
