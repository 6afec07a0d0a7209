package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/J9-tops/secure-wallet-api/internal/storage"
)

type fakeWalletStore struct {
	user            *storage.User
	wallet          *storage.Wallet
	deposits        map[string]*storage.Transaction
	authorizations  map[string]string
	transferErr     error
	transferredRefs []string
}

func newFakeWalletStore() *fakeWalletStore {
	userID := uuid.New()
	return &fakeWalletStore{
		user: &storage.User{ID: userID, Email: "ada@example.com", IsActive: true},
		wallet: &storage.Wallet{
			ID:           uuid.New(),
			UserID:       userID,
			WalletNumber: "1234567890123",
			Balance:      decimal.NewFromInt(500),
		},
		deposits:       make(map[string]*storage.Transaction),
		authorizations: make(map[string]string),
	}
}

func (f *fakeWalletStore) GetUserByID(_ context.Context, userID uuid.UUID) (*storage.User, error) {
	if userID != f.user.ID {
		return nil, storage.ErrUserNotFound
	}
	return f.user, nil
}

func (f *fakeWalletStore) GetOrCreateWallet(_ context.Context, _ uuid.UUID) (*storage.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeWalletStore) CreatePendingDeposit(_ context.Context, userID uuid.UUID, reference string, amount decimal.Decimal) (*storage.Transaction, error) {
	txn := &storage.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Reference: reference,
		Type:      storage.TransactionTypeDeposit,
		Amount:    amount,
		Status:    storage.TransactionStatusPending,
	}
	f.deposits[reference] = txn
	return txn, nil
}

func (f *fakeWalletStore) SetDepositAuthorization(_ context.Context, reference, url string) error {
	if _, ok := f.deposits[reference]; !ok {
		return storage.ErrTransactionNotFound
	}
	f.authorizations[reference] = url
	return nil
}

func (f *fakeWalletStore) GetDeposit(_ context.Context, userID uuid.UUID, reference string) (*storage.Transaction, error) {
	txn, ok := f.deposits[reference]
	if !ok || txn.UserID != userID {
		return nil, storage.ErrTransactionNotFound
	}
	return txn, nil
}

func (f *fakeWalletStore) ListTransactions(_ context.Context, _ uuid.UUID) ([]storage.Transaction, error) {
	var out []storage.Transaction
	for _, txn := range f.deposits {
		out = append(out, *txn)
	}
	return out, nil
}

func (f *fakeWalletStore) TransferFunds(_ context.Context, senderUserID uuid.UUID, recipientWalletNumber string, amount decimal.Decimal, reference string) (*storage.Transaction, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transferredRefs = append(f.transferredRefs, reference)
	recipientID := uuid.New()
	return &storage.Transaction{
		ID:                    uuid.New(),
		UserID:                senderUserID,
		Reference:             reference,
		Type:                  storage.TransactionTypeTransfer,
		Amount:                amount,
		Status:                storage.TransactionStatusSuccess,
		RecipientWalletNumber: &recipientWalletNumber,
		RecipientUserID:       &recipientID,
	}, nil
}

type fakeGateway struct {
	url string
	err error
}

func (f *fakeGateway) InitializeTransaction(_ context.Context, _ string, _ decimal.Decimal, _ string) (string, error) {
	return f.url, f.err
}

type capturedEvent struct {
	topic string
	key   string
	value any
}

type capturePublisher struct {
	events []capturedEvent
	err    error
}

func (p *capturePublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	p.events = append(p.events, capturedEvent{topic: topic, key: key, value: value})
	return 0, 0, nil
}

func (p *capturePublisher) Close() error { return nil }

func TestInitiateDeposit(t *testing.T) {
	store := newFakeWalletStore()
	gateway := &fakeGateway{url: "https://checkout.paystack.com/abc123"}
	svc := NewWalletService(store, gateway, nil, "", nil, nil)

	result, err := svc.InitiateDeposit(context.Background(), store.user.ID, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("InitiateDeposit: %v", err)
	}
	if !strings.HasPrefix(result.Reference, "TXN_") {
		t.Errorf("reference %q missing TXN_ prefix", result.Reference)
	}
	if len(result.Reference) != len("TXN_")+32 {
		t.Errorf("reference %q has wrong length", result.Reference)
	}
	if result.AuthorizationURL != gateway.url {
		t.Errorf("authorization url = %q, want %q", result.AuthorizationURL, gateway.url)
	}
	if result.Status != storage.TransactionStatusPending {
		t.Errorf("status = %q, want pending", result.Status)
	}
	if store.authorizations[result.Reference] != gateway.url {
		t.Error("authorization url not persisted")
	}
}

func TestInitiateDepositRejectsNonPositiveAmount(t *testing.T) {
	store := newFakeWalletStore()
	svc := NewWalletService(store, &fakeGateway{}, nil, "", nil, nil)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if _, err := svc.InitiateDeposit(context.Background(), store.user.ID, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if len(store.deposits) != 0 {
		t.Error("rejected amounts must not create deposit rows")
	}
}

func TestInitiateDepositGatewayFailure(t *testing.T) {
	store := newFakeWalletStore()
	gatewayErr := errors.New("gateway down")
	svc := NewWalletService(store, &fakeGateway{err: gatewayErr}, nil, "", nil, nil)

	_, err := svc.InitiateDeposit(context.Background(), store.user.ID, decimal.NewFromInt(50))
	if !errors.Is(err, gatewayErr) {
		t.Fatalf("err = %v, want gateway error", err)
	}
	// The pending row survives the failed gateway call; it is never credited.
	if len(store.deposits) != 1 {
		t.Errorf("pending deposits = %d, want 1", len(store.deposits))
	}
	if len(store.authorizations) != 0 {
		t.Error("no authorization url should be stored on gateway failure")
	}
}

func TestTransferFundsPublishesEvent(t *testing.T) {
	store := newFakeWalletStore()
	publisher := &capturePublisher{}
	svc := NewWalletService(store, &fakeGateway{}, publisher, "wallet.events", nil, nil)

	txn, err := svc.TransferFunds(context.Background(), store.user.ID, "9876543210987", decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("TransferFunds: %v", err)
	}
	if txn.Status != storage.TransactionStatusSuccess {
		t.Errorf("status = %q, want success", txn.Status)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(publisher.events))
	}
	if publisher.events[0].topic != "wallet.events" {
		t.Errorf("topic = %q", publisher.events[0].topic)
	}
	if publisher.events[0].key != txn.Reference {
		t.Errorf("event key = %q, want reference %q", publisher.events[0].key, txn.Reference)
	}
}

func TestTransferFundsStoreErrorSkipsEvent(t *testing.T) {
	store := newFakeWalletStore()
	store.transferErr = storage.ErrInsufficientBalance
	publisher := &capturePublisher{}
	svc := NewWalletService(store, &fakeGateway{}, publisher, "wallet.events", nil, nil)

	_, err := svc.TransferFunds(context.Background(), store.user.ID, "9876543210987", decimal.NewFromInt(25))
	if !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if len(publisher.events) != 0 {
		t.Error("failed transfer must not publish an event")
	}
}

func TestTransferFundsRejectsNonPositiveAmount(t *testing.T) {
	store := newFakeWalletStore()
	svc := NewWalletService(store, &fakeGateway{}, nil, "", nil, nil)

	if _, err := svc.TransferFunds(context.Background(), store.user.ID, "9876543210987", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestReferencesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ref := newReference()
		if seen[ref] {
			t.Fatalf("duplicate reference %q", ref)
		}
		seen[ref] = true
	}
}
