package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/J9-tops/secure-wallet-api/internal/storage"
	"github.com/J9-tops/secure-wallet-api/libs/kafka"
)

var ErrInvalidAmount = errors.New("amount must be greater than zero")

// WalletStore is the storage surface the wallet service needs.
type WalletStore interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error)
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*storage.Wallet, error)
	CreatePendingDeposit(ctx context.Context, userID uuid.UUID, reference string, amount decimal.Decimal) (*storage.Transaction, error)
	SetDepositAuthorization(ctx context.Context, reference, authorizationURL string) error
	GetDeposit(ctx context.Context, userID uuid.UUID, reference string) (*storage.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]storage.Transaction, error)
	TransferFunds(ctx context.Context, senderUserID uuid.UUID, recipientWalletNumber string, amount decimal.Decimal, reference string) (*storage.Transaction, error)
}

// PaymentGateway initializes hosted payment sessions with the card processor.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, email string, amount decimal.Decimal, reference string) (authorizationURL string, err error)
}

type WalletService struct {
	store     WalletStore
	gateway   PaymentGateway
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
	metrics   *Metrics
}

func NewWalletService(store WalletStore, gateway PaymentGateway, publisher kafka.Publisher, topic string, logger *slog.Logger, metrics *Metrics) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		metrics:   metrics,
	}
}

type DepositInitiation struct {
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
}

// InitiateDeposit creates a pending deposit and obtains a hosted payment page
// from the gateway. The pending row is committed before the gateway call so no
// database locks span the network round trip; a gateway failure leaves a
// harmless pending row behind.
func (s *WalletService) InitiateDeposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*DepositInitiation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	reference := newReference()
	txn, err := s.store.CreatePendingDeposit(ctx, userID, reference, amount)
	if err != nil {
		return nil, err
	}

	authorizationURL, err := s.gateway.InitializeTransaction(ctx, user.Email, amount, reference)
	if err != nil {
		s.logger.Error("gateway initialization failed", "reference", reference, "error", err)
		return nil, err
	}

	if err := s.store.SetDepositAuthorization(ctx, reference, authorizationURL); err != nil {
		return nil, err
	}

	s.logger.Info("deposit initiated", "reference", reference, "user_id", userID, "amount", amount.StringFixed(2))
	if s.metrics != nil {
		s.metrics.DepositsInitiated.Inc()
	}

	return &DepositInitiation{
		Reference:        reference,
		AuthorizationURL: authorizationURL,
		Amount:           txn.Amount,
		Status:           txn.Status,
	}, nil
}

func (s *WalletService) GetDepositStatus(ctx context.Context, userID uuid.UUID, reference string) (*storage.Transaction, error) {
	return s.store.GetDeposit(ctx, userID, reference)
}

// TransferFunds moves amount to the recipient wallet and publishes a transfer
// event after the commit. Publish failures are logged, never surfaced: the
// ledger is the source of truth.
func (s *WalletService) TransferFunds(ctx context.Context, senderUserID uuid.UUID, recipientWalletNumber string, amount decimal.Decimal) (*storage.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	reference := newReference()
	txn, err := s.store.TransferFunds(ctx, senderUserID, recipientWalletNumber, amount, reference)
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer completed", "reference", reference, "sender", senderUserID, "recipient_wallet", recipientWalletNumber, "amount", amount.StringFixed(2))
	if s.metrics != nil {
		s.metrics.TransfersCompleted.Inc()
	}
	s.publishTransferEvent(ctx, txn)

	return txn, nil
}

func (s *WalletService) GetBalance(ctx context.Context, userID uuid.UUID) (*storage.Wallet, error) {
	return s.store.GetOrCreateWallet(ctx, userID)
}

func (s *WalletService) GetTransactions(ctx context.Context, userID uuid.UUID) ([]storage.Transaction, error) {
	return s.store.ListTransactions(ctx, userID)
}

func (s *WalletService) publishTransferEvent(ctx context.Context, txn *storage.Transaction) {
	if s.publisher == nil {
		return
	}
	recipient := ""
	if txn.RecipientWalletNumber != nil {
		recipient = *txn.RecipientWalletNumber
	}
	envelope, err := kafka.NewEnvelope(kafka.EventTransferCompleted, 1, txn.Reference)
	if err != nil {
		s.logger.Error("transfer event envelope invalid", "reference", txn.Reference, "error", err)
		return
	}
	event := kafka.TransferEvent{
		Envelope:              envelope,
		SenderUserID:          txn.UserID.String(),
		RecipientWalletNumber: recipient,
		Amount:                txn.Amount.StringFixed(2),
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.topic, txn.Reference, event); err != nil {
		s.logger.Error("transfer event publish failed", "reference", txn.Reference, "error", err)
	}
}

// newReference mints a transaction reference like
// TXN_9F2C41A7B03E4D218A6C05F1E7B92A44. The full UUID goes in so the
// unique index on transactions.reference never sees a collision in practice.
func newReference() string {
	id := uuid.New()
	return fmt.Sprintf("TXN_%s", strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")))
}
