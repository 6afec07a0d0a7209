package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const walletNumberLen = 13

var (
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrRecipientNotFound     = errors.New("recipient wallet not found")
	ErrSelfTransfer          = errors.New("cannot transfer to own wallet")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrAmountMismatch        = errors.New("webhook amount mismatch")
	ErrUserNotFound          = errors.New("user not found")
	ErrWalletNumberExhausted = errors.New("could not allocate unique wallet number")
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// GetOrCreateUserByGoogle resolves a Google login to a user row, creating the
// user together with an eagerly provisioned wallet on first login. Lookup is
// by google id first, then by email (linking the google id to a pre-existing
// email account).
func (s *Store) GetOrCreateUserByGoogle(ctx context.Context, email, googleID, name, picture string) (*User, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	user, err := scanUser(tx.QueryRow(ctx, userSelect+` WHERE google_id = $1`, googleID))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	user, err = scanUser(tx.QueryRow(ctx, userSelect+` WHERE email = $1`, email))
	if err == nil {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE users SET google_id = $1, name = COALESCE(NULLIF($2, ''), name), picture = COALESCE(NULLIF($3, ''), picture), updated_at = $4
			WHERE id = $5
		`, googleID, name, picture, now, user.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		user.GoogleID = googleID
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	userID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, google_id, name, picture, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $6)
	`, userID, email, googleID, name, picture, now); err != nil {
		return nil, err
	}

	if _, err := s.createWalletTx(ctx, tx, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	return &User{
		ID:        userID,
		Email:     email,
		GoogleID:  googleID,
		Name:      name,
		Picture:   picture,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, userSelect+` WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetOrCreateWallet returns the user's wallet, creating a zero-balance one if
// absent. The unique constraint on user_id is the backstop against a first
// login race creating two wallets.
func (s *Store) GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	wallet, err := s.getWallet(ctx, `user_id`, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := s.createWalletTx(ctx, tx, userID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	wallet, err = s.getWallet(ctx, `user_id`, userID)
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Store) GetWalletByNumber(ctx context.Context, walletNumber string) (*Wallet, error) {
	wallet, err := s.getWallet(ctx, `wallet_number`, walletNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// createWalletTx inserts a wallet inside the caller's transaction, retrying
// wallet-number collisions under a savepoint. A concurrent insert for the same
// user surfaces as a unique violation on user_id and resolves to the existing
// row after commit.
func (s *Store) createWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (uuid.UUID, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < 5; attempt++ {
		number, err := generateWalletNumber()
		if err != nil {
			return uuid.Nil, err
		}
		walletID := uuid.New()

		inner, err := tx.Begin(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		_, err = inner.Exec(ctx, `
			INSERT INTO wallets (id, user_id, wallet_number, balance, created_at, updated_at)
			VALUES ($1, $2, $3, 0, $4, $4)
			ON CONFLICT (user_id) DO NOTHING
		`, walletID, userID, number, now)
		if err != nil {
			_ = inner.Rollback(ctx)
			if isUniqueViolation(err) {
				continue
			}
			return uuid.Nil, err
		}
		if err := inner.Commit(ctx); err != nil {
			return uuid.Nil, err
		}
		return walletID, nil
	}
	return uuid.Nil, ErrWalletNumberExhausted
}

func (s *Store) getWallet(ctx context.Context, column string, value any) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, user_id, wallet_number, balance::text, created_at, updated_at
		FROM wallets
		WHERE %s = $1
	`, column), value)
	return scanWallet(row)
}

// CreatePendingDeposit writes the pending transaction row and commits before
// any gateway call happens, so no row locks are held across the network.
func (s *Store) CreatePendingDeposit(ctx context.Context, userID uuid.UUID, reference string, amount decimal.Decimal) (*Transaction, error) {
	now := time.Now().UTC()
	txnID := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, reference, type, amount, status, gateway_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $3, $7, $7)
	`, txnID, userID, reference, TransactionTypeDeposit, amount.StringFixed(2), TransactionStatusPending, now)
	if err != nil {
		return nil, err
	}
	gatewayRef := reference
	return &Transaction{
		ID:               txnID,
		UserID:           userID,
		Reference:        reference,
		Type:             TransactionTypeDeposit,
		Amount:           amount,
		Status:           TransactionStatusPending,
		GatewayReference: &gatewayRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// SetDepositAuthorization records the gateway authorization URL obtained after
// the pending row was committed. A crash before this update leaves a pending
// transaction without a URL, which is recoverable: no money has moved.
func (s *Store) SetDepositAuthorization(ctx context.Context, reference string, authorizationURL string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET authorization_url = $1, updated_at = $2
		WHERE reference = $3 AND type = $4
	`, authorizationURL, time.Now().UTC(), reference, TransactionTypeDeposit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, userID uuid.UUID, reference string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx, transactionSelect+`
		WHERE reference = $1 AND user_id = $2 AND type = $3
	`, reference, userID, TransactionTypeDeposit)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, transactionSelect+`
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *txn)
	}
	return items, rows.Err()
}

// TransferFunds moves amount between two wallets and records the transfer as a
// single committed unit. Both wallet rows are locked in id order before the
// balance check so concurrent transfers over the same pair serialize without
// deadlocking.
func (s *Store) TransferFunds(ctx context.Context, senderUserID uuid.UUID, recipientWalletNumber string, amount decimal.Decimal, reference string) (*Transaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var senderWalletID uuid.UUID
	var senderBalanceText string
	if err := tx.QueryRow(ctx, `SELECT id, balance::text FROM wallets WHERE user_id = $1`, senderUserID).Scan(&senderWalletID, &senderBalanceText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	// The sender's funds are checked before the recipient is resolved, so a
	// broke sender learns about the shortfall instead of whether a wallet
	// number exists. The post-lock re-check below stays authoritative.
	senderBalance, err := decimal.NewFromString(senderBalanceText)
	if err != nil {
		return nil, fmt.Errorf("parse sender balance: %w", err)
	}
	if senderBalance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	var recipientWalletID, recipientUserID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id, user_id FROM wallets WHERE wallet_number = $1`, recipientWalletNumber).Scan(&recipientWalletID, &recipientUserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	// Same row, not same user: a user owns exactly one wallet.
	if senderWalletID == recipientWalletID {
		return nil, ErrSelfTransfer
	}

	wallets, err := lockWallets(ctx, tx, senderWalletID, recipientWalletID)
	if err != nil {
		return nil, err
	}
	sender, recipient := wallets[senderWalletID], wallets[recipientWalletID]
	if sender == nil || recipient == nil {
		return nil, ErrWalletNotFound
	}

	if sender.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	now := time.Now().UTC()
	sender.Balance = sender.Balance.Sub(amount)
	recipient.Balance = recipient.Balance.Add(amount)
	for _, w := range []*Wallet{sender, recipient} {
		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3
		`, w.Balance.StringFixed(2), now, w.ID); err != nil {
			return nil, err
		}
	}

	txnID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, reference, type, amount, status, recipient_wallet_number, recipient_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, txnID, senderUserID, reference, TransactionTypeTransfer, amount.StringFixed(2), TransactionStatusSuccess, recipientWalletNumber, recipientUserID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	recipientNumber := recipientWalletNumber
	return &Transaction{
		ID:                    txnID,
		UserID:                senderUserID,
		Reference:             reference,
		Type:                  TransactionTypeTransfer,
		Amount:                amount,
		Status:                TransactionStatusSuccess,
		RecipientWalletNumber: &recipientNumber,
		RecipientUserID:       &recipientUserID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// ApplyDepositWebhook runs the read-check-credit sequence for one webhook
// delivery as a single serialized unit. The transaction row is locked before
// the idempotency gate so two concurrent deliveries of the same event cannot
// both pass it.
func (s *Store) ApplyDepositWebhook(ctx context.Context, reference string, amountMinor int64, gatewayStatus string) (*WebhookOutcome, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, transactionSelect+`
		WHERE reference = $1
		FOR UPDATE
	`, reference)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	// Idempotency gate: a redelivered success event must never credit twice.
	if txn.Status == TransactionStatusSuccess {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return &WebhookOutcome{Processed: false, AlreadyProcessed: true, Transaction: txn}, nil
	}

	now := time.Now().UTC()
	amount := decimal.NewFromInt(amountMinor).Shift(-2)

	if !amount.Equal(txn.Amount) {
		if err := s.setTransactionStatus(ctx, tx, txn.ID, TransactionStatusFailed, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return nil, fmt.Errorf("%w: reference %s expected %s got %s", ErrAmountMismatch, reference, txn.Amount.StringFixed(2), amount.StringFixed(2))
	}

	if gatewayStatus != "success" {
		if err := s.setTransactionStatus(ctx, tx, txn.ID, TransactionStatusFailed, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		txn.Status = TransactionStatusFailed
		return &WebhookOutcome{Processed: false, Transaction: txn}, nil
	}

	wallet, err := s.getWalletForUpdate(ctx, tx, txn.UserID)
	if err != nil {
		return nil, err
	}
	wallet.Balance = wallet.Balance.Add(amount)
	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3
	`, wallet.Balance.StringFixed(2), now, wallet.ID); err != nil {
		return nil, err
	}
	if err := s.setTransactionStatus(ctx, tx, txn.ID, TransactionStatusSuccess, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	txn.Status = TransactionStatusSuccess
	return &WebhookOutcome{Processed: true, Transaction: txn, WalletNumber: wallet.WalletNumber}, nil
}

func (s *Store) setTransactionStatus(ctx context.Context, tx pgx.Tx, txnID uuid.UUID, status string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3
	`, status, now, txnID)
	return err
}

func (s *Store) getWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*Wallet, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, wallet_number, balance::text, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

func lockWallets(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) (map[uuid.UUID]*Wallet, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, user_id, wallet_number, balance::text, created_at, updated_at
		FROM wallets
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := make(map[uuid.UUID]*Wallet, len(ids))
	for rows.Next() {
		var w Wallet
		var balanceStr string
		if err := rows.Scan(&w.ID, &w.UserID, &w.WalletNumber, &balanceStr, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("parse balance: %w", err)
		}
		wallets[w.ID] = &w
	}
	return wallets, rows.Err()
}

const userSelect = `
	SELECT id, email, google_id, COALESCE(name, ''), COALESCE(picture, ''), is_active, created_at, updated_at
	FROM users`

const transactionSelect = `
	SELECT id, user_id, reference, type, amount::text, status,
	       recipient_wallet_number, recipient_user_id, gateway_reference, authorization_url,
	       created_at, updated_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.GoogleID, &u.Name, &u.Picture, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	var balanceStr string
	if err := row.Scan(&w.ID, &w.UserID, &w.WalletNumber, &balanceStr, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	w.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var amountStr string
	if err := row.Scan(&t.ID, &t.UserID, &t.Reference, &t.Type, &amountStr, &t.Status,
		&t.RecipientWalletNumber, &t.RecipientUserID, &t.GatewayReference, &t.AuthorizationURL,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	t.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &t, nil
}

func generateWalletNumber() (string, error) {
	buf := make([]byte, walletNumberLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	digits := make([]byte, walletNumberLen)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
