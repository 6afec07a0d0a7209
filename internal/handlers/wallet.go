package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/J9-tops/secure-wallet-api/internal/auth"
	"github.com/J9-tops/secure-wallet-api/internal/service"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
)

type WalletHandler struct {
	Service WalletService
	Logger  *slog.Logger
}

// WalletService is the application surface the wallet routes call.
type WalletService interface {
	InitiateDeposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*service.DepositInitiation, error)
	GetDepositStatus(ctx context.Context, userID uuid.UUID, reference string) (*storage.Transaction, error)
	TransferFunds(ctx context.Context, senderUserID uuid.UUID, recipientWalletNumber string, amount decimal.Decimal) (*storage.Transaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*storage.Wallet, error)
	GetTransactions(ctx context.Context, userID uuid.UUID) ([]storage.Transaction, error)
}

func NewWalletHandler(svc WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{Service: svc, Logger: logger}
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	WalletNumber string          `json:"wallet_number"`
	Amount       decimal.Decimal `json:"amount"`
}

type transactionResponse struct {
	Reference             string  `json:"reference"`
	Type                  string  `json:"type"`
	Amount                string  `json:"amount"`
	Status                string  `json:"status"`
	RecipientWalletNumber *string `json:"recipient_wallet_number,omitempty"`
	AuthorizationURL      *string `json:"authorization_url,omitempty"`
	CreatedAt             string  `json:"created_at"`
}

type balanceResponse struct {
	WalletNumber string `json:"wallet_number"`
	Balance      string `json:"balance"`
}

func (h *WalletHandler) Deposit(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	result, err := h.Service.InitiateDeposit(c.Request.Context(), principal.UserID, req.Amount)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *WalletHandler) DepositStatus(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	txn, err := h.Service.GetDepositStatus(c.Request.Context(), principal.UserID, c.Param("reference"))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (h *WalletHandler) Transfer(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WalletNumber == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	txn, err := h.Service.TransferFunds(c.Request.Context(), principal.UserID, req.WalletNumber, req.Amount)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (h *WalletHandler) Balance(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	wallet, err := h.Service.GetBalance(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		WalletNumber: wallet.WalletNumber,
		Balance:      wallet.Balance.StringFixed(2),
	})
}

func (h *WalletHandler) Transactions(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	txns, err := h.Service.GetTransactions(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for i := range txns {
		out = append(out, toTransactionResponse(&txns[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func toTransactionResponse(txn *storage.Transaction) transactionResponse {
	return transactionResponse{
		Reference:             txn.Reference,
		Type:                  txn.Type,
		Amount:                txn.Amount.StringFixed(2),
		Status:                txn.Status,
		RecipientWalletNumber: txn.RecipientWalletNumber,
		AuthorizationURL:      txn.AuthorizationURL,
		CreatedAt:             txn.CreatedAt.UTC().Format(time.RFC3339),
	}
}
