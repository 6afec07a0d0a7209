package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/J9-tops/secure-wallet-api/internal/paystack"
	"github.com/J9-tops/secure-wallet-api/internal/service"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps domain errors onto HTTP status codes and stable error
// codes. Unknown errors are logged and reported as 500.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_AMOUNT", Message: err.Error()})
	case errors.Is(err, service.ErrInvalidExpiry):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_EXPIRY", Message: err.Error()})
	case errors.Is(err, service.ErrMissingKeyName),
		errors.Is(err, service.ErrNoPermissions),
		errors.Is(err, service.ErrUnknownPermission):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
	case errors.Is(err, storage.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INSUFFICIENT_BALANCE", Message: err.Error()})
	case errors.Is(err, storage.ErrSelfTransfer):
		c.JSON(http.StatusConflict, errorResponse{Code: "SELF_TRANSFER", Message: err.Error()})
	case errors.Is(err, storage.ErrQuotaExceeded):
		c.JSON(http.StatusConflict, errorResponse{Code: "QUOTA_EXCEEDED", Message: err.Error()})
	case errors.Is(err, storage.ErrAPIKeyRevoked):
		c.JSON(http.StatusConflict, errorResponse{Code: "KEY_ALREADY_REVOKED", Message: err.Error()})
	case errors.Is(err, storage.ErrAPIKeyNotExpired):
		c.JSON(http.StatusConflict, errorResponse{Code: "KEY_NOT_EXPIRED", Message: err.Error()})
	case errors.Is(err, storage.ErrWalletNotFound),
		errors.Is(err, storage.ErrRecipientNotFound),
		errors.Is(err, storage.ErrTransactionNotFound),
		errors.Is(err, storage.ErrAPIKeyNotFound),
		errors.Is(err, storage.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, storage.ErrKeyGenerationExhausted):
		logger.Error("api key generation exhausted", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "KEY_GENERATION_FAILED", Message: "could not generate api key"})
	case errors.Is(err, paystack.ErrGatewayUnavailable):
		logger.Error("payment gateway unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, errorResponse{Code: "GATEWAY_UNAVAILABLE", Message: "payment gateway unavailable"})
	default:
		logger.Error("unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}
