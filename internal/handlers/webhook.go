package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/J9-tops/secure-wallet-api/internal/rate"
	"github.com/J9-tops/secure-wallet-api/internal/service"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
)

const signatureHeader = "X-Paystack-Signature"

// maxWebhookBody bounds the raw body read; gateway payloads are small.
const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	VerifySignature(body []byte, signature string) error
	Process(ctx context.Context, body []byte) (*service.WebhookResult, error)
}

type WebhookHandler struct {
	Service     WebhookProcessor
	Logger      *slog.Logger
	RateLimiter rate.Limiter
	Clock       Clock
}

func NewWebhookHandler(svc WebhookProcessor, logger *slog.Logger, limiter rate.Limiter) *WebhookHandler {
	return &WebhookHandler{Service: svc, Logger: logger, RateLimiter: limiter, Clock: systemClock{}}
}

// Handle receives one gateway delivery. The body is read raw before any
// parsing so the signature is verified against the exact bytes sent.
func (h *WebhookHandler) Handle(c *gin.Context) {
	if h.RateLimiter != nil {
		allowed, retryAfter, err := h.RateLimiter.Allow(c.Request.Context(), c.ClientIP(), h.Clock.Now())
		if err != nil {
			h.Logger.Error("rate limiter failed", "error", err)
		} else if !allowed {
			c.Header("Retry-After", formatSeconds(retryAfter))
			c.JSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "unreadable body"})
		return
	}

	if err := h.Service.VerifySignature(body, c.GetHeader(signatureHeader)); err != nil {
		h.Logger.Warn("webhook signature rejected", "error", err, "ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid signature"})
		return
	}

	result, err := h.Service.Process(c.Request.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMalformedPayload), errors.Is(err, service.ErrMissingFields):
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		case errors.Is(err, storage.ErrAmountMismatch):
			c.JSON(http.StatusBadRequest, errorResponse{Code: "AMOUNT_MISMATCH", Message: "webhook amount does not match transaction"})
		case errors.Is(err, storage.ErrTransactionNotFound):
			// Paystack retries anything but a 2xx. A reference we never issued
			// will not appear later, so acknowledge and drop the delivery.
			h.Logger.Info("webhook for unknown reference acknowledged", "ip", c.ClientIP())
			c.JSON(http.StatusOK, service.WebhookResult{Ignored: true})
		default:
			h.Logger.Error("webhook processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
