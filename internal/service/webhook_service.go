package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/J9-tops/secure-wallet-api/internal/storage"
	"github.com/J9-tops/secure-wallet-api/libs/kafka"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingFields    = errors.New("webhook payload missing required fields")
)

const eventChargeSuccess = "charge.success"

// WebhookStore is the storage surface the webhook service needs.
type WebhookStore interface {
	ApplyDepositWebhook(ctx context.Context, reference string, amountMinor int64, gatewayStatus string) (*storage.WebhookOutcome, error)
}

type WebhookService struct {
	store     WebhookStore
	secret    []byte
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
	metrics   *Metrics
}

func NewWebhookService(store WebhookStore, secret string, publisher kafka.Publisher, topic string, logger *slog.Logger, metrics *Metrics) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		store:     store,
		secret:    []byte(secret),
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		metrics:   metrics,
	}
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    *int64 `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// WebhookResult reports how a delivery was handled. Ignored deliveries and
// replays are acknowledged to the gateway without side effects.
type WebhookResult struct {
	Processed        bool   `json:"processed"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Ignored          bool   `json:"ignored,omitempty"`
	Reference        string `json:"reference,omitempty"`
}

// VerifySignature checks the hex HMAC-SHA512 of the raw request body against
// the signature header. Verification runs on the exact bytes received, before
// any parsing.
func (s *WebhookService) VerifySignature(body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Process handles one verified delivery: parse, filter to charge.success,
// then hand the reference to the store's serialized credit path. Amounts
// arrive in minor units and are compared against the ledger in major units.
func (s *WebhookService) Process(ctx context.Context, body []byte) (*WebhookResult, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.rejected("malformed")
		return nil, ErrMalformedPayload
	}
	if payload.Event == "" {
		s.rejected("malformed")
		return nil, ErrMissingFields
	}

	if payload.Event != eventChargeSuccess {
		s.logger.Info("webhook event ignored", "event", payload.Event)
		return &WebhookResult{Ignored: true}, nil
	}

	if payload.Data.Reference == "" || payload.Data.Amount == nil {
		s.rejected("missing_fields")
		return nil, ErrMissingFields
	}

	outcome, err := s.store.ApplyDepositWebhook(ctx, payload.Data.Reference, *payload.Data.Amount, payload.Data.Status)
	if err != nil {
		if errors.Is(err, storage.ErrAmountMismatch) {
			s.logger.Error("webhook amount mismatch", "reference", payload.Data.Reference, "error", err)
			s.rejected("amount_mismatch")
			s.publishDepositEvent(ctx, kafka.EventDepositFailed, payload.Data.Reference, "", "", *payload.Data.Amount)
			if s.metrics != nil {
				s.metrics.DepositsFailed.Inc()
			}
		}
		return nil, err
	}

	if outcome.AlreadyProcessed {
		s.logger.Info("webhook replay acknowledged", "reference", payload.Data.Reference)
		return &WebhookResult{AlreadyProcessed: true, Reference: payload.Data.Reference}, nil
	}

	// The event arrived as charge.success but the charge itself did not
	// succeed; the transaction is now marked failed and nothing was credited.
	if !outcome.Processed {
		s.logger.Warn("deposit marked failed", "reference", payload.Data.Reference, "gateway_status", payload.Data.Status)
		if s.metrics != nil {
			s.metrics.DepositsFailed.Inc()
		}
		s.publishDepositEvent(ctx, kafka.EventDepositFailed, payload.Data.Reference, outcome.Transaction.UserID.String(), "", *payload.Data.Amount)
		return &WebhookResult{Processed: false, Reference: payload.Data.Reference}, nil
	}

	s.logger.Info("deposit credited", "reference", payload.Data.Reference, "user_id", outcome.Transaction.UserID, "amount", outcome.Transaction.Amount.StringFixed(2))
	if s.metrics != nil {
		s.metrics.DepositsCredited.Inc()
	}
	s.publishDepositEvent(ctx, kafka.EventDepositCredited, payload.Data.Reference, outcome.Transaction.UserID.String(), outcome.WalletNumber, *payload.Data.Amount)

	return &WebhookResult{Processed: true, Reference: payload.Data.Reference}, nil
}

func (s *WebhookService) publishDepositEvent(ctx context.Context, eventType, reference, userID, walletNumber string, amountMinor int64) {
	if s.publisher == nil {
		return
	}
	envelope, err := kafka.NewEnvelope(eventType, 1, reference)
	if err != nil {
		s.logger.Error("deposit event envelope invalid", "reference", reference, "error", err)
		return
	}
	// Redeliveries of the same gateway event map to the same event id.
	envelope.EventID = kafka.DeterministicEventID(eventType, reference)
	event := kafka.DepositEvent{
		Envelope:     envelope,
		UserID:       userID,
		WalletNumber: walletNumber,
		Amount:       minorToMajor(amountMinor),
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.topic, reference, event); err != nil {
		s.logger.Error("deposit event publish failed", "reference", reference, "error", err)
	}
}

// minorToMajor converts kobo to naira with two decimal places.
func minorToMajor(amountMinor int64) string {
	return decimal.NewFromInt(amountMinor).Shift(-2).StringFixed(2)
}

func (s *WebhookService) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.WebhooksRejected.WithLabelValues(reason).Inc()
	}
}
