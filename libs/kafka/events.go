package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	EventDepositCredited   = "wallet.deposit.credited"
	EventDepositFailed     = "wallet.deposit.failed"
	EventTransferCompleted = "wallet.transfer.completed"
)

type Envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	Timestamp    time.Time `json:"timestamp"`
	Reference    string    `json:"reference,omitempty"`
}

// DepositEvent is published after a webhook credit (or failure) commits.
type DepositEvent struct {
	Envelope
	UserID       string `json:"user_id"`
	WalletNumber string `json:"wallet_number"`
	Amount       string `json:"amount"`
}

// TransferEvent is published after a transfer commits.
type TransferEvent struct {
	Envelope
	SenderUserID          string `json:"sender_user_id"`
	RecipientWalletNumber string `json:"recipient_wallet_number"`
	Amount                string `json:"amount"`
}

func NewEnvelope(eventType string, version int, reference string) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, fmt.Errorf("event_type is required")
	}
	if version <= 0 {
		return Envelope{}, fmt.Errorf("event_version must be positive")
	}

	return Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: version,
		Timestamp:    time.Now().UTC(),
		Reference:    reference,
	}, nil
}

// DeterministicEventID derives a stable event id from transaction identity so
// redelivered webhooks produce the same event id downstream.
func DeterministicEventID(parts ...string) string {
	joined := strings.Join(parts, "|")
	if joined == "" {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(joined)).String()
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EventVersion <= 0 {
		return fmt.Errorf("event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
