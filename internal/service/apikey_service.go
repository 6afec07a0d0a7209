package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/J9-tops/secure-wallet-api/internal/storage"
	"github.com/J9-tops/secure-wallet-api/libs/apikey"
)

var (
	ErrInvalidExpiry     = errors.New("expiry must be one of 1H, 1D, 1M, 1Y")
	ErrMissingKeyName    = errors.New("key name is required")
	ErrNoPermissions     = errors.New("at least one permission is required")
	ErrUnknownPermission = errors.New("unknown permission")
)

// Permissions recognized on API keys. Enforcement happens at the request
// boundary; keys store whatever subset they were created with.
var knownPermissions = map[string]bool{
	"deposit":  true,
	"transfer": true,
	"read":     true,
}

// APIKeyStore is the storage surface the key service needs.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, permissions []string, expiresAt time.Time, gen storage.KeyGenerator) (*storage.APIKey, string, error)
	RolloverAPIKey(ctx context.Context, userID, keyID uuid.UUID, expiresAt time.Time, gen storage.KeyGenerator) (*storage.APIKey, string, error)
	RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]storage.APIKey, error)
	CountActiveAPIKeys(ctx context.Context, userID uuid.UUID) (int, error)
}

type APIKeyService struct {
	store   APIKeyStore
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewAPIKeyService(store APIKeyStore, logger *slog.Logger, metrics *Metrics) *APIKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyService{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// CreatedKey carries the one-time plaintext secret next to the stored record.
type CreatedKey struct {
	Key    *storage.APIKey
	Secret string
}

func (s *APIKeyService) Create(ctx context.Context, userID uuid.UUID, name string, permissions []string, expiryCode string) (*CreatedKey, error) {
	if name == "" {
		return nil, ErrMissingKeyName
	}
	if err := validatePermissions(permissions); err != nil {
		return nil, err
	}
	expiresAt, err := ParseExpiry(expiryCode, s.now().UTC())
	if err != nil {
		return nil, err
	}

	key, secret, err := s.store.CreateAPIKey(ctx, userID, name, permissions, expiresAt, apikey.Generate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("api key created", "user_id", userID, "key_id", key.ID, "prefix", key.KeyPrefix, "expires_at", key.ExpiresAt)
	if s.metrics != nil {
		s.metrics.KeysCreated.Inc()
	}
	return &CreatedKey{Key: key, Secret: secret}, nil
}

// Rollover revokes an expired key and issues its replacement with the same
// name and permissions.
func (s *APIKeyService) Rollover(ctx context.Context, userID, keyID uuid.UUID, expiryCode string) (*CreatedKey, error) {
	expiresAt, err := ParseExpiry(expiryCode, s.now().UTC())
	if err != nil {
		return nil, err
	}

	key, secret, err := s.store.RolloverAPIKey(ctx, userID, keyID, expiresAt, apikey.Generate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("api key rolled over", "user_id", userID, "old_key_id", keyID, "new_key_id", key.ID)
	if s.metrics != nil {
		s.metrics.KeysCreated.Inc()
	}
	return &CreatedKey{Key: key, Secret: secret}, nil
}

func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID uuid.UUID) error {
	if err := s.store.RevokeAPIKey(ctx, userID, keyID); err != nil {
		return err
	}
	s.logger.Info("api key revoked", "user_id", userID, "key_id", keyID)
	if s.metrics != nil {
		s.metrics.KeysRevoked.Inc()
	}
	return nil
}

func (s *APIKeyService) List(ctx context.Context, userID uuid.UUID) ([]storage.APIKey, error) {
	return s.store.ListAPIKeys(ctx, userID)
}

func (s *APIKeyService) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountActiveAPIKeys(ctx, userID)
}

// ParseExpiry maps an expiry code to an absolute UTC expiry. Months and years
// are fixed spans of 30 and 365 days.
func ParseExpiry(code string, now time.Time) (time.Time, error) {
	switch code {
	case "1H":
		return now.Add(time.Hour), nil
	case "1D":
		return now.Add(24 * time.Hour), nil
	case "1M":
		return now.Add(30 * 24 * time.Hour), nil
	case "1Y":
		return now.Add(365 * 24 * time.Hour), nil
	default:
		return time.Time{}, ErrInvalidExpiry
	}
}

func validatePermissions(permissions []string) error {
	if len(permissions) == 0 {
		return ErrNoPermissions
	}
	for _, p := range permissions {
		if !knownPermissions[p] {
			return ErrUnknownPermission
		}
	}
	return nil
}
