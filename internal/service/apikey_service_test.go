package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/J9-tops/secure-wallet-api/internal/storage"
)

type fakeKeyStore struct {
	keys       map[uuid.UUID]*storage.APIKey
	createErr  error
	rollErr    error
	lastExpiry time.Time
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[uuid.UUID]*storage.APIKey)}
}

func (f *fakeKeyStore) CreateAPIKey(_ context.Context, userID uuid.UUID, name string, permissions []string, expiresAt time.Time, gen storage.KeyGenerator) (*storage.APIKey, string, error) {
	if f.createErr != nil {
		return nil, "", f.createErr
	}
	secret, prefix, hash, err := gen()
	if err != nil {
		return nil, "", err
	}
	f.lastExpiry = expiresAt
	key := &storage.APIKey{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Permissions: permissions,
		IsActive:    true,
		ExpiresAt:   expiresAt,
	}
	f.keys[key.ID] = key
	return key, secret, nil
}

func (f *fakeKeyStore) RolloverAPIKey(_ context.Context, userID, keyID uuid.UUID, expiresAt time.Time, gen storage.KeyGenerator) (*storage.APIKey, string, error) {
	if f.rollErr != nil {
		return nil, "", f.rollErr
	}
	old, ok := f.keys[keyID]
	if !ok {
		return nil, "", storage.ErrAPIKeyNotFound
	}
	old.IsRevoked = true
	old.IsActive = false
	return f.CreateAPIKey(context.Background(), userID, old.Name, old.Permissions, expiresAt, gen)
}

func (f *fakeKeyStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, keyID uuid.UUID) error {
	key, ok := f.keys[keyID]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	if key.IsRevoked {
		return storage.ErrAPIKeyRevoked
	}
	key.IsRevoked = true
	key.IsActive = false
	return nil
}

func (f *fakeKeyStore) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]storage.APIKey, error) {
	var out []storage.APIKey
	for _, k := range f.keys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeKeyStore) CountActiveAPIKeys(_ context.Context, userID uuid.UUID) (int, error) {
	count := 0
	now := time.Now().UTC()
	for _, k := range f.keys {
		if k.UserID == userID && k.ActiveAt(now) {
			count++
		}
	}
	return count, nil
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		code    string
		want    time.Time
		wantErr bool
	}{
		{code: "1H", want: now.Add(time.Hour)},
		{code: "1D", want: now.Add(24 * time.Hour)},
		{code: "1M", want: now.Add(30 * 24 * time.Hour)},
		{code: "1Y", want: now.Add(365 * 24 * time.Hour)},
		{code: "2H", wantErr: true},
		{code: "1h", wantErr: true},
		{code: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseExpiry(tt.code, now)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidExpiry) {
				t.Errorf("ParseExpiry(%q): err = %v, want ErrInvalidExpiry", tt.code, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseExpiry(%q): %v", tt.code, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseExpiry(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCreateKeyReturnsSecretOnce(t *testing.T) {
	store := newFakeKeyStore()
	svc := NewAPIKeyService(store, nil, nil)
	userID := uuid.New()

	created, err := svc.Create(context.Background(), userID, "billing", []string{"deposit", "read"}, "1M")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Secret == "" {
		t.Fatal("expected plaintext secret")
	}
	if created.Key.KeyHash == created.Secret {
		t.Error("stored hash must not equal the secret")
	}
	if got := created.Key.KeyPrefix; len(got) != 20 {
		t.Errorf("prefix length = %d, want 20", len(got))
	}
}

func TestCreateKeyValidation(t *testing.T) {
	store := newFakeKeyStore()
	svc := NewAPIKeyService(store, nil, nil)
	userID := uuid.New()

	tests := []struct {
		name        string
		keyName     string
		permissions []string
		expiry      string
		wantErr     error
	}{
		{name: "missing name", keyName: "", permissions: []string{"read"}, expiry: "1D", wantErr: ErrMissingKeyName},
		{name: "no permissions", keyName: "ci", permissions: nil, expiry: "1D", wantErr: ErrNoPermissions},
		{name: "unknown permission", keyName: "ci", permissions: []string{"admin"}, expiry: "1D", wantErr: ErrUnknownPermission},
		{name: "bad expiry", keyName: "ci", permissions: []string{"read"}, expiry: "6M", wantErr: ErrInvalidExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), userID, tt.keyName, tt.permissions, tt.expiry); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateKeyQuotaError(t *testing.T) {
	store := newFakeKeyStore()
	store.createErr = storage.ErrQuotaExceeded
	svc := NewAPIKeyService(store, nil, nil)

	_, err := svc.Create(context.Background(), uuid.New(), "sixth", []string{"read"}, "1D")
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestRolloverKeepsNameAndPermissions(t *testing.T) {
	store := newFakeKeyStore()
	svc := NewAPIKeyService(store, nil, nil)
	userID := uuid.New()

	created, err := svc.Create(context.Background(), userID, "reporting", []string{"read"}, "1H")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rolled, err := svc.Rollover(context.Background(), userID, created.Key.ID, "1Y")
	if err != nil {
		t.Fatalf("Rollover: %v", err)
	}
	if rolled.Key.Name != "reporting" {
		t.Errorf("name = %q, want reporting", rolled.Key.Name)
	}
	if rolled.Secret == created.Secret {
		t.Error("rollover must mint a fresh secret")
	}
	if !store.keys[created.Key.ID].IsRevoked {
		t.Error("old key must be revoked")
	}
}

func TestRevoke(t *testing.T) {
	store := newFakeKeyStore()
	svc := NewAPIKeyService(store, nil, nil)
	userID := uuid.New()

	created, err := svc.Create(context.Background(), userID, "ops", []string{"transfer"}, "1D")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(context.Background(), userID, created.Key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(context.Background(), userID, created.Key.ID); !errors.Is(err, storage.ErrAPIKeyRevoked) {
		t.Errorf("second revoke: err = %v, want ErrAPIKeyRevoked", err)
	}

	count, err := svc.CountActive(context.Background(), userID)
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if count != 0 {
		t.Errorf("active count = %d, want 0", count)
	}
}
