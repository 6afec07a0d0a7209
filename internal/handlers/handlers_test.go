package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/J9-tops/secure-wallet-api/internal/auth"
	"github.com/J9-tops/secure-wallet-api/internal/service"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
	authlib "github.com/J9-tops/secure-wallet-api/libs/auth"
)

const testJWTSecret = "handlers-test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubWalletService struct {
	depositResult *service.DepositInitiation
	transferTxn   *storage.Transaction
	wallet        *storage.Wallet
	err           error
}

func (s *stubWalletService) InitiateDeposit(_ context.Context, _ uuid.UUID, _ decimal.Decimal) (*service.DepositInitiation, error) {
	return s.depositResult, s.err
}

func (s *stubWalletService) GetDepositStatus(_ context.Context, _ uuid.UUID, _ string) (*storage.Transaction, error) {
	return s.transferTxn, s.err
}

func (s *stubWalletService) TransferFunds(_ context.Context, _ uuid.UUID, _ string, _ decimal.Decimal) (*storage.Transaction, error) {
	return s.transferTxn, s.err
}

func (s *stubWalletService) GetBalance(_ context.Context, _ uuid.UUID) (*storage.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubWalletService) GetTransactions(_ context.Context, _ uuid.UUID) ([]storage.Transaction, error) {
	return nil, s.err
}

type stubKeyService struct {
	created *service.CreatedKey
	err     error
}

func (s *stubKeyService) Create(_ context.Context, _ uuid.UUID, _ string, _ []string, _ string) (*service.CreatedKey, error) {
	return s.created, s.err
}

func (s *stubKeyService) Rollover(_ context.Context, _, _ uuid.UUID, _ string) (*service.CreatedKey, error) {
	return s.created, s.err
}

func (s *stubKeyService) Revoke(_ context.Context, _, _ uuid.UUID) error { return s.err }

func (s *stubKeyService) List(_ context.Context, _ uuid.UUID) ([]storage.APIKey, error) {
	return nil, s.err
}

func (s *stubKeyService) CountActive(_ context.Context, _ uuid.UUID) (int, error) { return 0, s.err }

type stubKeyStore struct{}

func (stubKeyStore) GetAPIKeyByHash(_ context.Context, _ string) (*storage.APIKey, error) {
	return nil, storage.ErrAPIKeyNotFound
}

func (stubKeyStore) MarkAPIKeyUsed(_ context.Context, _ uuid.UUID) error { return nil }

func setupRouter(t *testing.T, walletSvc WalletService, keySvc KeyService, webhookSvc WebhookProcessor) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	resolver := auth.NewResolver(stubKeyStore{}, testJWTSecret)
	walletH := NewWalletHandler(walletSvc, discardLogger())
	keysH := NewAPIKeyHandler(keySvc, discardLogger())
	webhookH := NewWebhookHandler(webhookSvc, discardLogger(), nil)
	authH := &AuthHandler{Logger: discardLogger(), Clock: systemClock{}}
	RegisterRoutes(router, resolver, authH, walletH, keysH, webhookH)

	token, err := authlib.NewSessionToken(uuid.NewString(), "ada@example.com", []byte(testJWTSecret), time.Hour, time.Now(), "walletd")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return router, token
}

func doJSON(router *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (body %s)", err, w.Body.String())
	}
	return resp.Code
}

func TestTransferErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "insufficient balance", err: storage.ErrInsufficientBalance, wantStatus: http.StatusBadRequest, wantCode: "INSUFFICIENT_BALANCE"},
		{name: "recipient missing", err: storage.ErrRecipientNotFound, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "self transfer", err: storage.ErrSelfTransfer, wantStatus: http.StatusConflict, wantCode: "SELF_TRANSFER"},
		{name: "invalid amount", err: service.ErrInvalidAmount, wantStatus: http.StatusBadRequest, wantCode: "INVALID_AMOUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, token := setupRouter(t, &stubWalletService{err: tt.err}, &stubKeyService{}, nil)
			w := doJSON(router, http.MethodPost, "/wallet/transfer", token, gin.H{"wallet_number": "1234567890123", "amount": "10.00"})
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := errorCode(t, w); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestTransferRequiresAuth(t *testing.T) {
	router, _ := setupRouter(t, &stubWalletService{}, &stubKeyService{}, nil)
	w := doJSON(router, http.MethodPost, "/wallet/transfer", "", gin.H{"wallet_number": "1234567890123", "amount": "10.00"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestDeposit(t *testing.T) {
	svc := &stubWalletService{depositResult: &service.DepositInitiation{
		Reference:        "TXN_ABC123DEF456",
		AuthorizationURL: "https://checkout.paystack.com/xyz",
		Amount:           decimal.NewFromInt(100),
		Status:           storage.TransactionStatusPending,
	}}
	router, token := setupRouter(t, svc, &stubKeyService{}, nil)

	w := doJSON(router, http.MethodPost, "/wallet/deposit", token, gin.H{"amount": "100.00"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	var resp service.DepositInitiation
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AuthorizationURL == "" || resp.Reference == "" {
		t.Errorf("incomplete response: %+v", resp)
	}
}

func TestCreateKeyReturnsPlaintextOnce(t *testing.T) {
	keySvc := &stubKeyService{created: &service.CreatedKey{
		Key: &storage.APIKey{
			ID:          uuid.New(),
			Name:        "ci",
			KeyPrefix:   "sk_live_abcdef123456",
			Permissions: []string{"read"},
			IsActive:    true,
			ExpiresAt:   time.Now().Add(time.Hour),
		},
		Secret: "sk_live_plaintextsecret",
	}}
	router, token := setupRouter(t, &stubWalletService{}, keySvc, nil)

	w := doJSON(router, http.MethodPost, "/api-keys", token, gin.H{"name": "ci", "permissions": []string{"read"}, "expiry": "1D"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["key"] != "sk_live_plaintextsecret" {
		t.Errorf("key = %v", resp["key"])
	}
}

func TestCreateKeyQuotaConflict(t *testing.T) {
	router, token := setupRouter(t, &stubWalletService{}, &stubKeyService{err: storage.ErrQuotaExceeded}, nil)
	w := doJSON(router, http.MethodPost, "/api-keys", token, gin.H{"name": "sixth", "permissions": []string{"read"}, "expiry": "1D"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if got := errorCode(t, w); got != "QUOTA_EXCEEDED" {
		t.Errorf("code = %q", got)
	}
}

func TestRolloverNotExpiredConflict(t *testing.T) {
	router, token := setupRouter(t, &stubWalletService{}, &stubKeyService{err: storage.ErrAPIKeyNotExpired}, nil)
	w := doJSON(router, http.MethodPost, "/api-keys/"+uuid.NewString()+"/rollover", token, gin.H{"expiry": "1M"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if got := errorCode(t, w); got != "KEY_NOT_EXPIRED" {
		t.Errorf("code = %q", got)
	}
}

func TestWebhookSignatureRequired(t *testing.T) {
	store := &stubWebhookStore{}
	webhookSvc := service.NewWebhookService(store, "whsec", nil, "", nil, nil)
	router, _ := setupRouter(t, &stubWalletService{}, &stubKeyService{}, webhookSvc)

	req := httptest.NewRequest(http.MethodPost, "/webhook/paystack", bytes.NewBufferString(`{"event":"charge.success"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestWebhookUnknownReferenceAcknowledged(t *testing.T) {
	store := &stubWebhookStore{}
	webhookSvc := service.NewWebhookService(store, "whsec", nil, "", nil, nil)
	router, _ := setupRouter(t, &stubWalletService{}, &stubKeyService{}, webhookSvc)

	body := []byte(`{"event":"charge.success","data":{"reference":"TXN_NEVERISSUED1","amount":10000,"status":"success"}}`)
	mac := hmac.New(sha512.New, []byte("whsec"))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhook/paystack", bytes.NewBuffer(body))
	req.Header.Set("X-Paystack-Signature", hex.EncodeToString(mac.Sum(nil)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp service.WebhookResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ignored || resp.Processed {
		t.Errorf("unexpected result: %+v", resp)
	}
}

type stubWebhookStore struct{}

func (stubWebhookStore) ApplyDepositWebhook(_ context.Context, _ string, _ int64, _ string) (*storage.WebhookOutcome, error) {
	return nil, storage.ErrTransactionNotFound
}
