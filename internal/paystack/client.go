// Package paystack is a minimal client for the two Paystack endpoints the
// wallet uses: initializing a hosted checkout and verifying a charge.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	requestTimeout = 30 * time.Second
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, secretKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

type initializeRequest struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitializeTransaction opens a hosted checkout session. Paystack takes
// amounts in kobo, so the major-unit amount is shifted before sending.
func (c *Client) InitializeTransaction(ctx context.Context, email string, amount decimal.Decimal, reference string) (string, error) {
	payload := initializeRequest{
		Email:     email,
		Amount:    amount.Shift(2).IntPart(),
		Reference: reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	var result initializeResponse
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if !result.Status || result.Data.AuthorizationURL == "" {
		return "", fmt.Errorf("%w: %s", ErrGatewayUnavailable, result.Message)
	}
	return result.Data.AuthorizationURL, nil
}

type VerifyResult struct {
	Status    string
	Amount    int64
	Reference string
	PaidAt    string
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// VerifyTransaction fetches the gateway's view of a charge by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	var result verifyResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if !result.Status {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, result.Message)
	}
	return &VerifyResult{
		Status:    result.Data.Status,
		Amount:    result.Data.Amount,
		Reference: result.Data.Reference,
		PaidAt:    result.Data.PaidAt,
	}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("paystack request failed", "url", req.URL.Path, "error", err)
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Error("paystack server error", "url", req.URL.Path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("paystack request rejected: status %d body %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: bad response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}
