package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"commerce-service/config"
)

// RefundClient issues refunds against captured payments. Implementations
// are injected so the cancellation flow can be tested without a live
// gateway.
type RefundClient interface {
	CreateRefund(ctx context.Context, paymentID string, amountMinorUnits int64, notes map[string]string) (*GatewayRefund, error)
}

// GatewayRefund is the gateway's view of an issued refund. Amount is in
// minor currency units.
type GatewayRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// GatewayError is a provider-side refund failure.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"description"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// RazorpayClient implements RefundClient against the Razorpay refund API.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

// NewRazorpayClient creates a refund client from gateway config
func NewRazorpayClient(cfg config.GatewayConfig) *RazorpayClient {
	return &RazorpayClient{
		baseURL:   cfg.BaseURL,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

type refundRequest struct {
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type gatewayErrorEnvelope struct {
	Error GatewayError `json:"error"`
}

// CreateRefund refunds a captured payment. The call is synchronous; the
// gateway's own timeout bounds it, there is no local retry.
func (c *RazorpayClient) CreateRefund(ctx context.Context, paymentID string, amountMinorUnits int64, notes map[string]string) (*GatewayRefund, error) {
	body, err := json.Marshal(refundRequest{Amount: amountMinorUnits, Notes: notes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/payments/%s/refund", c.baseURL, paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refund request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refund response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope gatewayErrorEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error.Message != "" {
			return nil, &envelope.Error
		}
		return nil, &GatewayError{
			Code:    http.StatusText(resp.StatusCode),
			Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}
	}

	var refund GatewayRefund
	if err := json.Unmarshal(respBody, &refund); err != nil {
		return nil, fmt.Errorf("failed to decode refund response: %w", err)
	}
	return &refund, nil
}

// refundGuardTTL bounds how long the per-order refund guard is held when a
// process dies between the gateway call and the local commit.
const refundGuardTTL = 10 * time.Minute
