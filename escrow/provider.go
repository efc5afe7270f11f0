package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds signals the client's payment method could not
	// cover the hold.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrProvider signals any other payment provider failure, including
	// timeouts. Callers must treat the operation as not applied and retry
	// with the same idempotency key.
	ErrProvider = errors.New("escrow: payment provider failure")
)

// ProviderRequest carries one money movement to the payment provider. The
// idempotency key is order-scoped per logical operation, so a retry after a
// timeout is applied at most once.
type ProviderRequest struct {
	IdempotencyKey     string          `json:"idempotency_key"`
	OrderID            string          `json:"order_id"`
	Amount             decimal.Decimal `json:"amount"`
	AmountToClient     decimal.Decimal `json:"amount_to_client"`
	AmountToTechnician decimal.Decimal `json:"amount_to_technician"`
}

// PaymentProvider is the external money-movement collaborator.
type PaymentProvider interface {
	Hold(ctx context.Context, req ProviderRequest) error
	Release(ctx context.Context, req ProviderRequest) error
	Refund(ctx context.Context, req ProviderRequest) error
	Split(ctx context.Context, req ProviderRequest) error
}

// HTTPProvider calls a payment provider over HTTP/JSON with an explicit
// request timeout.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Hold(ctx context.Context, req ProviderRequest) error {
	return p.post(ctx, "/holds", req)
}

func (p *HTTPProvider) Release(ctx context.Context, req ProviderRequest) error {
	return p.post(ctx, "/holds/"+req.OrderID+"/release", req)
}

func (p *HTTPProvider) Refund(ctx context.Context, req ProviderRequest) error {
	return p.post(ctx, "/holds/"+req.OrderID+"/refund", req)
}

func (p *HTTPProvider) Split(ctx context.Context, req ProviderRequest) error {
	return p.post(ctx, "/holds/"+req.OrderID+"/split", req)
}

func (p *HTTPProvider) post(ctx context.Context, path string, body ProviderRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("escrow: marshal provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("escrow: build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", body.IdempotencyKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var detail struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(raw, &detail)

	if resp.StatusCode == http.StatusPaymentRequired && detail.Code == "insufficient_funds" {
		return ErrInsufficientFunds
	}
	return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, detail.Code)
}
