package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestHTTPProvider_Hold(t *testing.T) {
	var got ProviderRequest
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/holds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	req := ProviderRequest{
		IdempotencyKey: "escrow-hold:order-1",
		OrderID:        "order-1",
		Amount:         decimal.RequireFromString("150.00"),
	}
	if err := p.Hold(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "escrow-hold:order-1" {
		t.Errorf("expected idempotency key on header, got %q", gotKey)
	}
	if got.OrderID != "order-1" || !got.Amount.Equal(req.Amount) {
		t.Errorf("unexpected request body: %+v", got)
	}
}

func TestHTTPProvider_InsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"code": "insufficient_funds"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	err := p.Hold(context.Background(), ProviderRequest{OrderID: "order-1", Amount: decimal.NewFromInt(100)})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestHTTPProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	err := p.Release(context.Background(), ProviderRequest{OrderID: "order-1"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 20*time.Millisecond)
	err := p.Refund(context.Background(), ProviderRequest{OrderID: "order-1"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider on timeout, got %v", err)
	}
}

func TestHTTPProvider_Paths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	ctx := context.Background()
	req := ProviderRequest{OrderID: "order-7", Amount: decimal.NewFromInt(50)}

	p.Hold(ctx, req)
	p.Release(ctx, req)
	p.Refund(ctx, req)
	p.Split(ctx, req)

	want := []string{"/holds", "/holds/order-7/release", "/holds/order-7/refund", "/holds/order-7/split"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(paths))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}
