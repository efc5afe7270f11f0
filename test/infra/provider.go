package infra

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// FakeProvider is an in-memory payment provider for integration tests. It
// honors idempotency keys, so a retried operation is applied at most once,
// and remembers every applied key so tests can assert that money never
// moved twice for one order.
type FakeProvider struct {
	mu      sync.Mutex
	applied map[string]bool

	// FailHolds makes every hold request fail with insufficient funds.
	FailHolds bool

	Server *httptest.Server
}

func NewFakeProvider() *FakeProvider {
	p := &FakeProvider{applied: make(map[string]bool)}
	p.Server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

func (p *FakeProvider) Close() {
	p.Server.Close()
}

// URL returns the provider's base URL.
func (p *FakeProvider) URL() string {
	return p.Server.URL
}

// Applied reports whether the idempotency key was ever applied.
func (p *FakeProvider) Applied(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied[key]
}

// DoubleSettledOrders returns orders for which more than one settlement
// operation (release, refund, split) was applied. Any entry is a double
// movement of the held funds.
func (p *FakeProvider) DoubleSettledOrders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	settlements := make(map[string]int)
	for key := range p.applied {
		for _, op := range []string{"escrow-release:", "escrow-refund:", "escrow-split:"} {
			if orderID, ok := strings.CutPrefix(key, op); ok {
				settlements[orderID]++
			}
		}
	}

	var out []string
	for orderID, n := range settlements {
		if n > 1 {
			out = append(out, orderID)
		}
	}
	return out
}

func (p *FakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"code": "missing_idempotency_key"})
		return
	}

	if p.FailHolds && r.URL.Path == "/holds" {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"code": "insufficient_funds"})
		return
	}

	p.mu.Lock()
	p.applied[key] = true
	p.mu.Unlock()

	// Replays succeed without a second application.
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
