package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

// Producer is the read side of the order store, as seen by the print pipeline.
type Producer interface {
	Snapshot(ctx context.Context, orderID string) (*Snapshot, error)
}

// HTTPProducer fetches snapshots from the order-management service at
// GET {BaseURL}/orders/{id}.
type HTTPProducer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProducer(baseURL string, timeout time.Duration) *HTTPProducer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProducer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProducer) Snapshot(ctx context.Context, orderID string) (*Snapshot, error) {
	endpoint := fmt.Sprintf("%s/orders/%s", p.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("failed to fetch order %s: http error: %d", orderID, resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", orderID, err)
	}
	if snap.ID == "" {
		snap.ID = orderID
	}
	return &snap, nil
}

// MemoryProducer serves snapshots held in memory.
type MemoryProducer struct {
	mu     sync.RWMutex
	orders map[string]*Snapshot
}

func NewMemoryProducer() *MemoryProducer {
	return &MemoryProducer{orders: make(map[string]*Snapshot)}
}

func (p *MemoryProducer) Put(s *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[s.ID] = s
}

func (p *MemoryProducer) Snapshot(_ context.Context, orderID string) (*Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return s, nil
}
