package order

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func completeDelivery() *Snapshot {
	return &Snapshot{
		ID:            "o1",
		Type:          TypeDelivery,
		CustomerName:  "Ana",
		CustomerPhone: "11 99999-0000",
		Address:       "Rua A",
		Neighborhood:  &Neighborhood{Name: "Centro", Fee: decimal.NewFromInt(5)},
		PaymentMethod: "pix",
	}
}

func TestIsDeliveryDetailsFilled(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   bool
	}{
		{"complete entrega", func(s *Snapshot) {}, true},
		{"entrega without name", func(s *Snapshot) { s.CustomerName = "" }, false},
		{"entrega without phone", func(s *Snapshot) { s.CustomerPhone = "  " }, false},
		{"entrega without address", func(s *Snapshot) { s.Address = "" }, false},
		{"entrega without neighborhood", func(s *Snapshot) { s.Neighborhood = nil }, false},
		{"entrega with unnamed neighborhood", func(s *Snapshot) { s.Neighborhood.Name = "" }, false},
		{"entrega without payment", func(s *Snapshot) { s.PaymentMethod = "" }, false},
		{"complete retirada", func(s *Snapshot) {
			s.Type = TypePickup
			s.CustomerPhone, s.Address, s.Neighborhood = "", "", nil
		}, true},
		{"retirada without name", func(s *Snapshot) { s.Type = TypePickup; s.CustomerName = "" }, false},
		{"retirada without payment", func(s *Snapshot) { s.Type = TypePickup; s.PaymentMethod = "" }, false},
		{"mesa is always complete", func(s *Snapshot) { *s = Snapshot{Type: TypeTable} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := completeDelivery()
			tt.mutate(s)
			if got := IsDeliveryDetailsFilled(s); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if IsDeliveryDetailsFilled(nil) {
		t.Error("nil snapshot must not be complete")
	}
}

func TestItemTotals(t *testing.T) {
	item := Item{
		Quantity: 2,
		Product:  Product{Name: "X-Burger", Price: decimal.RequireFromString("20.50")},
		SelectedAddons: []Addon{
			{Name: "Bacon", Price: decimal.RequireFromString("3.00")},
			{Name: "Sem cebola", Price: decimal.Zero},
		},
	}
	if got := item.UnitPrice().StringFixed(2); got != "23.50" {
		t.Errorf("unit price: got %s", got)
	}
	if got := item.LineTotal().StringFixed(2); got != "47.00" {
		t.Errorf("line total: got %s", got)
	}
}

func TestHTTPProducer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/42":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"number":42,"type":"retirada","customerName":"Bia","paymentMethod":"dinheiro",
				"items":[{"quantity":1,"product":{"name":"Coca","price":"6.5","categoryId":"bebidas"}}],
				"subtotal":"6.50","deliveryFee":0,"total":"6.50","changeFor":"10"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPProducer(srv.URL+"/", 0)
	snap, err := p.Snapshot(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if snap.ID != "42" || snap.Number != 42 || snap.Type != TypePickup {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if !snap.IsCash() {
		t.Error("dinheiro should be cash")
	}
	if snap.ChangeFor == nil || snap.ChangeFor.StringFixed(2) != "10.00" {
		t.Errorf("changeFor: %v", snap.ChangeFor)
	}
	if got := snap.Items[0].Product.Price.StringFixed(2); got != "6.50" {
		t.Errorf("price: %s", got)
	}

	if _, err := p.Snapshot(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMemoryProducer(t *testing.T) {
	p := NewMemoryProducer()
	p.Put(completeDelivery())
	if _, err := p.Snapshot(context.Background(), "o1"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Snapshot(context.Background(), "o2"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("got %v", err)
	}
}
