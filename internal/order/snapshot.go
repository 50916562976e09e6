// Package order holds the read-only order snapshot the receipt formatter
// consumes and the producers that fetch it from the order store.
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeDelivery Type = "entrega"
	TypePickup   Type = "retirada"
	TypeTable    Type = "mesa"
)

const PaymentCash = "dinheiro"

type Snapshot struct {
	ID            string           `json:"id"`
	Number        int              `json:"number"`
	Type          Type             `json:"type"`
	CreatedAt     time.Time        `json:"createdAt"`
	CustomerName  string           `json:"customerName,omitempty"`
	CustomerPhone string           `json:"customerPhone,omitempty"`
	Items         []Item           `json:"items"`
	Address       string           `json:"address,omitempty"`
	AddressNumber string           `json:"addressNumber,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	Neighborhood  *Neighborhood    `json:"neighborhood,omitempty"`
	Observation   string           `json:"observation,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	DeliveryFee   decimal.Decimal  `json:"deliveryFee"`
	Total         decimal.Decimal  `json:"total"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	ChangeFor     *decimal.Decimal `json:"changeFor,omitempty"`
}

type Neighborhood struct {
	Name string          `json:"name"`
	Fee  decimal.Decimal `json:"fee"`
}

type Item struct {
	Quantity       int          `json:"quantity"`
	Product        Product      `json:"product"`
	SelectedAddons []Addon      `json:"selectedAddons,omitempty"`
	Observation    string       `json:"observation,omitempty"`
	PizzaDetail    *PizzaDetail `json:"pizzaDetail,omitempty"`
}

type Product struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName,omitempty"`
}

type Addon struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type PizzaDetail struct {
	SizeName   string   `json:"sizeName"`
	Flavors    []Flavor `json:"flavors"`
	BorderName string   `json:"borderName,omitempty"`
}

type Flavor struct {
	Name               string   `json:"name"`
	RemovedIngredients []string `json:"removedIngredients,omitempty"`
	Observation        string   `json:"observation,omitempty"`
}

// UnitPrice is the product price plus every selected addon.
func (i Item) UnitPrice() decimal.Decimal {
	total := i.Product.Price
	for _, a := range i.SelectedAddons {
		total = total.Add(a.Price)
	}
	return total
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// IsCash reports whether the order is paid in cash, the only method with change.
func (s *Snapshot) IsCash() bool {
	return strings.EqualFold(strings.TrimSpace(s.PaymentMethod), PaymentCash)
}

// IsDeliveryDetailsFilled gates delivery-summary formatting. An entrega order
// needs customer name, phone, address, neighborhood name and payment method; a
// retirada order needs customer name and payment method. Other order types
// carry no delivery details and are always complete.
func IsDeliveryDetailsFilled(s *Snapshot) bool {
	if s == nil {
		return false
	}
	present := func(v string) bool { return strings.TrimSpace(v) != "" }

	switch s.Type {
	case TypeDelivery:
		return present(s.CustomerName) &&
			present(s.CustomerPhone) &&
			present(s.Address) &&
			s.Neighborhood != nil && present(s.Neighborhood.Name) &&
			present(s.PaymentMethod)
	case TypePickup:
		return present(s.CustomerName) && present(s.PaymentMethod)
	default:
		return true
	}
}
