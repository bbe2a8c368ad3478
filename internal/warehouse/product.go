package warehouse

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Quantity is the authoritative total across the warehouse.
type Product struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// NewProduct validates and builds a Product.
func NewProduct(name, sku string, price decimal.Decimal, quantity int) (Product, error) {
	p := Product{SKU: strings.TrimSpace(sku), Name: strings.TrimSpace(name), Price: price, Quantity: quantity}
	if err := p.validate(); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (p Product) validate() error {
	if p.SKU == "" {
		return fmt.Errorf("%w: sku is required", ErrInvalidProduct)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if p.Quantity < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

// UpdateQuantity applies a signed delta. It fails without mutation when the
// total would become negative.
func (p *Product) UpdateQuantity(delta int) error {
	if p.Quantity+delta < 0 {
		return fmt.Errorf("%w: %s has %d, change %d", ErrNegativeQuantity, p.SKU, p.Quantity, delta)
	}
	p.Quantity += delta
	return nil
}

// UpdatePrice replaces the price unless it is negative.
func (p *Product) UpdatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	p.Price = price
	return nil
}

// Value returns price times quantity.
func (p Product) Value() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

func (p Product) String() string {
	return fmt.Sprintf("%s (SKU: %s) - $%s, Qty: %d", p.Name, p.SKU, p.Price.StringFixed(2), p.Quantity)
}
