package domain

import (
	"github.com/shopspring/decimal"
)

// Variant is a purchasable size or weight of a product with its own unit price
type Variant struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Product represents a product in the catalog
type Product struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Images      []string        `json:"images"`
	IsNew       bool            `json:"is_new"`
	IsFeatured  bool            `json:"is_featured"`
	Rating      float64         `json:"rating,omitempty"`
	Variants    []Variant       `json:"variants"`
}

// PriceFor returns the unit price of the given variant
func (p *Product) PriceFor(variant string) (decimal.Decimal, bool) {
	for _, v := range p.Variants {
		if v.Name == variant {
			return v.Price, true
		}
	}
	return decimal.Zero, false
}

// DefaultVariant returns the first declared variant, or "" when the product has none
func (p *Product) DefaultVariant() string {
	if len(p.Variants) == 0 {
		return ""
	}
	return p.Variants[0].Name
}

// VariantNames lists variant keys in declaration order
func (p *Product) VariantNames() []string {
	names := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		names = append(names, v.Name)
	}
	return names
}
