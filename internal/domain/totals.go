package domain

import "github.com/shopspring/decimal"

// ShippingPolicy charges a flat fee below a subtotal threshold and ships free at or above it
type ShippingPolicy struct {
	FreeThreshold decimal.Decimal
	Fee           decimal.Decimal
}

// DefaultShippingPolicy is free shipping from 200, otherwise 50
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		FreeThreshold: decimal.NewFromInt(200),
		Fee:           decimal.NewFromInt(50),
	}
}

// Totals are the derived money figures of a cart
type Totals struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	Shipping              decimal.Decimal `json:"shipping"`
	Total                 decimal.Decimal `json:"total"`
	FreeShippingRemaining decimal.Decimal `json:"free_shipping_remaining"`
	ItemCount             int             `json:"item_count"`
}

// ShippingFor returns the shipping fee for a subtotal. Nothing to ship costs nothing.
func (p ShippingPolicy) ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.Fee
}

// Totals computes all derived figures for the cart
func (p ShippingPolicy) Totals(c *Cart) Totals {
	subtotal := c.Subtotal()
	shipping := p.ShippingFor(subtotal)

	remaining := decimal.Zero
	if subtotal.LessThan(p.FreeThreshold) {
		remaining = p.FreeThreshold.Sub(subtotal)
	}

	return Totals{
		Subtotal:              subtotal,
		Shipping:              shipping,
		Total:                 subtotal.Add(shipping),
		FreeShippingRemaining: remaining,
		ItemCount:             c.ItemCount(),
	}
}
