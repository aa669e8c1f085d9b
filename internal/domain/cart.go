package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidVariant  = errors.New("variant is not offered for this product")
	ErrLineNotFound    = errors.New("cart line not found")
)

// LineKey identifies a cart line. A product appears once per variant.
type LineKey struct {
	ProductID int
	Variant   string
}

// CartLine is one product variant in a cart together with the unit price
// captured when it was first added
type CartLine struct {
	ProductID   int             `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Image       string          `json:"image" db:"product_image"`
	Category    string          `json:"category" db:"category"`
	Variant     string          `json:"variant" db:"variant"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Key returns the uniqueness key of the line
func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Variant: l.Variant}
}

// LineTotal returns unit price times quantity
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart holds the line items of one shopper session. Totals are never stored;
// they are always summed from Lines.
type Cart struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// NewCart creates an empty cart
func NewCart(id uuid.UUID) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        id,
		Lines:     []CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) indexOf(key LineKey) int {
	for i, line := range c.Lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

// Line returns a copy of the line with the given key
func (c *Cart) Line(productID int, variant string) (CartLine, bool) {
	i := c.indexOf(LineKey{ProductID: productID, Variant: variant})
	if i < 0 {
		return CartLine{}, false
	}
	return c.Lines[i], true
}

// AddItem merges quantity into the existing line for (product, variant) or
// appends a new line priced at the variant's current price.
func (c *Cart) AddItem(product *Product, variant string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	price, ok := product.PriceFor(variant)
	if !ok {
		return ErrInvalidVariant
	}

	if i := c.indexOf(LineKey{ProductID: product.ID, Variant: variant}); i >= 0 {
		c.Lines[i].Quantity += quantity
		c.touch()
		return nil
	}

	c.Lines = append(c.Lines, CartLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		Image:       product.Image,
		Category:    product.Category,
		Variant:     variant,
		Quantity:    quantity,
		UnitPrice:   price,
	})
	c.touch()
	return nil
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less
// behaves like RemoveItem, so it never fails on an absent line.
func (c *Cart) UpdateQuantity(productID int, variant string, quantity int) error {
	if quantity <= 0 {
		c.RemoveItem(productID, variant)
		return nil
	}

	i := c.indexOf(LineKey{ProductID: productID, Variant: variant})
	if i < 0 {
		return ErrLineNotFound
	}

	c.Lines[i].Quantity = quantity
	c.touch()
	return nil
}

// RemoveItem drops the line if present
func (c *Cart) RemoveItem(productID int, variant string) {
	if i := c.indexOf(LineKey{ProductID: productID, Variant: variant}); i >= 0 {
		c.removeAt(i)
	}
}

// Clear removes every line
func (c *Cart) Clear() {
	c.Lines = []CartLine{}
	c.touch()
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Subtotal sums line totals
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// ItemCount sums line quantities
func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

// Clone returns a deep copy
func (c *Cart) Clone() *Cart {
	clone := *c
	clone.Lines = make([]CartLine, len(c.Lines))
	copy(clone.Lines, c.Lines)
	return &clone
}

func (c *Cart) removeAt(i int) {
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	c.touch()
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now().UTC()
}
