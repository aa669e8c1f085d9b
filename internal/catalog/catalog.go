// Package catalog serves the storefront's product list. Products are fixed at
// build time: the list is embedded into the binary and never mutated.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"casham-store/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed products.yaml
var embeddedProducts []byte

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidCatalog  = errors.New("invalid catalog")
)

// Catalog defines read access to the product list
type Catalog interface {
	All() []*domain.Product
	ByID(id int) (*domain.Product, error)
	ByCategory(category string) []*domain.Product
	Featured() []*domain.Product
	New() []*domain.Product
	Categories() []string
}

type productRecord struct {
	ID          int             `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Category    string          `yaml:"category"`
	Price       string          `yaml:"price"`
	Image       string          `yaml:"image"`
	Images      []string        `yaml:"images"`
	IsNew       bool            `yaml:"is_new"`
	IsFeatured  bool            `yaml:"is_featured"`
	Rating      float64         `yaml:"rating"`
	Weights     []variantRecord `yaml:"weights"`
}

type variantRecord struct {
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
}

type staticCatalog struct {
	products []*domain.Product
	byID     map[int]*domain.Product
}

// New loads the embedded product list
func New() (Catalog, error) {
	return Load(embeddedProducts)
}

// Load parses and validates a YAML product list
func Load(data []byte) (Catalog, error) {
	var records []productRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &staticCatalog{
		products: make([]*domain.Product, 0, len(records)),
		byID:     make(map[int]*domain.Product, len(records)),
	}

	for _, rec := range records {
		product, err := rec.toProduct()
		if err != nil {
			return nil, err
		}
		if _, exists := c.byID[product.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate product id %d", ErrInvalidCatalog, product.ID)
		}
		c.products = append(c.products, product)
		c.byID[product.ID] = product
	}

	return c, nil
}

func (r productRecord) toProduct() (*domain.Product, error) {
	if strings.TrimSpace(r.Name) == "" {
		return nil, fmt.Errorf("%w: product %d has no name", ErrInvalidCatalog, r.ID)
	}
	if len(r.Weights) == 0 {
		return nil, fmt.Errorf("%w: product %d has no variants", ErrInvalidCatalog, r.ID)
	}

	variants := make([]domain.Variant, 0, len(r.Weights))
	seen := make(map[string]bool, len(r.Weights))
	for _, w := range r.Weights {
		if seen[w.Name] {
			return nil, fmt.Errorf("%w: product %d repeats variant %q", ErrInvalidCatalog, r.ID, w.Name)
		}
		seen[w.Name] = true

		price, err := parsePrice(w.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d variant %q: %v", ErrInvalidCatalog, r.ID, w.Name, err)
		}
		variants = append(variants, domain.Variant{Name: w.Name, Price: price})
	}

	// Display price falls back to the default variant
	price := variants[0].Price
	if r.Price != "" {
		p, err := parsePrice(r.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: %v", ErrInvalidCatalog, r.ID, err)
		}
		price = p
	}

	return &domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Price:       price,
		Image:       r.Image,
		Images:      r.Images,
		IsNew:       r.IsNew,
		IsFeatured:  r.IsFeatured,
		Rating:      r.Rating,
		Variants:    variants,
	}, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q", raw)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %q must be positive", raw)
	}
	return price, nil
}

func (c *staticCatalog) All() []*domain.Product {
	return c.filter(func(*domain.Product) bool { return true })
}

func (c *staticCatalog) ByID(id int) (*domain.Product, error) {
	product, ok := c.byID[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (c *staticCatalog) ByCategory(category string) []*domain.Product {
	return c.filter(func(p *domain.Product) bool { return p.Category == category })
}

func (c *staticCatalog) Featured() []*domain.Product {
	return c.filter(func(p *domain.Product) bool { return p.IsFeatured })
}

func (c *staticCatalog) New() []*domain.Product {
	return c.filter(func(p *domain.Product) bool { return p.IsNew })
}

func (c *staticCatalog) Categories() []string {
	categories := []string{}
	seen := make(map[string]bool)
	for _, p := range c.products {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		categories = append(categories, p.Category)
	}
	return categories
}

func (c *staticCatalog) filter(keep func(*domain.Product) bool) []*domain.Product {
	products := []*domain.Product{}
	for _, p := range c.products {
		if keep(p) {
			products = append(products, p)
		}
	}
	return products
}
