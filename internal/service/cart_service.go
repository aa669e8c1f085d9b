package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"casham-store/internal/cache"
	"casham-store/internal/catalog"
	"casham-store/internal/domain"
	"casham-store/internal/logger"
	"casham-store/internal/metrics"
	"casham-store/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	cartLockShards = 64

	// bounds a shared cart load once it is detached from the caller
	loadTimeout = 5 * time.Second
)

// CartSummary is a cart together with its derived totals
type CartSummary struct {
	Cart   *domain.Cart  `json:"cart"`
	Totals domain.Totals `json:"totals"`
}

// CartService defines the interface for cart business logic. Every
// mutation returns the updated cart with fresh totals.
type CartService interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error)
	Summary(ctx context.Context, cartID uuid.UUID) (*CartSummary, error)
	AddItem(ctx context.Context, cartID uuid.UUID, productID int, variant string, quantity int) (*CartSummary, error)
	UpdateQuantity(ctx context.Context, cartID uuid.UUID, productID int, variant string, quantity int) (*CartSummary, error)
	RemoveItem(ctx context.Context, cartID uuid.UUID, productID int, variant string) (*CartSummary, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	ShippingPolicy() domain.ShippingPolicy
}

type cartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	catalog  catalog.Catalog
	shipping domain.ShippingPolicy
	metrics  *metrics.StoreMetrics
	logger   *zap.Logger

	sfg   singleflight.Group
	locks [cartLockShards]sync.Mutex
}

// NewCartService creates a new instance of CartService
func NewCartService(
	repo repository.CartRepository,
	cartCache cache.CartCache,
	products catalog.Catalog,
	shipping domain.ShippingPolicy,
	storeMetrics *metrics.StoreMetrics,
	log *zap.Logger,
) CartService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	return &cartService{
		repo:     repo,
		cache:    cartCache,
		catalog:  products,
		shipping: shipping,
		metrics:  storeMetrics,
		logger:   log,
	}
}

func (s *cartService) ShippingPolicy() domain.ShippingPolicy {
	return s.shipping
}

// GetCart returns the cart, reading through the cache. An unknown cart is
// returned empty rather than as an error.
func (s *cartService) GetCart(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(cartID.String(), func() (interface{}, error) {
		// every waiting caller shares this load, so one cancelled request
		// must not fail the others
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		cart, err := s.cache.Get(ctx, cartID)
		if err == nil {
			s.metrics.RecordCacheLookup(true)
			return cart, nil
		}

		s.metrics.RecordCacheLookup(false)
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Cart cache read failed", logger.CartID(cartID), zap.Error(err))
		}

		// fill under the cart lock so the cache never holds a cart older than the last save
		mu := s.lockFor(cartID)
		mu.Lock()
		defer mu.Unlock()

		cart, err = s.load(ctx, cartID)
		if err != nil {
			return nil, err
		}

		s.fillCache(cart)

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight shares the value between callers
	return v.(*domain.Cart).Clone(), nil
}

func (s *cartService) Summary(ctx context.Context, cartID uuid.UUID) (*CartSummary, error) {
	cart, err := s.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return s.summarize(cart), nil
}

// AddItem adds quantity of a product variant. An empty variant selects the
// product's first variant.
func (s *cartService) AddItem(ctx context.Context, cartID uuid.UUID, productID int, variant string, quantity int) (*CartSummary, error) {
	product, err := s.catalog.ByID(productID)
	if err != nil {
		return nil, err
	}
	if variant == "" {
		variant = product.DefaultVariant()
	}

	return s.mutate(ctx, cartID, metrics.OpAdd, func(cart *domain.Cart) error {
		return cart.AddItem(product, variant, quantity)
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes the line
func (s *cartService) UpdateQuantity(ctx context.Context, cartID uuid.UUID, productID int, variant string, quantity int) (*CartSummary, error) {
	op := metrics.OpUpdate
	if quantity <= 0 {
		op = metrics.OpRemove
	}

	return s.mutate(ctx, cartID, op, func(cart *domain.Cart) error {
		return cart.UpdateQuantity(productID, variant, quantity)
	})
}

// RemoveItem removes a line. Removing an absent line is not an error.
func (s *cartService) RemoveItem(ctx context.Context, cartID uuid.UUID, productID int, variant string) (*CartSummary, error) {
	return s.mutate(ctx, cartID, metrics.OpRemove, func(cart *domain.Cart) error {
		cart.RemoveItem(productID, variant)
		return nil
	})
}

func (s *cartService) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	mu := s.lockFor(cartID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.Delete(ctx, cartID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		s.logger.Error("Failed to clear cart", logger.CartID(cartID), zap.Error(err))
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	s.invalidateCache(cartID)
	s.metrics.RecordCartMutation(metrics.OpClear)
	return nil
}

// mutate serializes read-modify-write per cart and persists the result
func (s *cartService) mutate(ctx context.Context, cartID uuid.UUID, op string, fn func(*domain.Cart) error) (*CartSummary, error) {
	mu := s.lockFor(cartID)
	mu.Lock()
	defer mu.Unlock()

	cart, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}

	if err := fn(cart); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, cart); err != nil {
		s.logger.Error("Failed to save cart", logger.CartID(cartID), zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}

	s.invalidateCache(cartID)
	s.metrics.RecordCartMutation(op)

	s.logger.Debug("Cart updated",
		logger.CartID(cartID),
		zap.String("op", op),
		zap.Int("lines", len(cart.Lines)),
	)

	return s.summarize(cart), nil
}

func (s *cartService) load(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.repo.Get(ctx, cartID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(cartID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return cart, nil
}

func (s *cartService) summarize(cart *domain.Cart) *CartSummary {
	return &CartSummary{
		Cart:   cart,
		Totals: s.shipping.Totals(cart),
	}
}

func (s *cartService) lockFor(cartID uuid.UUID) *sync.Mutex {
	return &s.locks[binary.BigEndian.Uint32(cartID[12:])%cartLockShards]
}

func (s *cartService) fillCache(cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger.Warn("Cart cache write failed", logger.CartID(cart.ID), zap.Error(err))
	}
}

func (s *cartService) invalidateCache(cartID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, cartID); err != nil {
		s.logger.Warn("Cart cache invalidation failed", logger.CartID(cartID), zap.Error(err))
	}
}
