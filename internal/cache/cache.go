package cache

import (
	"context"
	"errors"

	"casham-store/internal/domain"

	"github.com/google/uuid"
)

// CartCache is a read-through cache in front of the cart repository
type CartCache interface {
	Get(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, cartID uuid.UUID) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache always misses. Used when redis is disabled.
type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, *domain.Cart) error             { return nil }
func (NopCache) Delete(context.Context, uuid.UUID) error             { return nil }
