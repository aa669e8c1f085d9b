package repository

import (
	"context"
	"sync"

	"casham-store/internal/domain"

	"github.com/google/uuid"
)

type memoryCartRepository struct {
	mu    sync.RWMutex
	carts map[uuid.UUID]*domain.Cart
}

// NewMemoryCartRepository creates a process-local CartRepository for
// development and tests. Carts do not survive a restart.
func NewMemoryCartRepository() CartRepository {
	return &memoryCartRepository{
		carts: make(map[uuid.UUID]*domain.Cart),
	}
}

func (r *memoryCartRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[id]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (r *memoryCartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[cart.ID] = cart.Clone()
	return nil
}

func (r *memoryCartRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[id]; !ok {
		return ErrCartNotFound
	}
	delete(r.carts, id)
	return nil
}
