package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"casham-store/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrCartNotFound = errors.New("cart not found")
)

// CartRepository defines the interface for cart persistence. Carts are
// stored and loaded whole.
type CartRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a postgres-backed CartRepository
func NewCartRepository(db *sql.DB) CartRepository {
	return &cartRepository{db: db}
}

// Get loads a cart and its lines in insertion order
func (r *cartRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	query := `
		SELECT id, created_at, updated_at
		FROM carts
		WHERE id = $1
	`

	cart := &domain.Cart{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&cart.ID,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find cart by ID: %w", err)
	}

	linesQuery := `
		SELECT product_id, product_name, product_image, category, variant, quantity, unit_price
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, linesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart lines: %w", err)
	}
	defer rows.Close()

	cart.Lines = []domain.CartLine{}
	for rows.Next() {
		var line domain.CartLine
		err := rows.Scan(
			&line.ProductID,
			&line.ProductName,
			&line.Image,
			&line.Category,
			&line.Variant,
			&line.Quantity,
			&line.UnitPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart lines: %w", err)
	}

	return cart, nil
}

// Save upserts the cart row and replaces its lines in a single transaction
func (r *cartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO carts (id, created_at, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert, cart.ID, cart.CreatedAt, cart.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cart.ID); err != nil {
		return fmt.Errorf("failed to clear cart lines: %w", err)
	}

	insert := `
		INSERT INTO cart_lines (cart_id, position, product_id, product_name, product_image, category, variant, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i, line := range cart.Lines {
		_, err := tx.ExecContext(
			ctx,
			insert,
			cart.ID,
			i,
			line.ProductID,
			line.ProductName,
			line.Image,
			line.Category,
			line.Variant,
			line.Quantity,
			line.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cart line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cart: %w", err)
	}

	return nil
}

// Delete removes a cart; lines cascade
func (r *cartRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrCartNotFound
	}

	return nil
}
