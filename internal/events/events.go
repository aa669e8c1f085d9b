package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventTypeOrderPlaced = "order.placed"

// OrderPlacedEvent announces a delivered order. It never carries the
// payment screenshot.
type OrderPlacedEvent struct {
	EventType  string          `json:"event_type"`
	Reference  uuid.UUID       `json:"reference"`
	CartID     uuid.UUID       `json:"cart_id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Items      string          `json:"items"`
	Amount     decimal.Decimal `json:"amount"`
	ItemCount  int             `json:"item_count"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
	Close() error
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderPlaced(context.Context, OrderPlacedEvent) error { return nil }
func (NopPublisher) Close() error                                               { return nil }
