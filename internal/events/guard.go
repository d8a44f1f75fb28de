package events

import (
	"context"
	"fmt"
	"time"
)

const defaultGuardTTL = 24 * time.Hour

type deliveryStore interface {
	IdempotencyKey(scope, id string) string
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// DeliveryGuard is a redis edge filter in front of the durable ledger. It
// sheds concurrent redeliveries of the same event id before they reach the
// database; the ledger remains the source of truth.
type DeliveryGuard struct {
	store deliveryStore
	scope string
	ttl   time.Duration
}

func NewDeliveryGuard(store deliveryStore, scope string, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if scope == "" {
		return nil, fmt.Errorf("scope required")
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &DeliveryGuard{store: store, scope: scope, ttl: ttl}, nil
}

// CheckAndMark returns true when the event id was already marked within the
// TTL window.
func (g *DeliveryGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event id required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark delivery: %w", err)
	}
	return !set, nil
}

// Delete clears the mark so a failed delivery can be retried.
func (g *DeliveryGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
