package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/gitshopapp/preorder/internal/models"
)

// DeliveryQueue is the ordered view of undelivered orders. It holds no state
// of its own and is recomputed from the order store on every call.
type DeliveryQueue struct {
	orders OrderStore
}

func NewDeliveryQueue(orders OrderStore) *DeliveryQueue {
	return &DeliveryQueue{orders: orders}
}

// Snapshot returns undelivered orders, oldest first. Orders with equal
// timestamps keep their append order.
func (q *DeliveryQueue) Snapshot(ctx context.Context) ([]*models.Order, error) {
	all, err := q.orders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	pending := make([]*models.Order, 0, len(all))
	for _, order := range all {
		if !order.Delivered {
			pending = append(pending, order)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// PositionOf returns the 1-based rank of the user's earliest undelivered
// order, or false if the user has none.
func (q *DeliveryQueue) PositionOf(ctx context.Context, userID int64) (int, bool, error) {
	pending, err := q.Snapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	for i, order := range pending {
		if order.UserID == userID {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// MarkDelivered removes an order from the queue. Unknown or already delivered
// invoice ids are ignored.
func (q *DeliveryQueue) MarkDelivered(ctx context.Context, invoiceID string) error {
	if invoiceID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrValidation)
	}
	return q.orders.MarkDelivered(ctx, invoiceID)
}
