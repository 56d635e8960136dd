// Package provider talks to the upstream fulfillment API that actually
// delivers ordered services. The store is the source of truth; the
// provider only advances order status.
package provider

import (
	"context"

	"github.com/boostgram/backend/internal/models"
)

type Adapter interface {
	// Submit hands a freshly charged order to the upstream service.
	Submit(ctx context.Context, o models.Order) error
	// Status reports how far the upstream has progressed an order.
	Status(ctx context.Context, orderID string) (models.OrderStatus, error)
}
