// Package orders drives charged orders through the upstream provider:
// pending orders are submitted, processing orders are polled until the
// provider reports a terminal state.
package orders

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/models"
	"github.com/boostgram/backend/internal/provider"
)

type Processor struct {
	Store    db.Store
	Provider provider.Adapter
	Log      zerolog.Logger
}

// Run ticks until ctx is cancelled. A failed sweep is logged and
// retried on the next tick; order rows are never left half-advanced
// because each transition is a single store write.
func (p *Processor) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Sweep(ctx); err != nil {
				p.Log.Warn().Err(err).Msg("order sweep failed")
			}
		}
	}
}

// Sweep advances every non-terminal order one step.
func (p *Processor) Sweep(ctx context.Context) error {
	all, err := p.Store.ListOrders(ctx, "")
	if err != nil {
		return err
	}

	for _, o := range all {
		switch o.Status {
		case models.OrderPending:
			if err := p.Provider.Submit(ctx, o); err != nil {
				p.Log.Warn().Err(err).Str("order", o.ID).Msg("provider submit failed")
				continue
			}
			if err := p.Store.UpdateOrderStatus(ctx, o.ID, models.OrderProcessing, nil); err != nil {
				p.Log.Warn().Err(err).Str("order", o.ID).Msg("order status update failed")
			}
		case models.OrderProcessing:
			status, err := p.Provider.Status(ctx, o.ID)
			if err != nil {
				p.Log.Warn().Err(err).Str("order", o.ID).Msg("provider status failed")
				continue
			}
			if status == o.Status {
				continue
			}
			var completedAt *time.Time
			if status == models.OrderCompleted {
				now := time.Now().UTC()
				completedAt = &now
			}
			if err := p.Store.UpdateOrderStatus(ctx, o.ID, status, completedAt); err != nil {
				p.Log.Warn().Err(err).Str("order", o.ID).Msg("order status update failed")
			}
		}
	}
	return nil
}
