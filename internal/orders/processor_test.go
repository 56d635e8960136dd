package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/models"
	"github.com/boostgram/backend/internal/provider"
)

type scriptedProvider struct {
	submitErr error
	status    models.OrderStatus
	submitted []string
}

func (s *scriptedProvider) Submit(ctx context.Context, o models.Order) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, o.ID)
	return nil
}

func (s *scriptedProvider) Status(ctx context.Context, orderID string) (models.OrderStatus, error) {
	return s.status, nil
}

func seedOrder(t *testing.T, store *db.Mem, id string, status models.OrderStatus) {
	t.Helper()
	ctx := context.Background()
	u := &models.User{ID: "buyer-" + id, Email: id + "@example.com", Balance: 100, Role: models.RoleUser}
	if err := store.InsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	o := &models.Order{
		ID: id, UserID: u.ID, ServiceID: "svc", Link: "https://example.com",
		Quantity: 100, TotalCost: 1, Status: models.OrderPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	if status != models.OrderPending {
		if err := store.UpdateOrderStatus(ctx, id, status, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSweepSubmitsPendingOrders(t *testing.T) {
	store := db.NewMem(feed.NewHub())
	seedOrder(t, store, "o-1", models.OrderPending)

	prov := &scriptedProvider{}
	p := &Processor{Store: store, Provider: prov, Log: zerolog.Nop()}
	if err := p.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(prov.submitted) != 1 || prov.submitted[0] != "o-1" {
		t.Fatalf("submitted = %v", prov.submitted)
	}
	o, err := store.GetOrder(context.Background(), "o-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.OrderProcessing {
		t.Fatalf("status = %s, want processing", o.Status)
	}
}

func TestSweepCompletesProcessingOrders(t *testing.T) {
	store := db.NewMem(feed.NewHub())
	seedOrder(t, store, "o-2", models.OrderProcessing)

	prov := &scriptedProvider{status: models.OrderCompleted}
	p := &Processor{Store: store, Provider: prov, Log: zerolog.Nop()}
	if err := p.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	o, err := store.GetOrder(context.Background(), "o-2", "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.OrderCompleted {
		t.Fatalf("status = %s, want completed", o.Status)
	}
	if o.CompletedAt == nil {
		t.Fatal("completed order has no completion time")
	}
}

func TestSweepLeavesOrderPendingOnSubmitFailure(t *testing.T) {
	store := db.NewMem(feed.NewHub())
	seedOrder(t, store, "o-3", models.OrderPending)

	prov := &scriptedProvider{submitErr: errors.New("upstream down")}
	p := &Processor{Store: store, Provider: prov, Log: zerolog.Nop()}
	if err := p.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	o, err := store.GetOrder(context.Background(), "o-3", "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.OrderPending {
		t.Fatalf("status = %s, want pending for retry", o.Status)
	}
}

func TestMockProviderEventuallyCompletes(t *testing.T) {
	m := provider.NewMock()
	ctx := context.Background()
	o := models.Order{ID: "mock-1"}
	if err := m.Submit(ctx, o); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		status, err := m.Status(ctx, o.ID)
		if err != nil {
			t.Fatal(err)
		}
		if status == models.OrderCompleted {
			return
		}
	}
	t.Fatal("mock order never completed")
}
