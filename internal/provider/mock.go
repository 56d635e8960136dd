package provider

import (
	"context"
	"sync"

	"github.com/boostgram/backend/internal/models"
	"github.com/boostgram/backend/internal/utils"
)

// MockAdapter fulfills orders locally for dev mode and tests. An order
// completes after a deterministic number of status polls derived from
// its id, so dashboards show a realistic mix of states.
type MockAdapter struct {
	mu    sync.Mutex
	polls map[string]int
}

func NewMock() *MockAdapter {
	return &MockAdapter{polls: make(map[string]int)}
}

func (m *MockAdapter) Submit(ctx context.Context, o models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[o.ID]; !ok {
		m.polls[o.ID] = 0
	}
	return nil
}

func (m *MockAdapter) Status(ctx context.Context, orderID string) (models.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.polls[orderID]
	if !ok {
		return models.OrderPending, nil
	}
	m.polls[orderID] = n + 1

	needed := int(utils.HashStringToUint64(orderID)%3) + 1
	if n+1 >= needed {
		return models.OrderCompleted, nil
	}
	return models.OrderProcessing, nil
}
