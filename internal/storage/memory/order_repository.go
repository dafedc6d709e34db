// Package memory содержит in-memory репозитории для локального запуска и тестов.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

type orderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository возвращает потокобезопасное хранилище заказов в памяти.
func NewOrderRepository() domain.OrderRepository {
	return &orderStore{orders: map[string]domain.Order{}}
}

func (s *orderStore) Create(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}
	s.orders[order.ID] = order
	return nil
}

func (s *orderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	s.mu.RLock()
	order, ok := s.orders[id]
	s.mu.RUnlock()

	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List отдаёт снимок заказов: сначала новые, при равном времени по убыванию ID.
func (s *orderStore) List(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snapshot := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		snapshot = append(snapshot, order)
	}
	s.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return snapshot, nil
}

func (s *orderStore) Save(ctx context.Context, order domain.Order) error {
	return s.mutate(ctx, order.ID, func() { s.orders[order.ID] = order })
}

func (s *orderStore) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func() { delete(s.orders, id) })
}

// mutate применяет apply под блокировкой, если заказ id существует.
func (s *orderStore) mutate(ctx context.Context, id string, apply func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	apply()
	return nil
}

var _ domain.OrderRepository = (*orderStore)(nil)
