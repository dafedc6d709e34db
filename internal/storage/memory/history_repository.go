package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

// historyRepositoryInMemory хранит журнал в памяти (для разработки/тестов).
// Записи лежат в порядке добавления, что и есть порядок мутаций.
type historyRepositoryInMemory struct {
	mu      sync.RWMutex
	entries []domain.OrderHistory
}

// NewHistoryRepository создаёт in-memory реализацию HistoryRepository.
func NewHistoryRepository() domain.HistoryRepository {
	return &historyRepositoryInMemory{}
}

// Append добавляет запись в конец журнала.
func (r *historyRepositoryInMemory) Append(_ context.Context, entry domain.OrderHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	return nil
}

// List возвращает копию записей, подходящих под фильтр.
func (r *historyRepositoryInMemory) List(_ context.Context, filter domain.HistoryFilter) ([]domain.OrderHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OrderHistory, 0, len(r.entries))
	for _, entry := range r.entries {
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if filter.Operation != "" && entry.Operation != filter.Operation {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

var _ domain.HistoryRepository = (*historyRepositoryInMemory)(nil)
