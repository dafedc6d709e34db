package peer

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

// Directory — in-memory реализация PeerGateway для локального запуска и тестов.
// Ошибки можно подставить через поля *Err; счётчики вызовов доступны для проверок.
type Directory struct {
	mu          sync.Mutex
	restaurants map[string]domain.Restaurant
	tables      map[string]domain.Table

	GetRestaurantErr error
	GetTableErr      error
	UpdateTableErr   error

	updateCalls int
}

// NewDirectory создаёт пустой справочник.
func NewDirectory() *Directory {
	return &Directory{
		restaurants: make(map[string]domain.Restaurant),
		tables:      make(map[string]domain.Table),
	}
}

// PutRestaurant добавляет или заменяет ресторан.
func (d *Directory) PutRestaurant(r domain.Restaurant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restaurants[r.ID] = r
}

// PutTable добавляет или заменяет стол.
func (d *Directory) PutTable(t domain.Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[t.ID] = cloneTable(t)
}

// Table возвращает текущее состояние стола.
func (d *Directory) Table(id string) (domain.Table, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[id]
	return cloneTable(t), ok
}

// UpdateCalls возвращает количество вызовов UpdateTable.
func (d *Directory) UpdateCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateCalls
}

// SetUpdateTableErr меняет ошибку UpdateTable под мьютексом.
func (d *Directory) SetUpdateTableErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateTableErr = err
}

func (d *Directory) GetRestaurant(_ context.Context, id string) (domain.Restaurant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetRestaurantErr != nil {
		return domain.Restaurant{}, d.GetRestaurantErr
	}
	r, ok := d.restaurants[id]
	if !ok {
		return domain.Restaurant{}, domain.ErrPeerNotFound
	}
	return r, nil
}

func (d *Directory) GetTable(_ context.Context, id string) (domain.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetTableErr != nil {
		return domain.Table{}, d.GetTableErr
	}
	t, ok := d.tables[id]
	if !ok {
		return domain.Table{}, domain.ErrPeerNotFound
	}
	return cloneTable(t), nil
}

func (d *Directory) UpdateTable(_ context.Context, table domain.Table) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updateCalls++
	if d.UpdateTableErr != nil {
		return d.UpdateTableErr
	}
	if _, ok := d.tables[table.ID]; !ok {
		return domain.ErrPeerNotFound
	}
	d.tables[table.ID] = cloneTable(table)
	return nil
}

func cloneTable(t domain.Table) domain.Table {
	if t.Orders != nil {
		t.Orders = append([]string(nil), t.Orders...)
	}
	if t.Extra != nil {
		extra := make(map[string]any, len(t.Extra))
		for k, v := range t.Extra {
			extra[k] = v
		}
		t.Extra = extra
	}
	return t
}

var _ domain.PeerGateway = (*Directory)(nil)
