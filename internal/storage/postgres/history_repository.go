package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type historyRepository struct {
	db *sql.DB
}

// NewHistoryRepository создаёт PostgreSQL-реализацию журнала мутаций.
func NewHistoryRepository(store *Store) domain.HistoryRepository {
	return &historyRepository{db: store.DB()}
}

func (r *historyRepository) Append(ctx context.Context, entry domain.OrderHistory) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args, err := psql.
		Insert("order_history").
		Columns("id", "order_id", "description", "total_value", "operation", "occurred_at").
		Values(entry.ID, entry.OrderID, entry.Description, entry.TotalValue, string(entry.Operation), entry.Timestamp).
		ToSql()
	if err != nil {
		return fmt.Errorf("build history insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List отдаёт записи в порядке вставки (seq), применяя необязательные фильтры.
func (r *historyRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.OrderHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	builder := psql.
		Select("id", "order_id", "description", "total_value", "operation", "occurred_at").
		From("order_history").
		OrderBy("seq ASC")
	if filter.OrderID != "" {
		builder = builder.Where(sq.Eq{"order_id": filter.OrderID})
	}
	if filter.Operation != "" {
		builder = builder.Where(sq.Eq{"operation": string(filter.Operation)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderHistory, 0)
	for rows.Next() {
		var (
			entry domain.OrderHistory
			op    string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Description, &entry.TotalValue, &op, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Operation = domain.Operation(op)
		entry.Timestamp = entry.Timestamp.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	return result, nil
}

var _ domain.HistoryRepository = (*historyRepository)(nil)
