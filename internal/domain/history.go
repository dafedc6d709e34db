package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operation — тип мутации заказа, зафиксированной в истории.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid проверяет, что операция относится к поддерживаемым значениям.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// OrderHistory — неизменяемая запись аудита одной мутации заказа.
// OrderID — слабая ссылка: запись переживает удаление заказа.
type OrderHistory struct {
	ID          string
	OrderID     string
	Description string
	TotalValue  decimal.Decimal
	Timestamp   time.Time
	Operation   Operation
}

// HistoryFilter ограничивает выборку истории.
type HistoryFilter struct {
	OrderID   string
	Operation Operation
	Limit     int
}
