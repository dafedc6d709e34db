package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// EventTypeOrderCreated — тип события создания заказа в outbox.
	EventTypeOrderCreated = "OrderCreated"
	// RoutingKeyOrderCreated — routing key, под которым уходит событие.
	RoutingKeyOrderCreated = "orderCreated"
)

// OrderCreated — доменное событие о создании заказа.
type OrderCreated struct {
	OrderID      string          `json:"order_id"`
	Description  string          `json:"description"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TableID      string          `json:"table_id"`
	RestaurantID string          `json:"restaurant_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewOrderCreated собирает событие из сохранённого заказа.
func NewOrderCreated(order Order) OrderCreated {
	return OrderCreated{
		OrderID:      order.ID,
		Description:  order.Description,
		TotalValue:   order.TotalValue,
		TableID:      order.TableID,
		RestaurantID: order.RestaurantID,
		OccurredAt:   time.Now().UTC(),
	}
}

// Message — сообщение для брокера.
type Message struct {
	Exchange   string
	RoutingKey string
	// Key используется брокерами с партиционированием (Kafka).
	Key  string
	Body []byte
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
