package domain

import "context"

// RestaurantDirectory описывает чтение ресторанов из внешнего сервиса.
type RestaurantDirectory interface {
	// GetRestaurant возвращает ресторан или ErrPeerNotFound.
	GetRestaurant(ctx context.Context, id string) (Restaurant, error)
}

// TableDirectory описывает чтение и обновление столов во внешнем сервисе.
type TableDirectory interface {
	// GetTable возвращает стол вместе со списком заказов или ErrPeerNotFound.
	GetTable(ctx context.Context, id string) (Table, error)
	// UpdateTable отправляет обновлённую проекцию стола целиком.
	UpdateTable(ctx context.Context, table Table) error
}

// PeerGateway объединяет оба внешних сервиса.
type PeerGateway interface {
	RestaurantDirectory
	TableDirectory
}

// Broker доставляет сообщение во внешний exchange/topic.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
}

// DiscardingBroker — брокер, который принимает сообщения, но никуда их не отправляет.
type DiscardingBroker interface {
	Broker
	Discards() bool
}

// EventPublisher доставляет доменные события. Возвращает признак успешной доставки.
type EventPublisher interface {
	PublishCreated(ctx context.Context, event OrderCreated) bool
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// TaskRunner запускает фоновые задачи, не блокируя вызывающего.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context)) error
}

// TableLocker сериализует создание заказов для одного стола.
type TableLocker interface {
	Lock(tableID string) (unlock func())
}
