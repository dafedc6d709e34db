package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — родительская ошибка для всех отказов валидации заказа.
	ErrValidation = errors.New("validation failed")

	// Ошибка некорректных входных данных.
	ErrInvalidInput = fmt.Errorf("%w: invalid input", ErrValidation)
	// Ошибка отсутствующего описания заказа.
	ErrDescriptionRequired = fmt.Errorf("%w: description is required", ErrInvalidInput)
	// Ошибка отрицательной суммы заказа.
	ErrTotalValueNegative = fmt.Errorf("%w: total_value must be non-negative", ErrInvalidInput)
	// ErrTotalValuePrecision — в сумме больше двух знаков после запятой.
	ErrTotalValuePrecision = fmt.Errorf("%w: total_value must have at most 2 decimal places", ErrInvalidInput)
	// ErrTotalValueTooLarge — сумма не помещается в NUMERIC(14, 2).
	ErrTotalValueTooLarge = fmt.Errorf("%w: total_value must be less than 1000000000000", ErrInvalidInput)
	// Ошибка отсутствующего идентификатора стола.
	ErrTableIDRequired = fmt.Errorf("%w: table_id is required", ErrInvalidInput)
	// Ошибка отсутствующего идентификатора ресторана.
	ErrRestaurantIDRequired = fmt.Errorf("%w: restaurant_id is required", ErrInvalidInput)

	// ErrRestaurantNotFound — ресторан не найден во внешнем сервисе.
	ErrRestaurantNotFound = fmt.Errorf("%w: restaurant not found", ErrValidation)
	// ErrTableNotFound — стол не найден во внешнем сервисе.
	ErrTableNotFound = fmt.Errorf("%w: table not found", ErrValidation)
	// ErrTableOccupied — к столу уже привязан заказ.
	ErrTableOccupied = fmt.Errorf("%w: table already has an order", ErrValidation)

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — запись с таким ID уже есть.
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrPeerNotFound — внешний сервис ответил, что сущность не существует.
	ErrPeerNotFound = errors.New("peer entity not found")
	// ErrPeerUnavailable — транспортная ошибка или неожиданный ответ внешнего сервиса.
	ErrPeerUnavailable = errors.New("peer service unavailable")

	// ErrDeliveryFailure — событие не доставлено после всех попыток. Наружу не возвращается.
	ErrDeliveryFailure = errors.New("event delivery failed")
	// ErrOutboxPublish — ошибка при работе с сообщением outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsValidation проверяет, является ли ошибка отказом валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// JoinValidation склеивает список замечаний в одну ошибку.
// Возвращает nil, если замечаний нет.
func JoinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
