package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order — заказ, оформленный за столом ресторана.
type Order struct {
	ID           string
	Description  string
	TotalValue   decimal.Decimal
	TableID      string
	RestaurantID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Сумма хранится как NUMERIC(14, 2): не больше двух знаков после запятой и меньше 10^12.
const totalValueScale = 2

var totalValueLimit = decimal.New(1, 12)

// OrderInput — изменяемые клиентом поля заказа.
type OrderInput struct {
	Description  string
	TotalValue   decimal.Decimal
	TableID      string
	RestaurantID string
}

// ValidateForCreate проверяет входные данные для создания заказа и возвращает список замечаний.
func (in OrderInput) ValidateForCreate() []error {
	errs := in.ValidateForUpdate()
	if strings.TrimSpace(in.TableID) == "" {
		errs = append(errs, ErrTableIDRequired)
	}
	if strings.TrimSpace(in.RestaurantID) == "" {
		errs = append(errs, ErrRestaurantIDRequired)
	}
	return errs
}

// ValidateForUpdate проверяет только поля, которые можно менять после создания.
func (in OrderInput) ValidateForUpdate() []error {
	var errs []error

	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, ErrDescriptionRequired)
	}
	if in.TotalValue.IsNegative() {
		errs = append(errs, ErrTotalValueNegative)
	}
	if !in.TotalValue.Equal(in.TotalValue.Round(totalValueScale)) {
		errs = append(errs, ErrTotalValuePrecision)
	}
	if in.TotalValue.Abs().GreaterThanOrEqual(totalValueLimit) {
		errs = append(errs, ErrTotalValueTooLarge)
	}

	return errs
}

// Table — стол во внешнем сервисе столов. Авторитетная копия живёт там.
type Table struct {
	ID     string
	Orders []string
	// Extra хранит поля ответа, которые сервис не интерпретирует, чтобы не потерять их при PUT.
	Extra map[string]any
}

// Occupied сообщает, есть ли у стола уже привязанный заказ.
func (t Table) Occupied() bool {
	return len(t.Orders) > 0
}

// HasOrder проверяет, привязан ли заказ к столу.
func (t Table) HasOrder(orderID string) bool {
	for _, id := range t.Orders {
		if id == orderID {
			return true
		}
	}
	return false
}

// WithOrder возвращает копию стола с добавленным заказом.
func (t Table) WithOrder(orderID string) Table {
	orders := make([]string, 0, len(t.Orders)+1)
	orders = append(orders, t.Orders...)
	t.Orders = append(orders, orderID)
	return t
}

// Restaurant — ресторан во внешнем сервисе; только для чтения.
type Restaurant struct {
	ID   string
	Name string
}
