package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

type createOrderRequest struct {
	Description  string          `json:"description" validate:"required"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TableID      string          `json:"table_id" validate:"required"`
	RestaurantID string          `json:"restaurant_id" validate:"required"`
}

func (r createOrderRequest) toInput() domain.OrderInput {
	return domain.OrderInput{
		Description:  r.Description,
		TotalValue:   r.TotalValue,
		TableID:      r.TableID,
		RestaurantID: r.RestaurantID,
	}
}

// updateOrderRequest игнорирует table_id и restaurant_id: привязка заказа не меняется.
// Поля проверяет сервис после поиска заказа, поэтому отсутствующий заказ даёт 404 раньше 400.
type updateOrderRequest struct {
	Description string          `json:"description"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

func (r updateOrderRequest) toInput() domain.OrderInput {
	return domain.OrderInput{
		Description: r.Description,
		TotalValue:  r.TotalValue,
	}
}

type orderResponse struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TableID      string          `json:"table_id"`
	RestaurantID string          `json:"restaurant_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:           o.ID,
		Description:  o.Description,
		TotalValue:   o.TotalValue,
		TableID:      o.TableID,
		RestaurantID: o.RestaurantID,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

type historyResponse struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Description string          `json:"description"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Timestamp   time.Time       `json:"timestamp"`
	Operation   string          `json:"operation"`
}

func toHistoryResponses(entries []domain.OrderHistory) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ID:          e.ID,
			OrderID:     e.OrderID,
			Description: e.Description,
			TotalValue:  e.TotalValue,
			Timestamp:   e.Timestamp,
			Operation:   string(e.Operation),
		})
	}
	return out
}

type errorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
