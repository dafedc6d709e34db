// Package httpapi публикует сценарии заказов по HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/tracing"
)

const maxBodyBytes = 1 << 20

// OrderService — сценарии, которые обслуживает HTTP-слой.
type OrderService interface {
	CreateOrder(ctx context.Context, in domain.OrderInput) (domain.Order, error)
	UpdateOrder(ctx context.Context, id string, in domain.OrderInput) (domain.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	QueryHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.OrderHistory, error)
	ListOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistory, error)
}

// Handler — HTTP-обработчики /orders.
type Handler struct {
	svc      OrderService
	validate *validator.Validate
	logger   *log.Entry
}

// NewHandler создаёт обработчики. nil logger заменяется логгером компонента.
func NewHandler(svc OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Init регистрирует маршруты. /orders/history объявлен раньше /orders/{id}.
func (h *Handler) Init(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/history", h.listHistory)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
		r.Get("/{id}/history", h.orderHistory)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), req.toInput())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toOrderResponse(order), http.StatusCreated)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, out, http.StatusOK)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toOrderResponse(order), http.StatusOK)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.UpdateOrder(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toOrderResponse(order), http.StatusOK)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listHistory поддерживает фильтры ?operation=CREATE|UPDATE|DELETE и ?limit=N.
func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	filter := domain.HistoryFilter{
		Operation: domain.Operation(r.URL.Query().Get("operation")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, errorResponse{Message: "limit must be a non-negative integer"}, http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.svc.QueryHistory(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toHistoryResponses(entries), http.StatusOK)
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListOrderHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toHistoryResponses(entries), http.StatusOK)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, errorResponse{Message: "malformed JSON body"}, http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeJSON(w, errorResponse{Message: err.Error()}, http.StatusBadRequest)
	case domain.IsNotFound(err):
		writeJSON(w, errorResponse{Message: "order not found"}, http.StatusNotFound)
	case errors.Is(err, domain.ErrPeerUnavailable):
		h.logger.WithFields(tracing.LogFields(r.Context())).WithError(err).Warn("peer service unavailable")
		writeJSON(w, errorResponse{Message: "dependent service unavailable"}, http.StatusBadGateway)
	default:
		h.logger.WithFields(tracing.LogFields(r.Context())).WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeJSON(w, errorResponse{Message: "internal server error"}, http.StatusInternalServerError)
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	res := errorResponse{Message: "invalid request", Fields: make(map[string]string)}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			res.Fields[fe.Field()] = fe.Tag()
		}
	}
	writeJSON(w, res, http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, payload any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
