package orders

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/service/dispatch"
)

// attachToTable добавляет заказ в список заказов стола. Неудача не откатывает
// заказ: она логируется, учитывается в метриках и передаётся в фоновую привязку.
func (s *Service) attachToTable(ctx context.Context, table domain.Table, order domain.Order) {
	err := s.peers.UpdateTable(ctx, table.WithOrder(order.ID))
	if err == nil {
		return
	}

	s.metrics.RecordTableAttachFailure()
	logger := s.logger.WithError(err).WithFields(log.Fields{
		"order_id": order.ID,
		"table_id": table.ID,
	})
	logger.Error("order persisted but table update failed")

	if s.reconcileAttempts == 0 {
		return
	}
	if goErr := s.runner.Go("reconcile-table", func(taskCtx context.Context) {
		s.reconcile(taskCtx, order.ID, table.ID)
	}); goErr != nil {
		logger.WithField("reconcile_error", goErr.Error()).Error("table reconciliation not scheduled")
	}
}

// reconcile перечитывает стол и повторяет привязку ограниченное число раз.
// Если стол уже занят другим заказом, привязка прекращается.
func (s *Service) reconcile(ctx context.Context, orderID, tableID string) {
	logger := s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"table_id": tableID,
	})

	for attempt := 1; attempt <= s.reconcileAttempts; attempt++ {
		if dispatch.Sleep(ctx, s.reconcileDelay) != nil {
			s.metrics.RecordReconcile("interrupted")
			return
		}

		table, err := s.peers.GetTable(ctx, tableID)
		switch {
		case errors.Is(err, domain.ErrPeerNotFound):
			s.metrics.RecordReconcile("table_missing")
			logger.Error("table reconciliation stopped: table no longer exists")
			return
		case err != nil:
			logger.WithError(err).WithField("attempt", attempt).Warn("table reconciliation attempt failed")
			continue
		case table.HasOrder(orderID):
			s.metrics.RecordReconcile("already_attached")
			return
		case table.Occupied():
			s.metrics.RecordReconcile("conflict")
			logger.WithField("table_orders", table.Orders).Error("table reconciliation stopped: table taken by another order")
			return
		}

		if err := s.peers.UpdateTable(ctx, table.WithOrder(orderID)); err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("table reconciliation attempt failed")
			continue
		}

		s.metrics.RecordReconcile("attached")
		logger.WithField("attempt", attempt).Info("order attached to table after reconciliation")
		return
	}

	s.metrics.RecordReconcile("gave_up")
	logger.WithField("attempts", s.reconcileAttempts).Error("table reconciliation gave up")
}
