package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		Description:  "Pizza",
		TotalValue:   decimal.RequireFromString("42.50"),
		TableID:      "table-1",
		RestaurantID: "restaurant-1",
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || !stored.TotalValue.Equal(order.TotalValue) {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}
}

func TestOrderRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newOrder("old", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, newOrder("new", now)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "new" {
		t.Fatalf("unexpected list: %+v", orders)
	}
}

func TestOrderRepository_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Description = "Pasta"
	if err := repo.Save(ctx, order); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	updated, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Description != "Pasta" {
		t.Fatalf("expected description Pasta, got %s", updated.Description)
	}

	if err := repo.Delete(ctx, order.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on second delete, got %v", err)
	}
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save of deleted order, got %v", err)
	}
}

func TestHistoryRepository_AppendAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewHistoryRepository()
	now := time.Now().UTC()

	entries := []domain.OrderHistory{
		{ID: "h1", OrderID: "order-1", Operation: domain.OperationCreate, Timestamp: now},
		{ID: "h2", OrderID: "order-2", Operation: domain.OperationCreate, Timestamp: now},
		{ID: "h3", OrderID: "order-1", Operation: domain.OperationUpdate, Timestamp: now},
	}
	for _, entry := range entries {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	all, err := repo.List(ctx, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	forOrder, err := repo.List(ctx, domain.HistoryFilter{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(forOrder) != 2 || forOrder[0].ID != "h1" || forOrder[1].ID != "h3" {
		t.Fatalf("unexpected history for order-1: %+v", forOrder)
	}

	creates, err := repo.List(ctx, domain.HistoryFilter{Operation: domain.OperationCreate, Limit: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(creates) != 1 || creates[0].ID != "h1" {
		t.Fatalf("unexpected filtered history: %+v", creates)
	}
}
