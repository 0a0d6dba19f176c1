package models

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/storefront_backend/utils"
)

func TestCreateOrderWithItems_ValidatesBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	items := []NewOrderItem{
		{ProductId: "prod-1", ProductName: "Starter", Quantity: 1, UnitPrice: 50000},
	}

	// A nil db would panic on any write; these must all fail before that.
	if _, err := CreateOrderWithItems(nil, ctx, "", "IDR", items); !errors.Is(err, utils.ErrorUnauthenticated) {
		t.Fatalf("empty user: err = %v, want ErrorUnauthenticated", err)
	}
	if _, err := CreateOrderWithItems(nil, ctx, "user-1", "IDR", nil); err == nil {
		t.Fatalf("expected error for empty item list")
	}

	bad := []NewOrderItem{{ProductId: "prod-1", ProductName: "Starter", Quantity: 0, UnitPrice: 50000}}
	if _, err := CreateOrderWithItems(nil, ctx, "user-1", "IDR", bad); err == nil {
		t.Fatalf("expected error for zero quantity")
	}

	bad = []NewOrderItem{{ProductId: "prod-1", ProductName: "Starter", Quantity: 1, UnitPrice: -1}}
	if _, err := CreateOrderWithItems(nil, ctx, "user-1", "IDR", bad); err == nil {
		t.Fatalf("expected error for negative unit price")
	}
}

func TestOrderStatusIsValid(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled} {
		if !s.IsValid() {
			t.Errorf("%s must be valid", s)
		}
	}
	if OrderStatus("refunded").IsValid() {
		t.Errorf("unknown status must not be valid")
	}
}
