package domain

import (
	"testing"
	"time"
)

func TestCanTransitionAllowsDocumentedMoves(t *testing.T) {
	allowed := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusConfirmed, OrderStatusProcessing},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusShipped, OrderStatusDelivered},
		{OrderStatusShipped, OrderStatusReturned},
		{OrderStatusDelivered, OrderStatusReturned},
		{OrderStatusReturned, OrderStatusRefunded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransitionRejectsBackwardsAndTerminalMoves(t *testing.T) {
	rejected := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusDelivered, OrderStatusPending},
		{OrderStatusShipped, OrderStatusPending},
		{OrderStatusCanceled, OrderStatusConfirmed},
		{OrderStatusRefunded, OrderStatusPending},
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusConfirmed, OrderStatusDelivered},
		// Canceled is only reachable through the cancellation path.
		{OrderStatusPending, OrderStatusCanceled},
		{OrderStatusConfirmed, OrderStatusCanceled},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !OrderStatusCanceled.Terminal() {
		t.Error("expected canceled to be terminal")
	}
	if !OrderStatusRefunded.Terminal() {
		t.Error("expected refunded to be terminal")
	}
	for _, status := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusReturned} {
		if status.Terminal() {
			t.Errorf("expected %s not to be terminal", status)
		}
	}
	if OrderStatus("bogus").Terminal() {
		t.Error("unknown status must not be treated as terminal")
	}
}

func TestItemsTotal(t *testing.T) {
	items := []OrderItem{
		{ProductID: "prod-1", Quantity: 3, UnitPriceAtPurchase: 1500},
		{ProductID: "prod-2", Quantity: 1, UnitPriceAtPurchase: 250},
	}
	if got := ItemsTotal(items); got != 4750 {
		t.Fatalf("expected total 4750, got %d", got)
	}
	if got := ItemsTotal(nil); got != 0 {
		t.Fatalf("expected empty total 0, got %d", got)
	}
}

func TestValidOrderStatus(t *testing.T) {
	if !ValidOrderStatus(OrderStatusPending) {
		t.Error("pending must be valid")
	}
	if ValidOrderStatus(OrderStatus("draft")) {
		t.Error("unknown status must be invalid")
	}
}

func TestOrderTimestampsAreValueFields(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	order := Order{CreatedAt: now, UpdatedAt: now}
	if order.CanceledAt != nil || order.ShippedAt != nil {
		t.Fatal("lifecycle timestamps must default to nil")
	}
}
