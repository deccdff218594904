package domain

import (
	"strings"
	"testing"
)

func TestCanReserve(t *testing.T) {
	product := Product{
		ID:               "prod_1",
		Name:             "Walnut Desk Organizer",
		Stock:            5,
		MinOrderQuantity: 1,
		Active:           true,
	}

	cases := []struct {
		name        string
		product     Product
		existing    int
		requested   int
		wantReason  StockDenialReason
		wantMessage string
	}{
		{
			name:      "fresh add within stock",
			product:   product,
			requested: 3,
		},
		{
			name:      "topping up to exactly stock",
			product:   product,
			existing:  2,
			requested: 3,
		},
		{
			name:        "below minimum",
			product:     Product{ID: "prod_2", Name: "Bulk Pens", Stock: 100, MinOrderQuantity: 10, Active: true},
			requested:   4,
			wantReason:  DenialBelowMinimum,
			wantMessage: "minimum order quantity is 10",
		},
		{
			name:        "fresh add exceeding stock",
			product:     product,
			requested:   6,
			wantReason:  DenialInsufficientStock,
			wantMessage: "only 5 available",
		},
		{
			name:        "top up exceeding stock names existing quantity",
			product:     product,
			existing:    3,
			requested:   3,
			wantReason:  DenialInsufficientStock,
			wantMessage: "you already have 3 in cart, only 5 total available",
		},
		{
			name:       "inactive product",
			product:    Product{ID: "prod_3", Name: "Retired Lamp", Stock: 5, MinOrderQuantity: 1},
			requested:  1,
			wantReason: DenialProductInactive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			denial := CanReserve(tc.product, tc.existing, tc.requested)
			if tc.wantReason == "" {
				if denial != nil {
					t.Fatalf("expected allowed, got denial %q", denial.Message)
				}
				return
			}
			if denial == nil {
				t.Fatalf("expected denial %s, got allowed", tc.wantReason)
			}
			if denial.Reason != tc.wantReason {
				t.Fatalf("expected reason %s, got %s", tc.wantReason, denial.Reason)
			}
			if tc.wantMessage != "" && denial.Message != tc.wantMessage {
				t.Fatalf("expected message %q, got %q", tc.wantMessage, denial.Message)
			}
			if denial.Error() == "" || !strings.EqualFold(denial.Error(), denial.Message) {
				t.Fatalf("denial error should expose the message, got %q", denial.Error())
			}
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped}
	for _, status := range open {
		if status.Terminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

func TestCancellationResultOutcome(t *testing.T) {
	cases := []struct {
		name     string
		restored int
		skipped  int
		want     CancellationOutcome
	}{
		{name: "all restored", restored: 3, want: RestoredFully},
		{name: "partially restored", restored: 2, skipped: 1, want: RestoredPartially},
		{name: "nothing restorable", skipped: 3, want: RestoredNothing},
		{name: "empty order", want: RestoredNothing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := CancellationResult{RestoredCount: tc.restored, SkippedCount: tc.skipped}
			if got := result.Outcome(); got != tc.want {
				t.Fatalf("expected outcome %s, got %s", tc.want, got)
			}
		})
	}
}
