package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending to confirmed", OrderStatusPending, OrderStatusConfirmed, true},
		{"pending to delivered", OrderStatusPending, OrderStatusDelivered, true},
		{"confirmed to shipped", OrderStatusConfirmed, OrderStatusShipped, true},
		{"shipped to delivered", OrderStatusShipped, OrderStatusDelivered, true},
		{"no backward move", OrderStatusShipped, OrderStatusConfirmed, false},
		{"no self move", OrderStatusConfirmed, OrderStatusConfirmed, false},
		{"delivered is terminal", OrderStatusDelivered, OrderStatusPending, false},
		{"cancelled not reachable", OrderStatusPending, OrderStatusCancelled, false},
		{"cancelled not leavable", OrderStatusCancelled, OrderStatusConfirmed, false},
		{"unknown status", OrderStatus("draft"), OrderStatusConfirmed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestCalculateTotals(t *testing.T) {
	order := &Order{
		Items: []OrderItem{
			{Price: 15000, Quantity: 2},
			{Price: 4500, Quantity: 1},
		},
	}

	order.CalculateTotals(500)

	assert.Equal(t, int64(34500), order.Subtotal)
	assert.Equal(t, int64(500), order.DeliveryFee)
	assert.Equal(t, int64(35000), order.Total)
}

func TestCalculateTotalsEmptyOrder(t *testing.T) {
	order := &Order{}

	order.CalculateTotals(500)

	assert.Equal(t, int64(0), order.Subtotal)
	assert.Equal(t, int64(500), order.Total)
}

func TestCanBeCancelled(t *testing.T) {
	assert.True(t, (&Order{OrderStatus: OrderStatusPending}).CanBeCancelled())
	assert.True(t, (&Order{OrderStatus: OrderStatusConfirmed}).CanBeCancelled())
	assert.False(t, (&Order{OrderStatus: OrderStatusProcessing}).CanBeCancelled())
	assert.False(t, (&Order{OrderStatus: OrderStatusShipped}).CanBeCancelled())
	assert.False(t, (&Order{OrderStatus: OrderStatusDelivered}).CanBeCancelled())
	assert.False(t, (&Order{OrderStatus: OrderStatusCancelled}).CanBeCancelled())
}

func TestEffectivePrice(t *testing.T) {
	sale := int64(9000)

	assert.Equal(t, int64(12000), (&Product{Price: 12000}).EffectivePrice())
	assert.Equal(t, int64(9000), (&Product{Price: 12000, SalePrice: &sale}).EffectivePrice())

	higher := int64(13000)
	assert.Equal(t, int64(12000), (&Product{Price: 12000, SalePrice: &higher}).EffectivePrice())
}
