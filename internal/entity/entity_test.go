package entity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRecomputeTotal(t *testing.T) {
	items := []*OrderItem{
		{Quantity: 3, Price: decimal.NewFromInt(40000)},
		nil,
		{Quantity: 1, Price: decimal.RequireFromString("25000.5")},
	}
	assert.True(t, decimal.RequireFromString("145000.5").Equal(RecomputeTotal(items)))
	assert.True(t, decimal.Zero.Equal(RecomputeTotal(nil)))
}

func TestOrderStatusPredicates(t *testing.T) {
	for _, s := range ActiveOrderStatuses {
		assert.True(t, s.Active(), s)
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, OrderCompleted.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.False(t, OrderCancelled.Active())
	assert.False(t, OrderStatus("served").Valid())
	assert.False(t, OrderStatus("served").Active())
}

func TestTableStatusAcceptsOrders(t *testing.T) {
	assert.True(t, TableEmpty.AcceptsOrders())
	assert.True(t, TableReserved.AcceptsOrders())
	assert.False(t, TableOccupied.AcceptsOrders())
	assert.False(t, TableMaintenance.AcceptsOrders())
	assert.False(t, TableStatus("broken").Valid())
}

func TestJoinedNames(t *testing.T) {
	order := &Order{}
	assert.Empty(t, order.TableName())
	assert.Empty(t, order.StaffName())

	order.DiningTable = &Table{Name: "T1"}
	order.Staff = &Staff{Name: "Lan"}
	assert.Equal(t, "T1", order.TableName())
	assert.Equal(t, "Lan", order.StaffName())
}
