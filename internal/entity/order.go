package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Order is a customer's request tied to one table.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                 int64           `bun:",pk,autoincrement" json:"id"`
	TableID            int64           `bun:"table_id,notnull" json:"table_id"`
	StaffID            *int64          `bun:"staff_id" json:"staff_id,omitempty"`
	TotalAmount        decimal.Decimal `bun:"total_amount,type:numeric,notnull" json:"total_amount"`
	Status             OrderStatus     `bun:"status,notnull" json:"status"`
	Notes              string          `bun:"notes,notnull" json:"notes"`
	CancellationReason *string         `bun:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt          time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
	CompletedAt        *time.Time      `bun:"completed_at" json:"completed_at,omitempty"`

	Items       []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
	DiningTable *Table       `bun:"rel:belongs-to,join:table_id=id" json:"table,omitempty"`
	Staff       *Staff       `bun:"rel:belongs-to,join:staff_id=id" json:"staff,omitempty"`
}

// OrderItem is a line of an order with its price snapshot.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID         int64           `bun:",pk,autoincrement" json:"id"`
	OrderID    int64           `bun:"order_id,notnull" json:"order_id"`
	MenuItemID int64           `bun:"menu_item_id,notnull" json:"menu_item_id"`
	Quantity   int             `bun:"quantity,notnull" json:"quantity"`
	Price      decimal.Decimal `bun:"price,type:numeric,notnull" json:"price"`
	Notes      string          `bun:"notes,notnull" json:"notes"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`

	MenuItem *MenuItem `bun:"rel:belongs-to,join:menu_item_id=id" json:"menu_item,omitempty"`
}

// LineTotal is price × quantity.
func (i *OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// RecomputeTotal is the single definition of an order total: the sum of
// price × quantity over the order's current item rows.
func RecomputeTotal(items []*OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if item == nil {
			continue
		}
		total = total.Add(item.LineTotal())
	}
	return total
}

// TableName returns the joined table name, if loaded.
func (o *Order) TableName() string {
	if o.DiningTable == nil {
		return ""
	}
	return o.DiningTable.Name
}

// StaffName returns the joined staff name, if loaded.
func (o *Order) StaffName() string {
	if o.Staff == nil {
		return ""
	}
	return o.Staff.Name
}
