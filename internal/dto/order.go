package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/bistro/internal/entity"
)

// OrderItemResponse is an order line as shown on the till.
type OrderItemResponse struct {
	ID         int64           `json:"id"`
	MenuItemID int64           `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	LineTotal  decimal.Decimal `json:"line_total"`
	Notes      string          `json:"notes,omitempty"`
}

// OrderResponse represents an order as exposed via transport layers, with
// the table and staff names flattened in.
type OrderResponse struct {
	ID                 int64               `json:"id"`
	TableID            int64               `json:"table_id"`
	TableName          string              `json:"table_name,omitempty"`
	StaffID            *int64              `json:"staff_id,omitempty"`
	StaffName          string              `json:"staff_name,omitempty"`
	Status             entity.OrderStatus  `json:"status"`
	TotalAmount        decimal.Decimal     `json:"total_amount"`
	Notes              string              `json:"notes,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	Items              []OrderItemResponse `json:"items"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// FromOrder maps an order entity.
func FromOrder(order *entity.Order) OrderResponse {
	resp := OrderResponse{
		ID:          order.ID,
		TableID:     order.TableID,
		TableName:   order.TableName(),
		StaffID:     order.StaffID,
		StaffName:   order.StaffName(),
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Notes:       order.Notes,
		Items:       make([]OrderItemResponse, 0, len(order.Items)),
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
		CompletedAt: order.CompletedAt,
	}
	if order.CancellationReason != nil {
		resp.CancellationReason = *order.CancellationReason
	}
	for _, item := range order.Items {
		line := OrderItemResponse{
			ID:         item.ID,
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			Price:      item.Price,
			LineTotal:  item.LineTotal(),
			Notes:      item.Notes,
		}
		if item.MenuItem != nil {
			line.Name = item.MenuItem.Name
		}
		resp.Items = append(resp.Items, line)
	}
	return resp
}

// FromOrders maps a slice of orders, never returning nil.
func FromOrders(orders []*entity.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, FromOrder(order))
	}
	return out
}
