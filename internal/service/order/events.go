package order

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/messaging"
)

// Event names published on the order topic.
const (
	EventCreated       = "order.created"
	EventItemsAdded    = "order.items_added"
	EventItemsUpdated  = "order.items_updated"
	EventStatusChanged = "order.status_changed"
	EventCancelled     = "order.cancelled"
	EventDeleted       = "order.deleted"
)

// Event is the payload of every order event.
type Event struct {
	Type           string             `json:"type"`
	OrderID        int64              `json:"order_id"`
	TableID        int64              `json:"table_id"`
	Status         entity.OrderStatus `json:"status"`
	PreviousStatus entity.OrderStatus `json:"previous_status,omitempty"`
	TotalAmount    string             `json:"total_amount"`
	Items          []EventItem        `json:"items,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// EventItem is a kitchen-facing view of an order line.
type EventItem struct {
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

func newEvent(eventType string, order *entity.Order, previous entity.OrderStatus, at time.Time) Event {
	evt := Event{
		Type:           eventType,
		OrderID:        order.ID,
		TableID:        order.TableID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalAmount:    order.TotalAmount.String(),
		OccurredAt:     at,
	}
	if order.CancellationReason != nil {
		evt.Reason = *order.CancellationReason
	}
	for _, item := range order.Items {
		line := EventItem{MenuItemID: item.MenuItemID, Quantity: item.Quantity, Notes: item.Notes}
		if item.MenuItem != nil {
			line.Name = item.MenuItem.Name
		}
		evt.Items = append(evt.Items, line)
	}
	return evt
}

// publish emits evt after commit. Failures are logged; the order change has
// already been persisted.
func (s *Service) publish(ctx context.Context, evt Event) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	key := "order-" + strconv.FormatInt(evt.OrderID, 10)
	if err := messaging.PublishJSON(ctx, s.publisher, key, evt.Type, evt); err != nil {
		s.logger.Warn("publish order event failed",
			zap.String("event", evt.Type),
			zap.String("topic", s.messaging.topic),
			zap.Int64("order_id", evt.OrderID),
			zap.Error(err),
		)
	}
}
