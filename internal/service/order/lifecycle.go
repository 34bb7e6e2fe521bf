package order

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

const autoCancelReason = "all items removed"

// CreateOrder opens an order on a free or reserved table, snapshots item
// prices and marks the table occupied. Nothing is written unless every line
// resolves to an available menu item.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(attribute.Int64("table.id", in.TableID)))
	defer span.End()

	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = entity.OrderPending
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return nil, err
	}

	var created *entity.Order
	err = s.inTx(ctx, "create order", func(ctx context.Context, r txRepos) error {
		table, err := r.table(ctx, in.TableID)
		if err != nil {
			return err
		}
		if !table.Status.AcceptsOrders() {
			return errorbank.Conflict(fmt.Sprintf("table %s is %s", table.Name, table.Status))
		}
		active, err := r.orders.CountActiveForTable(ctx, table.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return errorbank.Conflict(fmt.Sprintf("table %s already has an active order", table.Name))
		}

		menuItems, err := r.availableMenuItems(ctx, lines)
		if err != nil {
			return err
		}

		now := s.now()
		items := make([]*entity.OrderItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, &entity.OrderItem{
				MenuItemID: line.MenuItemID,
				Quantity:   line.Quantity,
				Price:      unitPrice(line, menuItems[line.MenuItemID]),
				Notes:      line.Notes,
				CreatedAt:  now,
			})
		}
		order := &entity.Order{
			TableID:     table.ID,
			Status:      status,
			Notes:       strings.TrimSpace(in.Notes),
			TotalAmount: entity.RecomputeTotal(items),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.orders.Create(ctx, order); err != nil {
			return err
		}
		for _, item := range items {
			item.OrderID = order.ID
		}
		if err := r.orders.InsertItems(ctx, items); err != nil {
			return err
		}
		if err := r.tables.SetStatus(ctx, table.ID, entity.TableOccupied, now); err != nil {
			return err
		}

		created, err = r.orders.GetDetailed(ctx, order.ID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, err
	}

	s.metrics.created.Add(ctx, 1)
	s.logger.Info("order created",
		zap.Int64("order_id", created.ID),
		zap.Int64("table_id", created.TableID),
		zap.Int("items", len(created.Items)),
		zap.String("total", created.TotalAmount.String()),
	)
	s.publish(ctx, newEvent(EventCreated, created, "", created.CreatedAt))
	return created, nil
}

// AddOrderItems appends lines to an open order. A menu item already on the
// order has its quantity increased and keeps its original price snapshot.
func (s *Service) AddOrderItems(ctx context.Context, orderID int64, items []ItemInput) (*AddItemsResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.AddOrderItems", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if err := s.validator.Struct(addItemsInput{Items: items}); err != nil {
		return nil, err
	}
	lines, err := mergeLines(items)
	if err != nil {
		return nil, err
	}

	var (
		result *AddItemsResult
		evt    Event
	)
	err = s.inTx(ctx, "add order items", func(ctx context.Context, r txRepos) error {
		order, err := r.order(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return errorbank.Conflict(fmt.Sprintf("order %d is %s; items can no longer be added", order.ID, order.Status))
		}
		table, err := r.table(ctx, order.TableID)
		if err != nil {
			return err
		}
		if table.Status != entity.TableOccupied {
			return errorbank.Conflict(fmt.Sprintf("table %s is %s, expected occupied", table.Name, table.Status))
		}

		menuItems, err := r.availableMenuItems(ctx, lines)
		if err != nil {
			return err
		}
		rows, err := r.orders.ListItems(ctx, order.ID)
		if err != nil {
			return err
		}
		byMenuItem := make(map[int64]*entity.OrderItem, len(rows))
		for _, row := range rows {
			byMenuItem[row.MenuItemID] = row
		}

		now := s.now()
		var fresh []*entity.OrderItem
		added := make([]EventItem, 0, len(lines))
		for _, line := range lines {
			added = append(added, EventItem{
				MenuItemID: line.MenuItemID,
				Name:       menuItems[line.MenuItemID].Name,
				Quantity:   line.Quantity,
				Notes:      line.Notes,
			})
			if row, ok := byMenuItem[line.MenuItemID]; ok {
				qty, err := addQuantity(line.MenuItemID, row.Quantity, line.Quantity)
				if err != nil {
					return err
				}
				row.Quantity = qty
				row.Notes = joinNotes(row.Notes, line.Notes)
				if err := r.orders.UpdateItem(ctx, row); err != nil {
					return err
				}
				continue
			}
			row := &entity.OrderItem{
				OrderID:    order.ID,
				MenuItemID: line.MenuItemID,
				Quantity:   line.Quantity,
				Price:      unitPrice(line, menuItems[line.MenuItemID]),
				Notes:      line.Notes,
				CreatedAt:  now,
			}
			fresh = append(fresh, row)
			rows = append(rows, row)
		}
		if err := r.orders.InsertItems(ctx, fresh); err != nil {
			return err
		}

		previous := order.TotalAmount
		order.TotalAmount = entity.RecomputeTotal(rows)
		order.UpdatedAt = now
		if err := r.orders.Update(ctx, order, "total_amount", "updated_at"); err != nil {
			return err
		}

		result = &AddItemsResult{
			OrderID:          order.ID,
			ItemsAdded:       len(lines),
			AdditionalAmount: order.TotalAmount.Sub(previous),
			NewTotal:         order.TotalAmount,
		}
		evt = newEvent(EventItemsAdded, order, "", now)
		evt.Items = added
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add items failed")
		return nil, err
	}

	s.forget(ctx, orderID)
	s.logger.Info("order items added",
		zap.Int64("order_id", orderID),
		zap.Int("items", result.ItemsAdded),
		zap.String("additional", result.AdditionalAmount.String()),
		zap.String("total", result.NewTotal.String()),
	)
	s.publish(ctx, evt)
	return result, nil
}

// UpdateOrderStatus moves an order to status as allowed by the transition
// policy. When staffID is set the order is attributed to that staff member.
// Entering completed stamps completed_at; entering a terminal status frees
// the table.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, status entity.OrderStatus, staffID *int64) (*StatusResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateOrderStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status", string(status)),
	))
	defer span.End()

	if !status.Valid() {
		return nil, errorbank.Validation(fmt.Sprintf("invalid order status %q", status))
	}
	if staffID != nil && *staffID <= 0 {
		return nil, errorbank.Validation("staff_id must be positive")
	}

	var (
		previous entity.OrderStatus
		changed  *entity.Order
		freed    bool
	)
	err := s.inTx(ctx, "update order status", func(ctx context.Context, r txRepos) error {
		order, err := r.order(ctx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		now := s.now()

		columns := []string{"updated_at"}
		if staffID != nil {
			if _, err := r.staff.GetByID(ctx, *staffID); err != nil {
				return mapStaffErr(err, *staffID)
			}
			order.StaffID = staffID
			columns = append(columns, "staff_id")
		}
		order.UpdatedAt = now

		if previous == status {
			return r.orders.Update(ctx, order, columns...)
		}
		if !s.policy.Allows(previous, status) {
			return errorbank.Conflict(fmt.Sprintf("order %d cannot move from %s to %s", order.ID, previous, status))
		}

		if previous.Terminal() && status.Active() {
			if err := s.occupyTable(ctx, r, order.TableID, now); err != nil {
				return err
			}
		}

		order.Status = status
		columns = append(columns, "status")
		if status == entity.OrderCompleted {
			order.CompletedAt = &now
			columns = append(columns, "completed_at")
		}
		if err := r.orders.Update(ctx, order, columns...); err != nil {
			return err
		}

		if status.Terminal() && !previous.Terminal() {
			if freed, err = s.freeTable(ctx, r, order.TableID, now); err != nil {
				return err
			}
		}
		changed = order
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		return nil, err
	}

	s.forget(ctx, orderID)
	if changed != nil {
		s.recordTransition(ctx, changed, previous, freed)
		s.publish(ctx, newEvent(EventStatusChanged, changed, previous, changed.UpdatedAt))
	}
	return &StatusResult{ID: orderID, Status: status}, nil
}

// CancelOrder cancels an active order, records the reason and frees the
// table.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, reason string) (*StatusResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.CancelOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, errorbank.Validation("cancellation reason is too long")
	}

	var (
		previous  entity.OrderStatus
		cancelled *entity.Order
		freed     bool
	)
	err := s.inTx(ctx, "cancel order", func(ctx context.Context, r txRepos) error {
		order, err := r.order(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return errorbank.Conflict(fmt.Sprintf("order %d is already %s", order.ID, order.Status))
		}
		previous = order.Status
		now := s.now()

		order.Status = entity.OrderCancelled
		order.UpdatedAt = now
		if reason != "" {
			order.CancellationReason = &reason
			order.Notes = appendCancellation(order.Notes, reason)
		}
		if err := r.orders.Update(ctx, order, "status", "notes", "cancellation_reason", "updated_at"); err != nil {
			return err
		}
		if freed, err = s.freeTable(ctx, r, order.TableID, now); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return nil, err
	}

	s.forget(ctx, orderID)
	s.recordTransition(ctx, cancelled, previous, freed)
	s.publish(ctx, newEvent(EventCancelled, cancelled, previous, cancelled.UpdatedAt))
	return &StatusResult{ID: orderID, Status: entity.OrderCancelled}, nil
}

// UpdateOrderItems edits or removes lines of a pending order and recomputes
// the total from the surviving rows. Removing every line cancels the order
// and frees its table.
func (s *Service) UpdateOrderItems(ctx context.Context, orderID int64, items []UpdateItemInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateOrderItems", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if err := s.validator.Struct(updateItemsInput{Items: items}); err != nil {
		return nil, err
	}

	var (
		updated       *entity.Order
		autoCancelled bool
		freed         bool
	)
	err := s.inTx(ctx, "update order items", func(ctx context.Context, r txRepos) error {
		order, err := r.order(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != entity.OrderPending {
			return errorbank.Conflict(fmt.Sprintf("order %d is %s; only pending orders can be edited", order.ID, order.Status))
		}

		rows, err := r.orders.ListItems(ctx, order.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]*entity.OrderItem, len(rows))
		for _, row := range rows {
			byID[row.ID] = row
		}

		var removed []int64
		for _, in := range items {
			row, ok := byID[in.OrderItemID]
			if !ok {
				return errorbank.NotFound(fmt.Sprintf("order item %d does not belong to order %d", in.OrderItemID, order.ID))
			}
			if in.Quantity <= 0 {
				removed = append(removed, row.ID)
				delete(byID, row.ID)
				continue
			}
			row.Quantity = in.Quantity
			if in.Notes != nil {
				row.Notes = strings.TrimSpace(*in.Notes)
			}
			if err := r.orders.UpdateItem(ctx, row); err != nil {
				return err
			}
		}
		if err := r.orders.DeleteItems(ctx, removed); err != nil {
			return err
		}

		surviving := make([]*entity.OrderItem, 0, len(byID))
		for _, row := range rows {
			if _, ok := byID[row.ID]; ok {
				surviving = append(surviving, row)
			}
		}

		now := s.now()
		order.TotalAmount = entity.RecomputeTotal(surviving)
		order.UpdatedAt = now
		columns := []string{"total_amount", "updated_at"}
		if len(surviving) == 0 {
			reason := autoCancelReason
			order.Status = entity.OrderCancelled
			order.CancellationReason = &reason
			order.Notes = appendCancellation(order.Notes, reason)
			columns = append(columns, "status", "cancellation_reason", "notes")
			autoCancelled = true
		}
		if err := r.orders.Update(ctx, order, columns...); err != nil {
			return err
		}
		if autoCancelled {
			if freed, err = s.freeTable(ctx, r, order.TableID, now); err != nil {
				return err
			}
		}

		updated, err = r.orders.GetDetailed(ctx, order.ID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update items failed")
		return nil, err
	}

	s.forget(ctx, orderID)
	s.logger.Info("order items updated",
		zap.Int64("order_id", orderID),
		zap.Int("items", len(updated.Items)),
		zap.String("total", updated.TotalAmount.String()),
	)
	if autoCancelled {
		s.recordTransition(ctx, updated, entity.OrderPending, freed)
		s.publish(ctx, newEvent(EventCancelled, updated, entity.OrderPending, updated.UpdatedAt))
	} else {
		s.publish(ctx, newEvent(EventItemsUpdated, updated, "", updated.UpdatedAt))
	}
	return updated, nil
}

// DeleteOrder hard-deletes a pending or cancelled order with its items. A
// pending order's table is freed; a cancelled one already released it.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.DeleteOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var deleted *entity.Order
	err := s.inTx(ctx, "delete order", func(ctx context.Context, r txRepos) error {
		order, err := r.order(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != entity.OrderPending && order.Status != entity.OrderCancelled {
			return errorbank.Conflict(fmt.Sprintf("order %d is %s; only pending or cancelled orders can be deleted", order.ID, order.Status))
		}
		if err := r.orders.Delete(ctx, order.ID); err != nil {
			return err
		}
		if order.Status == entity.OrderPending {
			if _, err := s.freeTable(ctx, r, order.TableID, s.now()); err != nil {
				return err
			}
		}
		deleted = order
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}

	s.forget(ctx, orderID)
	s.logger.Info("order deleted", zap.Int64("order_id", orderID), zap.String("status", string(deleted.Status)))
	s.publish(ctx, newEvent(EventDeleted, deleted, "", s.now()))
	return nil
}

func (s *Service) recordTransition(ctx context.Context, order *entity.Order, previous entity.OrderStatus, freed bool) {
	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(previous)),
		attribute.String("to", string(order.Status)),
	))
	if order.Status == entity.OrderCompleted {
		amount, _ := order.TotalAmount.Float64()
		s.metrics.revenue.Add(ctx, amount)
	}
	s.logger.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(order.Status)),
		zap.Bool("table_freed", freed),
	)
}
