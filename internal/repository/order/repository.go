package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/bistro/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Repository encapsulates read/write access for orders and their items.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// Filter narrows order listings.
type Filter struct {
	Statuses []entity.OrderStatus
	TableID  int64
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx}
}

// Create persists a new order row.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.Int64("table.id", order.TableID)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(order).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// InsertItems persists order item rows in one statement.
func (r *Repository) InsertItems(ctx context.Context, items []*entity.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.InsertItems", trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	_, err := r.writer.NewInsert().Model(&items).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// Update writes the named columns of an order.
func (r *Repository) Update(ctx context.Context, order *entity.Order, columns ...string) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(attribute.Int64("order.id", order.ID)))
	defer span.End()

	_, err := r.writer.NewUpdate().Model(order).Column(columns...).WherePK().Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}

// UpdateItem writes quantity and notes of an order item.
func (r *Repository) UpdateItem(ctx context.Context, item *entity.OrderItem) error {
	_, err := r.writer.NewUpdate().Model(item).Column("quantity", "notes").WherePK().Exec(ctx)
	return err
}

// DeleteItems removes order items by id.
func (r *Repository) DeleteItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.writer.NewDelete().Model((*entity.OrderItem)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx)
	return err
}

// Delete removes an order and its items.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Delete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if _, err := r.writer.NewDelete().Model((*entity.OrderItem)(nil)).Where("order_id = ?", id).Exec(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	if _, err := r.writer.NewDelete().Model((*entity.Order)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetByID fetches the bare order row.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).Where("?TableAlias.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// GetDetailed fetches an order with items, menu item names, table and staff.
func (r *Repository) GetDetailed(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetDetailed", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.detailedQuery(order).Where("?TableAlias.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// ListItems returns the item rows of an order ordered by id.
func (r *Repository) ListItems(ctx context.Context, orderID int64) ([]*entity.OrderItem, error) {
	var items []*entity.OrderItem
	err := r.reader.NewSelect().Model(&items).
		Where("order_id = ?", orderID).
		OrderExpr("id ASC").
		Scan(ctx)
	return items, err
}

// ListActive returns orders keeping a table occupied, ready first, then
// preparing, then pending, oldest first within each status.
func (r *Repository) ListActive(ctx context.Context) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListActive")
	defer span.End()

	var orders []*entity.Order
	err := r.detailedQuery(&orders).
		Where("?TableAlias.status IN (?)", bun.In(entity.ActiveOrderStatuses)).
		OrderExpr("CASE ?TableAlias.status WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END", entity.OrderReady, entity.OrderPreparing).
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return orders, err
}

// List returns orders matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	var orders []*entity.Order
	q := r.detailedQuery(&orders)
	if len(filter.Statuses) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(filter.Statuses))
	}
	if filter.TableID > 0 {
		q = q.Where("?TableAlias.table_id = ?", filter.TableID)
	}
	if !filter.From.IsZero() {
		q = q.Where("?TableAlias.created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("?TableAlias.created_at < ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	err := q.OrderExpr("?TableAlias.created_at DESC").OrderExpr("?TableAlias.id DESC").Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return orders, err
}

// ActiveForTable returns the order occupying a table, or ErrNotFound.
func (r *Repository) ActiveForTable(ctx context.Context, tableID int64) (*entity.Order, error) {
	order := new(entity.Order)
	err := r.detailedQuery(order).
		Where("?TableAlias.table_id = ?", tableID).
		Where("?TableAlias.status IN (?)", bun.In(entity.ActiveOrderStatuses)).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

// CountActiveForTable counts orders in an active status referencing a table.
// It is the single occupancy predicate shared by orders and tables.
func (r *Repository) CountActiveForTable(ctx context.Context, tableID int64) (int, error) {
	return r.reader.NewSelect().Model((*entity.Order)(nil)).
		Where("table_id = ?", tableID).
		Where("status IN (?)", bun.In(entity.ActiveOrderStatuses)).
		Count(ctx)
}

// CountForTable counts every order, historical or not, referencing a table.
func (r *Repository) CountForTable(ctx context.Context, tableID int64) (int, error) {
	return r.reader.NewSelect().Model((*entity.Order)(nil)).Where("table_id = ?", tableID).Count(ctx)
}

// CountForStaff counts orders attributed to a staff member.
func (r *Repository) CountForStaff(ctx context.Context, staffID int64) (int, error) {
	return r.reader.NewSelect().Model((*entity.Order)(nil)).Where("staff_id = ?", staffID).Count(ctx)
}

// CountItemsForMenuItem counts order items referencing a menu item.
func (r *Repository) CountItemsForMenuItem(ctx context.Context, menuItemID int64) (int, error) {
	return r.reader.NewSelect().Model((*entity.OrderItem)(nil)).Where("menu_item_id = ?", menuItemID).Count(ctx)
}

// CountActive counts every order in an active status.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	return r.reader.NewSelect().Model((*entity.Order)(nil)).
		Where("status IN (?)", bun.In(entity.ActiveOrderStatuses)).
		Count(ctx)
}

// CompletedBetween returns completed orders with completed_at in [from, to),
// including items, menu items and categories for reporting.
func (r *Repository) CompletedBetween(ctx context.Context, from, to time.Time) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CompletedBetween")
	defer span.End()

	var orders []*entity.Order
	err := r.reader.NewSelect().Model(&orders).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("?TableAlias.id ASC")
		}).
		Relation("Items.MenuItem").
		Relation("Items.MenuItem.Category").
		Where("?TableAlias.status = ?", entity.OrderCompleted).
		Where("?TableAlias.completed_at >= ?", from.UTC()).
		Where("?TableAlias.completed_at < ?", to.UTC()).
		OrderExpr("?TableAlias.completed_at ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return orders, err
}

func (r *Repository) detailedQuery(model any) *bun.SelectQuery {
	return r.reader.NewSelect().Model(model).
		Relation("DiningTable").
		Relation("Staff").
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("?TableAlias.id ASC")
		}).
		Relation("Items.MenuItem")
}
