package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/messaging"
	menurepo "github.com/Additional-Code/bistro/internal/repository/menu"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	staffrepo "github.com/Additional-Code/bistro/internal/repository/staff"
	tablerepo "github.com/Additional-Code/bistro/internal/repository/table"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

const instrumentationName = "github.com/Additional-Code/bistro/service/order"

var serviceTracer = otel.Tracer(instrumentationName)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service is the order lifecycle engine. It owns every mutation of orders,
// order items and the occupancy of their tables.
type Service struct {
	conns     *database.Connections
	orders    *orderrepo.Repository
	tables    *tablerepo.Repository
	menu      *menurepo.Repository
	staff     *staffrepo.Repository
	validator *validation.Validator
	policy    TransitionPolicy
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	metrics   instruments
	now       func() time.Time
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

type instruments struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	revenue     metric.Float64Counter
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Connections *database.Connections
	Orders      *orderrepo.Repository
	Tables      *tablerepo.Repository
	Menu        *menurepo.Repository
	Staff       *staffrepo.Repository
	Validator   *validation.Validator
	Cache       cache.Store
	Config      config.Config
	Logger      *zap.Logger
	Publisher   messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) (*Service, error) {
	policy, err := PolicyByName(p.Config.Orders.TransitionPolicy)
	if err != nil {
		return nil, err
	}
	metrics, err := newInstruments()
	if err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := p.Cache
	if store == nil {
		store = cache.Noop()
	}
	logger.Info("order service ready",
		zap.String("transition_policy", policy.Name()),
		zap.Duration("cache_ttl", p.Config.Orders.CacheTTL),
	)
	return &Service{
		conns:     p.Connections,
		orders:    p.Orders,
		tables:    p.Tables,
		menu:      p.Menu,
		staff:     p.Staff,
		validator: p.Validator,
		policy:    policy,
		cache:     store,
		cacheTTL:  p.Config.Orders.CacheTTL,
		logger:    logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func newInstruments() (instruments, error) {
	meter := otel.Meter(instrumentationName)
	created, err1 := meter.Int64Counter("bistro.orders.created",
		metric.WithDescription("Orders opened"))
	transitions, err2 := meter.Int64Counter("bistro.orders.transitions",
		metric.WithDescription("Order status changes by target status"))
	revenue, err3 := meter.Float64Counter("bistro.orders.revenue",
		metric.WithDescription("Revenue of completed orders"), metric.WithUnit("VND"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return instruments{}, fmt.Errorf("create order instruments: %w", err)
	}
	return instruments{created: created, transitions: transitions, revenue: revenue}, nil
}

// WithClock replaces the time source used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MaxQuantity caps the quantity of a single order line, including lines
// merged from repeated menu items.
const MaxQuantity = 10000

// ItemInput is one requested order line.
type ItemInput struct {
	MenuItemID int64 `json:"menu_item_id" validate:"required,gt=0"`
	Quantity   int   `json:"quantity" validate:"gt=0,max=10000"`
	// Price overrides the current menu price when set.
	Price *decimal.Decimal `json:"price,omitempty" validate:"omitempty,gt=0"`
	Notes string           `json:"notes,omitempty" validate:"max=500"`
}

// CreateOrderInput opens a new order on a table.
type CreateOrderInput struct {
	TableID int64              `json:"table_id" validate:"required,gt=0"`
	Items   []ItemInput        `json:"items" validate:"required,min=1,dive"`
	Notes   string             `json:"notes,omitempty" validate:"max=1000"`
	Status  entity.OrderStatus `json:"status,omitempty" validate:"omitempty,oneof=pending preparing ready"`
}

type addItemsInput struct {
	Items []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// UpdateItemInput edits one existing order item. A quantity of zero or less
// removes the row.
type UpdateItemInput struct {
	OrderItemID int64   `json:"order_item_id" validate:"required,gt=0"`
	Quantity    int     `json:"quantity" validate:"max=10000"`
	Notes       *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type updateItemsInput struct {
	Items []UpdateItemInput `json:"items" validate:"required,min=1,unique=OrderItemID,dive"`
}

// AddItemsResult summarises an addOrderItems call.
type AddItemsResult struct {
	OrderID          int64           `json:"order_id"`
	ItemsAdded       int             `json:"items_added"`
	AdditionalAmount decimal.Decimal `json:"additional_amount"`
	NewTotal         decimal.Decimal `json:"new_total"`
}

// StatusResult is returned by status-changing operations.
type StatusResult struct {
	ID     int64              `json:"id"`
	Status entity.OrderStatus `json:"status"`
}

// ListFilter narrows ListOrders.
type ListFilter struct {
	Statuses []entity.OrderStatus
	TableID  int64
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// GetOrderByID returns an order with its items and joined table and staff
// names, consulting cache when available. A cached view is dropped once a
// table, staff or menu edit invalidates views.
func (s *Service) GetOrderByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.GetOrderByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	generation, err := cache.Generation(ctx, s.cache, viewsGenerationKey, s.cacheTTL)
	if err != nil {
		s.logger.Warn("orders cache generation unavailable", zap.Error(err))
	}
	if generation != "" {
		var cached cachedView
		err = cache.GetJSON(ctx, s.cache, CacheKey(id), &cached)
		switch {
		case err == nil && cached.Generation == generation && cached.Order != nil:
			return cached.Order, nil
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
		}
	}

	order, err := s.orders.GetDetailed(ctx, id)
	if err != nil {
		if errors.Is(err, orderrepo.ErrNotFound) {
			return nil, errorbank.NotFound(fmt.Sprintf("order %d not found", id))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}

	if generation != "" {
		view := cachedView{Generation: generation, Order: order}
		if err := cache.SetJSON(ctx, s.cache, CacheKey(id), view, s.cacheTTL); err != nil {
			s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	return order, nil
}

// GetActiveOrders returns every order occupying a table, ready first, then
// preparing, then pending, oldest first within each status.
func (s *Service) GetActiveOrders(ctx context.Context) ([]*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.GetActiveOrders")
	defer span.End()

	orders, err := s.orders.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to load active orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// ListOrders returns orders matching filter, newest first.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]*entity.Order, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, errorbank.Validation(fmt.Sprintf("invalid order status %q", status))
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, errorbank.Validation("to must not be before from")
	}
	if filter.Offset < 0 {
		return nil, errorbank.Validation("offset must not be negative")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	orders, err := s.orders.List(ctx, orderrepo.Filter{
		Statuses: filter.Statuses,
		TableID:  filter.TableID,
		From:     filter.From,
		To:       filter.To,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
	if err != nil {
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// GetOrdersByTable returns the order history of a table, newest first.
func (s *Service) GetOrdersByTable(ctx context.Context, tableID int64) ([]*entity.Order, error) {
	if _, err := s.tables.GetByID(ctx, tableID); err != nil {
		return nil, mapTableErr(err, tableID)
	}
	orders, err := s.orders.List(ctx, orderrepo.Filter{TableID: tableID})
	if err != nil {
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// GetActiveOrderForTable returns the order occupying a table.
func (s *Service) GetActiveOrderForTable(ctx context.Context, tableID int64) (*entity.Order, error) {
	order, err := s.orders.ActiveForTable(ctx, tableID)
	if errors.Is(err, orderrepo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("table %d has no active order", tableID))
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load active order", errorbank.WithCause(err))
	}
	return order, nil
}

// txRepos holds repositories bound to one transaction.
type txRepos struct {
	orders *orderrepo.Repository
	tables *tablerepo.Repository
	menu   *menurepo.Repository
	staff  *staffrepo.Repository
}

func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, r txRepos) error) error {
	return s.conns.RunInTx(ctx, op, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, txRepos{
			orders: s.orders.WithTx(tx),
			tables: s.tables.WithTx(tx),
			menu:   s.menu.WithTx(tx),
			staff:  s.staff.WithTx(tx),
		})
	})
}

func (r txRepos) order(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := r.orders.GetByID(ctx, id)
	if errors.Is(err, orderrepo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("order %d not found", id))
	}
	return order, err
}

func (r txRepos) table(ctx context.Context, id int64) (*entity.Table, error) {
	table, err := r.tables.GetByID(ctx, id)
	if err != nil {
		return nil, mapTableErr(err, id)
	}
	return table, nil
}

// availableMenuItems resolves every requested menu item and requires it to be
// on sale.
func (r txRepos) availableMenuItems(ctx context.Context, lines []ItemInput) (map[int64]*entity.MenuItem, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.MenuItemID)
	}
	items, err := r.menu.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		item, ok := items[line.MenuItemID]
		if !ok {
			return nil, errorbank.NotFound(fmt.Sprintf("menu item %d not found", line.MenuItemID))
		}
		if !item.IsAvailable {
			return nil, errorbank.Conflict(fmt.Sprintf("menu item %q is not available", item.Name))
		}
	}
	return items, nil
}

// freeTable returns a table to empty once no active order references it.
// Freeing a table that is not occupied is a no-op.
func (s *Service) freeTable(ctx context.Context, r txRepos, tableID int64, at time.Time) (bool, error) {
	table, err := r.table(ctx, tableID)
	if err != nil {
		return false, err
	}
	if table.Status != entity.TableOccupied {
		return false, nil
	}
	active, err := r.orders.CountActiveForTable(ctx, tableID)
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}
	if err := r.tables.SetStatus(ctx, tableID, entity.TableEmpty, at); err != nil {
		return false, err
	}
	return true, nil
}

// occupyTable marks a free table occupied for a reopened order.
func (s *Service) occupyTable(ctx context.Context, r txRepos, tableID int64, at time.Time) error {
	table, err := r.table(ctx, tableID)
	if err != nil {
		return err
	}
	if !table.Status.AcceptsOrders() {
		return errorbank.Conflict(fmt.Sprintf("table %s is %s", table.Name, table.Status))
	}
	active, err := r.orders.CountActiveForTable(ctx, tableID)
	if err != nil {
		return err
	}
	if active > 0 {
		return errorbank.Conflict(fmt.Sprintf("table %s already has an active order", table.Name))
	}
	return r.tables.SetStatus(ctx, tableID, entity.TableOccupied, at)
}

func mapTableErr(err error, id int64) error {
	if errors.Is(err, tablerepo.ErrNotFound) {
		return errorbank.NotFound(fmt.Sprintf("table %d not found", id))
	}
	return err
}

func mapStaffErr(err error, id int64) error {
	if errors.Is(err, staffrepo.ErrNotFound) {
		return errorbank.NotFound(fmt.Sprintf("staff %d not found", id))
	}
	return err
}

// mergeLines folds repeated menu items into one line with summed quantity.
// The first supplied price wins. A summed quantity above MaxQuantity is
// rejected.
func mergeLines(items []ItemInput) ([]ItemInput, error) {
	index := make(map[int64]int, len(items))
	merged := make([]ItemInput, 0, len(items))
	for _, item := range items {
		item.Notes = strings.TrimSpace(item.Notes)
		if i, ok := index[item.MenuItemID]; ok {
			qty, err := addQuantity(item.MenuItemID, merged[i].Quantity, item.Quantity)
			if err != nil {
				return nil, err
			}
			merged[i].Quantity = qty
			merged[i].Notes = joinNotes(merged[i].Notes, item.Notes)
			if merged[i].Price == nil {
				merged[i].Price = item.Price
			}
			continue
		}
		index[item.MenuItemID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

// addQuantity sums two positive line quantities, keeping the result within
// MaxQuantity.
func addQuantity(menuItemID int64, current, extra int) (int, error) {
	if extra > MaxQuantity-current {
		return 0, errorbank.Validation(
			fmt.Sprintf("quantity for menu item %d exceeds %d", menuItemID, MaxQuantity),
			errorbank.WithDetails(map[string]any{
				"menu_item_id": menuItemID,
				"max":          MaxQuantity,
			}),
		)
	}
	return current + extra, nil
}

func unitPrice(line ItemInput, item *entity.MenuItem) decimal.Decimal {
	if line.Price != nil {
		return *line.Price
	}
	return item.Price
}

func joinNotes(current, extra string) string {
	switch {
	case extra == "" || extra == current:
		return current
	case current == "":
		return extra
	default:
		return current + "; " + extra
	}
}

const cancellationPrefix = "Cancellation reason: "

// appendCancellation records reason in the free-text notes.
func appendCancellation(notes, reason string) string {
	line := cancellationPrefix + reason
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}

// CacheKey is the key an order's detailed view is cached under.
func CacheKey(id int64) string {
	return cache.Key("orders", id)
}

var viewsGenerationKey = cache.Key("orders", "views")

// cachedView is a detailed order as cached. It embeds table, staff and menu
// item names, so it is only served while Generation is current.
type cachedView struct {
	Generation string        `json:"generation"`
	Order      *entity.Order `json:"order"`
}

// InvalidateViews marks every cached order view stale. Edits to tables,
// staff accounts and menu items call it.
func InvalidateViews(ctx context.Context, store cache.Store) error {
	if store == nil {
		return nil
	}
	return cache.Bump(ctx, store, viewsGenerationKey, 0)
}

func (s *Service) forget(ctx context.Context, id int64) {
	if err := s.cache.Delete(ctx, CacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}
