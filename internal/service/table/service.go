package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	tablerepo "github.com/Additional-Code/bistro/internal/repository/table"
	ordersvc "github.com/Additional-Code/bistro/internal/service/order"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/bistro/service/table")

const defaultCapacity = 4

// Service is the table registry.
type Service struct {
	conns     *database.Connections
	tables    *tablerepo.Repository
	orders    *orderrepo.Repository
	validator *validation.Validator
	cache     cache.Store
	logger    *zap.Logger
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Connections *database.Connections
	Tables      *tablerepo.Repository
	Orders      *orderrepo.Repository
	Validator   *validation.Validator
	Cache       cache.Store
	Logger      *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := p.Cache
	if store == nil {
		store = cache.Noop()
	}
	return &Service{
		conns:     p.Connections,
		tables:    p.Tables,
		orders:    p.Orders,
		validator: p.Validator,
		cache:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Input carries the editable attributes of a table. Capacity defaults to 4.
type Input struct {
	Name     string `json:"name" validate:"notblank,max=50"`
	Capacity int    `json:"capacity" validate:"gte=0,max=100"`
	Section  string `json:"section" validate:"max=50"`
}

// Filter narrows ListTables.
type Filter struct {
	Section string
	Status  entity.TableStatus
}

// StatusResult is returned by UpdateTableStatus.
type StatusResult struct {
	ID     int64              `json:"id"`
	Status entity.TableStatus `json:"status"`
}

// WithActiveOrder pairs a table with the order occupying it, if any.
type WithActiveOrder struct {
	Table       *entity.Table `json:"table"`
	ActiveOrder *entity.Order `json:"active_order,omitempty"`
}

func (in Input) normalized() Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Section = strings.TrimSpace(in.Section)
	if in.Capacity == 0 {
		in.Capacity = defaultCapacity
	}
	return in
}

// CreateTable registers a new empty table with a unique name.
func (s *Service) CreateTable(ctx context.Context, in Input) (*entity.Table, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	in = in.normalized()

	table := &entity.Table{
		Name:     in.Name,
		Capacity: in.Capacity,
		Section:  in.Section,
		Status:   entity.TableEmpty,
	}
	err := s.inTx(ctx, "create table", func(ctx context.Context, tables *tablerepo.Repository, _ *orderrepo.Repository) error {
		if err := ensureNameFree(ctx, tables, in.Name, 0); err != nil {
			return err
		}
		now := s.now()
		table.CreatedAt = now
		table.UpdatedAt = now
		return tables.Create(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("table created", zap.Int64("table_id", table.ID), zap.String("name", table.Name))
	return table, nil
}

// UpdateTable renames or resizes a table. Status is changed through
// UpdateTableStatus only.
func (s *Service) UpdateTable(ctx context.Context, id int64, in Input) (*entity.Table, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	in = in.normalized()

	var table *entity.Table
	err := s.inTx(ctx, "update table", func(ctx context.Context, tables *tablerepo.Repository, _ *orderrepo.Repository) error {
		var err error
		if table, err = load(ctx, tables, id); err != nil {
			return err
		}
		if in.Name != table.Name {
			if err := ensureNameFree(ctx, tables, in.Name, id); err != nil {
				return err
			}
		}
		table.Name = in.Name
		table.Capacity = in.Capacity
		table.Section = in.Section
		table.UpdatedAt = s.now()
		return tables.Update(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	s.staleOrderViews(ctx)
	return table, nil
}

// DeleteTable removes a table that has never had an order.
func (s *Service) DeleteTable(ctx context.Context, id int64) error {
	err := s.inTx(ctx, "delete table", func(ctx context.Context, tables *tablerepo.Repository, orders *orderrepo.Repository) error {
		table, err := load(ctx, tables, id)
		if err != nil {
			return err
		}
		count, err := orders.CountForTable(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return errorbank.Conflict(fmt.Sprintf("table %s has %d orders and cannot be deleted", table.Name, count))
		}
		return tables.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("table deleted", zap.Int64("table_id", id))
	return nil
}

// GetTable returns one table.
func (s *Service) GetTable(ctx context.Context, id int64) (*entity.Table, error) {
	table, err := load(ctx, s.tables, id)
	if err != nil {
		return nil, wrapRead(err, "failed to load table")
	}
	return table, nil
}

// GetTableStatus returns the occupancy status of a table.
func (s *Service) GetTableStatus(ctx context.Context, id int64) (entity.TableStatus, error) {
	table, err := s.GetTable(ctx, id)
	if err != nil {
		return "", err
	}
	return table.Status, nil
}

// GetTableWithActiveOrder returns a table and the order occupying it.
func (s *Service) GetTableWithActiveOrder(ctx context.Context, id int64) (*WithActiveOrder, error) {
	table, err := s.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &WithActiveOrder{Table: table}
	order, err := s.orders.ActiveForTable(ctx, id)
	switch {
	case errors.Is(err, orderrepo.ErrNotFound):
	case err != nil:
		return nil, errorbank.Internal("failed to load active order", errorbank.WithCause(err))
	default:
		result.ActiveOrder = order
	}
	return result, nil
}

// ListTables returns tables ordered by section then name.
func (s *Service) ListTables(ctx context.Context, filter Filter) ([]*entity.Table, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errorbank.Validation(fmt.Sprintf("invalid table status %q", filter.Status))
	}
	tables, err := s.tables.List(ctx, tablerepo.Filter{Section: strings.TrimSpace(filter.Section), Status: filter.Status})
	if err != nil {
		return nil, errorbank.Internal("failed to list tables", errorbank.WithCause(err))
	}
	return tables, nil
}

// UpdateTableStatus is the manual override of a table's status. A table with
// an active order stays occupied, and only opening an order occupies a table.
func (s *Service) UpdateTableStatus(ctx context.Context, id int64, status entity.TableStatus) (*StatusResult, error) {
	ctx, span := serviceTracer.Start(ctx, "TableService.UpdateTableStatus", trace.WithAttributes(
		attribute.Int64("table.id", id),
		attribute.String("table.status", string(status)),
	))
	defer span.End()

	if !status.Valid() {
		return nil, errorbank.Validation(fmt.Sprintf("invalid table status %q", status))
	}

	var previous entity.TableStatus
	err := s.inTx(ctx, "update table status", func(ctx context.Context, tables *tablerepo.Repository, orders *orderrepo.Repository) error {
		table, err := load(ctx, tables, id)
		if err != nil {
			return err
		}
		previous = table.Status
		active, err := orders.CountActiveForTable(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case active > 0 && status != entity.TableOccupied:
			return errorbank.Conflict(fmt.Sprintf("table %s has an active order and cannot be set to %s", table.Name, status))
		case active == 0 && status == entity.TableOccupied:
			return errorbank.Conflict(fmt.Sprintf("table %s has no active order; open an order to occupy it", table.Name))
		case previous == status:
			return nil
		}
		return tables.SetStatus(ctx, id, status, s.now())
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if previous != status {
		s.staleOrderViews(ctx)
		s.logger.Info("table status overridden",
			zap.Int64("table_id", id),
			zap.String("from", string(previous)),
			zap.String("to", string(status)),
		)
	}
	return &StatusResult{ID: id, Status: status}, nil
}

// CountByStatus returns the number of tables in each status.
func (s *Service) CountByStatus(ctx context.Context) (map[entity.TableStatus]int, error) {
	counts, err := s.tables.CountByStatus(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to count tables", errorbank.WithCause(err))
	}
	return counts, nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, *tablerepo.Repository, *orderrepo.Repository) error) error {
	return s.conns.RunInTx(ctx, op, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.tables.WithTx(tx), s.orders.WithTx(tx))
	})
}

func load(ctx context.Context, tables *tablerepo.Repository, id int64) (*entity.Table, error) {
	table, err := tables.GetByID(ctx, id)
	if errors.Is(err, tablerepo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("table %d not found", id))
	}
	return table, err
}

func ensureNameFree(ctx context.Context, tables *tablerepo.Repository, name string, excludeID int64) error {
	taken, err := tables.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return errorbank.Conflict(fmt.Sprintf("table name %q is already in use", name))
	}
	return nil
}

func wrapRead(err error, msg string) error {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return errorbank.Internal(msg, errorbank.WithCause(err))
}

// staleOrderViews drops cached order views, which embed the table they
// are placed at.
func (s *Service) staleOrderViews(ctx context.Context) {
	if err := ordersvc.InvalidateViews(ctx, s.cache); err != nil {
		s.logger.Warn("order views invalidation failed", zap.Error(err))
	}
}
