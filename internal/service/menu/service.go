package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
	menurepo "github.com/Additional-Code/bistro/internal/repository/menu"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	ordersvc "github.com/Additional-Code/bistro/internal/service/order"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

// Service is the menu catalog.
type Service struct {
	conns     *database.Connections
	menu      *menurepo.Repository
	orders    *orderrepo.Repository
	validator *validation.Validator
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Connections *database.Connections
	Menu        *menurepo.Repository
	Orders      *orderrepo.Repository
	Validator   *validation.Validator
	Cache       cache.Store
	Config      config.Config
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
		menu:      p.Menu,
		orders:    p.Orders,
		validator: p.Validator,
		cache:     store,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CategoryInput carries the editable attributes of a category.
type CategoryInput struct {
	Name         string `json:"name" validate:"notblank,max=100"`
	Description  string `json:"description" validate:"max=500"`
	DisplayOrder int    `json:"display_order" validate:"gte=0"`
}

// ItemInput carries the editable attributes of a menu item.
type ItemInput struct {
	Name         string          `json:"name" validate:"notblank,max=100"`
	Price        decimal.Decimal `json:"price" validate:"gt=0"`
	Description  string          `json:"description" validate:"max=1000"`
	ImageURL     string          `json:"image_url" validate:"omitempty,max=500"`
	IsAvailable  *bool           `json:"is_available,omitempty"`
	CategoryID   *int64          `json:"category_id,omitempty" validate:"omitempty,gt=0"`
	DisplayOrder int             `json:"display_order" validate:"gte=0"`
}

// ItemFilter narrows ListMenuItems.
type ItemFilter struct {
	CategoryID    int64
	AvailableOnly bool
	Search        string
}

// ItemSummary is the order engine's view of a menu item.
type ItemSummary struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable bool            `json:"is_available"`
}

// CreateCategory adds a category with a unique name.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*entity.MenuCategory, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	category := &entity.MenuCategory{
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		DisplayOrder: in.DisplayOrder,
	}
	err := s.inTx(ctx, "create category", func(ctx context.Context, menu *menurepo.Repository, _ *orderrepo.Repository) error {
		if err := categoryNameFree(ctx, menu, category.Name, 0); err != nil {
			return err
		}
		now := s.now()
		category.CreatedAt = now
		category.UpdatedAt = now
		return menu.CreateCategory(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return category, nil
}

// UpdateCategory edits a category.
func (s *Service) UpdateCategory(ctx context.Context, id int64, in CategoryInput) (*entity.MenuCategory, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	var category *entity.MenuCategory
	err := s.inTx(ctx, "update category", func(ctx context.Context, menu *menurepo.Repository, _ *orderrepo.Repository) error {
		var err error
		if category, err = loadCategory(ctx, menu, id); err != nil {
			return err
		}
		name := strings.TrimSpace(in.Name)
		if name != category.Name {
			if err := categoryNameFree(ctx, menu, name, id); err != nil {
				return err
			}
		}
		category.Name = name
		category.Description = strings.TrimSpace(in.Description)
		category.DisplayOrder = in.DisplayOrder
		category.UpdatedAt = s.now()
		return menu.UpdateCategory(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return category, nil
}

// DeleteCategory removes a category no menu item refers to.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	err := s.inTx(ctx, "delete category", func(ctx context.Context, menu *menurepo.Repository, _ *orderrepo.Repository) error {
		category, err := loadCategory(ctx, menu, id)
		if err != nil {
			return err
		}
		count, err := menu.CountItemsInCategory(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return errorbank.Conflict(fmt.Sprintf("category %q still has %d menu items", category.Name, count))
		}
		return menu.DeleteCategory(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, id int64) (*entity.MenuCategory, error) {
	category, err := loadCategory(ctx, s.menu, id)
	if err != nil {
		return nil, wrapRead(err, "failed to load category")
	}
	return category, nil
}

// ListCategories returns categories in display order.
func (s *Service) ListCategories(ctx context.Context) ([]*entity.MenuCategory, error) {
	categories, err := s.menu.ListCategories(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to list categories", errorbank.WithCause(err))
	}
	return categories, nil
}

// CreateMenuItem adds a menu item. Items are available unless stated
// otherwise.
func (s *Service) CreateMenuItem(ctx context.Context, in ItemInput) (*entity.MenuItem, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	item := &entity.MenuItem{IsAvailable: true}
	applyItemInput(item, in)

	err := s.inTx(ctx, "create menu item", func(ctx context.Context, menu *menurepo.Repository, _ *orderrepo.Repository) error {
		if err := itemNameFree(ctx, menu, item.Name, 0); err != nil {
			return err
		}
		if err := ensureCategory(ctx, menu, item.CategoryID); err != nil {
			return err
		}
		now := s.now()
		item.CreatedAt = now
		item.UpdatedAt = now
		return menu.CreateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.logger.Info("menu item created", zap.Int64("menu_item_id", item.ID), zap.String("name", item.Name))
	return item, nil
}

// UpdateMenuItem edits a menu item. Existing orders keep the price they were
// taken at.
func (s *Service) UpdateMenuItem(ctx context.Context, id int64, in ItemInput) (*entity.MenuItem, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	var item *entity.MenuItem
	err := s.inTx(ctx, "update menu item", func(ctx context.Context, menu *menurepo.Repository, _ *orderrepo.Repository) error {
		var err error
		if item, err = loadItem(ctx, menu, id); err != nil {
			return err
		}
		name := strings.TrimSpace(in.Name)
		if name != item.Name {
			if err := itemNameFree(ctx, menu, name, id); err != nil {
				return err
			}
		}
		if err := ensureCategory(ctx, menu, in.CategoryID); err != nil {
			return err
		}
		applyItemInput(item, in)
		item.Category = nil
		item.UpdatedAt = s.now()
		return menu.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.staleOrderViews(ctx)
	return item, nil
}

// SetAvailability takes an item on or off sale.
func (s *Service) SetAvailability(ctx context.Context, id int64, available bool) (*entity.MenuItem, error) {
	var item *entity.MenuItem
	err := s.inTx(ctx, "set menu item availability", func(ctx context.Context, menu *menurepo.Repository, _ *orderrepo.Repository) error {
		var err error
		if item, err = loadItem(ctx, menu, id); err != nil {
			return err
		}
		item.IsAvailable = available
		item.UpdatedAt = s.now()
		return menu.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.staleOrderViews(ctx)
	s.logger.Info("menu item availability changed", zap.Int64("menu_item_id", id), zap.Bool("available", available))
	return item, nil
}

// DeleteMenuItem removes an item that no order refers to.
func (s *Service) DeleteMenuItem(ctx context.Context, id int64) error {
	err := s.inTx(ctx, "delete menu item", func(ctx context.Context, menu *menurepo.Repository, orders *orderrepo.Repository) error {
		item, err := loadItem(ctx, menu, id)
		if err != nil {
			return err
		}
		count, err := orders.CountItemsForMenuItem(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return errorbank.Conflict(fmt.Sprintf("menu item %q appears on %d order lines; mark it unavailable instead", item.Name, count))
		}
		return menu.DeleteItem(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GetMenuItem returns one item with its category.
func (s *Service) GetMenuItem(ctx context.Context, id int64) (*entity.MenuItem, error) {
	item, err := loadItem(ctx, s.menu, id)
	if err != nil {
		return nil, wrapRead(err, "failed to load menu item")
	}
	return item, nil
}

// ListMenuItems returns items in category then display order. The
// unfiltered listing of available items is cached.
func (s *Service) ListMenuItems(ctx context.Context, filter ItemFilter) ([]*entity.MenuItem, error) {
	cacheable := filter.CategoryID == 0 && filter.AvailableOnly && strings.TrimSpace(filter.Search) == ""
	if cacheable {
		var items []*entity.MenuItem
		err := cache.GetJSON(ctx, s.cache, availableKey, &items)
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("menu cache read failed", zap.Error(err))
		}
	}

	items, err := s.menu.ListItems(ctx, menurepo.ItemFilter{
		CategoryID:    filter.CategoryID,
		AvailableOnly: filter.AvailableOnly,
		Search:        filter.Search,
	})
	if err != nil {
		return nil, errorbank.Internal("failed to list menu items", errorbank.WithCause(err))
	}

	if cacheable {
		if err := cache.SetJSON(ctx, s.cache, availableKey, items, s.cacheTTL); err != nil {
			s.logger.Warn("menu cache write failed", zap.Error(err))
		}
	}
	return items, nil
}

// GetMenuItemsByIDs returns price and availability for the requested items.
// Unknown ids are absent from the result.
func (s *Service) GetMenuItemsByIDs(ctx context.Context, ids []int64) (map[int64]ItemSummary, error) {
	items, err := s.menu.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, errorbank.Internal("failed to load menu items", errorbank.WithCause(err))
	}
	out := make(map[int64]ItemSummary, len(items))
	for id, item := range items {
		out[id] = ItemSummary{Name: item.Name, Price: item.Price, IsAvailable: item.IsAvailable}
	}
	return out, nil
}

var availableKey = cache.Key("menu", "available")

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, availableKey); err != nil {
		s.logger.Warn("menu cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, *menurepo.Repository, *orderrepo.Repository) error) error {
	return s.conns.RunInTx(ctx, op, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.menu.WithTx(tx), s.orders.WithTx(tx))
	})
}

func applyItemInput(item *entity.MenuItem, in ItemInput) {
	item.Name = strings.TrimSpace(in.Name)
	item.Price = in.Price
	item.Description = strings.TrimSpace(in.Description)
	item.ImageURL = strings.TrimSpace(in.ImageURL)
	item.CategoryID = in.CategoryID
	item.DisplayOrder = in.DisplayOrder
	if in.IsAvailable != nil {
		item.IsAvailable = *in.IsAvailable
	}
}

func loadCategory(ctx context.Context, menu *menurepo.Repository, id int64) (*entity.MenuCategory, error) {
	category, err := menu.GetCategory(ctx, id)
	if errors.Is(err, menurepo.ErrCategoryNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("category %d not found", id))
	}
	return category, err
}

func loadItem(ctx context.Context, menu *menurepo.Repository, id int64) (*entity.MenuItem, error) {
	item, err := menu.GetItem(ctx, id)
	if errors.Is(err, menurepo.ErrItemNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("menu item %d not found", id))
	}
	return item, err
}

func ensureCategory(ctx context.Context, menu *menurepo.Repository, id *int64) error {
	if id == nil {
		return nil
	}
	_, err := loadCategory(ctx, menu, *id)
	return err
}

func categoryNameFree(ctx context.Context, menu *menurepo.Repository, name string, excludeID int64) error {
	taken, err := menu.CategoryNameTaken(ctx, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return errorbank.Conflict(fmt.Sprintf("category name %q is already in use", name))
	}
	return nil
}

func itemNameFree(ctx context.Context, menu *menurepo.Repository, name string, excludeID int64) error {
	taken, err := menu.ItemNameTaken(ctx, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return errorbank.Conflict(fmt.Sprintf("menu item name %q is already in use", name))
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

// staleOrderViews drops cached order views, which embed menu item names.
func (s *Service) staleOrderViews(ctx context.Context) {
	if err := ordersvc.InvalidateViews(ctx, s.cache); err != nil {
		s.logger.Warn("order views invalidation failed", zap.Error(err))
	}
}
