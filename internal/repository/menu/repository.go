package menu

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/bistro/repository/menu")

var (
	// ErrItemNotFound is returned when a menu item is missing.
	ErrItemNotFound = errors.New("menu item not found")
	// ErrCategoryNotFound is returned when a menu category is missing.
	ErrCategoryNotFound = errors.New("menu category not found")
)

// Repository encapsulates read/write access for the menu catalog.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// ItemFilter narrows menu item listings.
type ItemFilter struct {
	CategoryID    int64
	AvailableOnly bool
	Search        string
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx}
}

// CreateCategory persists a new category.
func (r *Repository) CreateCategory(ctx context.Context, category *entity.MenuCategory) error {
	_, err := r.writer.NewInsert().Model(category).Exec(ctx)
	return err
}

// GetCategory fetches a category by id.
func (r *Repository) GetCategory(ctx context.Context, id int64) (*entity.MenuCategory, error) {
	category := new(entity.MenuCategory)
	err := r.reader.NewSelect().Model(category).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return category, nil
}

// CategoryNameTaken reports whether another category uses name.
func (r *Repository) CategoryNameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	q := r.reader.NewSelect().Model((*entity.MenuCategory)(nil)).Where("name = ?", name)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return q.Exists(ctx)
}

// ListCategories returns categories in display order.
func (r *Repository) ListCategories(ctx context.Context) ([]*entity.MenuCategory, error) {
	var categories []*entity.MenuCategory
	err := r.reader.NewSelect().Model(&categories).
		OrderExpr("display_order ASC").
		OrderExpr("name ASC").
		Scan(ctx)
	return categories, err
}

// UpdateCategory writes the editable attributes of a category.
func (r *Repository) UpdateCategory(ctx context.Context, category *entity.MenuCategory) error {
	_, err := r.writer.NewUpdate().Model(category).
		Column("name", "description", "display_order", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

// DeleteCategory removes a category.
func (r *Repository) DeleteCategory(ctx context.Context, id int64) error {
	_, err := r.writer.NewDelete().Model((*entity.MenuCategory)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// CountItemsInCategory counts menu items referencing a category.
func (r *Repository) CountItemsInCategory(ctx context.Context, categoryID int64) (int, error) {
	return r.reader.NewSelect().Model((*entity.MenuItem)(nil)).Where("category_id = ?", categoryID).Count(ctx)
}

// CreateItem persists a new menu item.
func (r *Repository) CreateItem(ctx context.Context, item *entity.MenuItem) error {
	ctx, span := repoTracer.Start(ctx, "MenuRepository.CreateItem", trace.WithAttributes(attribute.String("menu_item.name", item.Name)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(item).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetItem fetches a menu item with its category.
func (r *Repository) GetItem(ctx context.Context, id int64) (*entity.MenuItem, error) {
	item := new(entity.MenuItem)
	err := r.reader.NewSelect().Model(item).
		Relation("Category").
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ItemNameTaken reports whether another menu item uses name.
func (r *Repository) ItemNameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	q := r.reader.NewSelect().Model((*entity.MenuItem)(nil)).Where("name = ?", name)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return q.Exists(ctx)
}

// ListItems returns menu items in category then display order.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]*entity.MenuItem, error) {
	ctx, span := repoTracer.Start(ctx, "MenuRepository.ListItems")
	defer span.End()

	var items []*entity.MenuItem
	q := r.reader.NewSelect().Model(&items).Relation("Category")
	if filter.CategoryID > 0 {
		q = q.Where("?TableAlias.category_id = ?", filter.CategoryID)
	}
	if filter.AvailableOnly {
		q = q.Where("?TableAlias.is_available = ?", true)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		q = q.Where("LOWER(?TableAlias.name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	err := q.OrderExpr("?TableAlias.category_id ASC").
		OrderExpr("?TableAlias.display_order ASC").
		OrderExpr("?TableAlias.name ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return items, err
}

// GetItemsByIDs loads the requested menu items keyed by id. Missing ids are
// simply absent from the result.
func (r *Repository) GetItemsByIDs(ctx context.Context, ids []int64) (map[int64]*entity.MenuItem, error) {
	result := make(map[int64]*entity.MenuItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	ctx, span := repoTracer.Start(ctx, "MenuRepository.GetItemsByIDs", trace.WithAttributes(attribute.Int("menu_item.count", len(ids))))
	defer span.End()

	var items []*entity.MenuItem
	if err := r.reader.NewSelect().Model(&items).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

// UpdateItem writes the editable attributes of a menu item.
func (r *Repository) UpdateItem(ctx context.Context, item *entity.MenuItem) error {
	_, err := r.writer.NewUpdate().Model(item).
		Column("name", "price", "description", "image_url", "is_available", "category_id", "display_order", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

// DeleteItem removes a menu item.
func (r *Repository) DeleteItem(ctx context.Context, id int64) error {
	_, err := r.writer.NewDelete().Model((*entity.MenuItem)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}
