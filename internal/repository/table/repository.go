package table

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

var repoTracer = otel.Tracer("github.com/Additional-Code/bistro/repository/table")

// ErrNotFound is returned when a table is missing.
var ErrNotFound = errors.New("table not found")

// Repository encapsulates read/write access for dining tables.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// Filter narrows table listings.
type Filter struct {
	Section string
	Status  entity.TableStatus
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx}
}

// Create persists a new table.
func (r *Repository) Create(ctx context.Context, table *entity.Table) error {
	ctx, span := repoTracer.Start(ctx, "TableRepository.Create", trace.WithAttributes(attribute.String("table.name", table.Name)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(table).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches a table by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Table, error) {
	ctx, span := repoTracer.Start(ctx, "TableRepository.GetByID", trace.WithAttributes(attribute.Int64("table.id", id)))
	defer span.End()

	table := new(entity.Table)
	err := r.reader.NewSelect().Model(table).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return table, nil
}

// ExistsByName reports whether another table already uses name.
func (r *Repository) ExistsByName(ctx context.Context, name string, excludeID int64) (bool, error) {
	q := r.reader.NewSelect().Model((*entity.Table)(nil)).Where("name = ?", name)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return q.Exists(ctx)
}

// List returns tables ordered by section then name.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*entity.Table, error) {
	var tables []*entity.Table
	q := r.reader.NewSelect().Model(&tables)
	if filter.Section != "" {
		q = q.Where("section = ?", filter.Section)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	err := q.OrderExpr("section ASC").OrderExpr("name ASC").Scan(ctx)
	return tables, err
}

// Update writes the editable attributes of a table.
func (r *Repository) Update(ctx context.Context, table *entity.Table) error {
	_, err := r.writer.NewUpdate().Model(table).
		Column("name", "capacity", "section", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

// SetStatus changes a table's status.
func (r *Repository) SetStatus(ctx context.Context, id int64, status entity.TableStatus, at time.Time) error {
	ctx, span := repoTracer.Start(ctx, "TableRepository.SetStatus", trace.WithAttributes(
		attribute.Int64("table.id", id),
		attribute.String("table.status", string(status)),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Table)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a table.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.writer.NewDelete().Model((*entity.Table)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// CountByStatus returns the number of tables in each status.
func (r *Repository) CountByStatus(ctx context.Context) (map[entity.TableStatus]int, error) {
	var rows []struct {
		Status entity.TableStatus `bun:"status"`
		Count  int                `bun:"count"`
	}
	err := r.reader.NewSelect().Model((*entity.Table)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[entity.TableStatus]int, len(entity.TableStatuses))
	for _, status := range entity.TableStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
