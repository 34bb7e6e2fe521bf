package staff

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
)

// ErrNotFound is returned when a staff member is missing.
var ErrNotFound = errors.New("staff not found")

// Repository encapsulates read/write access for staff accounts.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx}
}

// Create persists a new staff account.
func (r *Repository) Create(ctx context.Context, staff *entity.Staff) error {
	_, err := r.writer.NewInsert().Model(staff).Exec(ctx)
	return err
}

// GetByID fetches a staff member by id.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Staff, error) {
	return r.getBy(ctx, "id = ?", id)
}

// GetByUsername fetches a staff member by login name.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*entity.Staff, error) {
	return r.getBy(ctx, "username = ?", username)
}

func (r *Repository) getBy(ctx context.Context, where string, arg any) (*entity.Staff, error) {
	staff := new(entity.Staff)
	err := r.reader.NewSelect().Model(staff).Where(where, arg).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return staff, nil
}

// UsernameTaken reports whether another account uses username.
func (r *Repository) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	q := r.reader.NewSelect().Model((*entity.Staff)(nil)).Where("username = ?", username)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return q.Exists(ctx)
}

// List returns every account ordered by name.
func (r *Repository) List(ctx context.Context) ([]*entity.Staff, error) {
	var staff []*entity.Staff
	err := r.reader.NewSelect().Model(&staff).OrderExpr("name ASC").OrderExpr("id ASC").Scan(ctx)
	return staff, err
}

// Update writes the profile attributes of an account.
func (r *Repository) Update(ctx context.Context, staff *entity.Staff) error {
	_, err := r.writer.NewUpdate().Model(staff).
		Column("name", "username", "role", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, staff *entity.Staff) error {
	_, err := r.writer.NewUpdate().Model(staff).
		Column("password_hash", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

// Delete removes a staff account.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.writer.NewDelete().Model((*entity.Staff)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// CountByRole counts accounts holding a role.
func (r *Repository) CountByRole(ctx context.Context, role entity.Role) (int, error) {
	return r.reader.NewSelect().Model((*entity.Staff)(nil)).Where("role = ?", role).Count(ctx)
}
