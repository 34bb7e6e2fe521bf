// Package testutil builds throwaway stores for tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/migration"
	menurepo "github.com/Additional-Code/bistro/internal/repository/menu"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	staffrepo "github.com/Additional-Code/bistro/internal/repository/staff"
	tablerepo "github.com/Additional-Code/bistro/internal/repository/table"
)

// Store is a migrated in-memory database with its repositories.
type Store struct {
	Config config.Config
	Conns  *database.Connections
	Logger *zap.Logger

	Orders *orderrepo.Repository
	Tables *tablerepo.Repository
	Menu   *menurepo.Repository
	Staff  *staffrepo.Repository
}

// NewStore opens a private in-memory sqlite database, applies every
// migration and closes it when the test ends.
func NewStore(t testing.TB) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg := config.ForTesting(dsn)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	conns, err := database.Open(cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })

	migrator, err := migration.New(conns, logger)
	require.NoError(t, err)
	require.NoError(t, migrator.Up(context.Background()))

	return &Store{
		Config: cfg,
		Conns:  conns,
		Logger: logger,
		Orders: orderrepo.NewRepository(conns),
		Tables: tablerepo.NewRepository(conns),
		Menu:   menurepo.NewRepository(conns),
		Staff:  staffrepo.NewRepository(conns),
	}
}

// Epoch is the fixed creation time used by fixtures.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Table inserts an empty table.
func (s *Store) Table(t testing.TB, name string) *entity.Table {
	t.Helper()
	table := &entity.Table{
		Name:      name,
		Capacity:  4,
		Section:   "main",
		Status:    entity.TableEmpty,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	require.NoError(t, s.Tables.Create(context.Background(), table))
	return table
}

// Category inserts a menu category.
func (s *Store) Category(t testing.TB, name string) *entity.MenuCategory {
	t.Helper()
	category := &entity.MenuCategory{Name: name, CreatedAt: Epoch, UpdatedAt: Epoch}
	require.NoError(t, s.Menu.CreateCategory(context.Background(), category))
	return category
}

// MenuItem inserts an available menu item priced in VND.
func (s *Store) MenuItem(t testing.TB, name string, price int64, category *entity.MenuCategory) *entity.MenuItem {
	t.Helper()
	item := &entity.MenuItem{
		Name:        name,
		Price:       decimal.NewFromInt(price),
		IsAvailable: true,
		CreatedAt:   Epoch,
		UpdatedAt:   Epoch,
	}
	if category != nil {
		item.CategoryID = &category.ID
	}
	require.NoError(t, s.Menu.CreateItem(context.Background(), item))
	return item
}

// StaffMember inserts an account whose password is "secret123".
func (s *Store) StaffMember(t testing.TB, username string, role entity.Role) *entity.Staff {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	staff := &entity.Staff{
		Name:         username,
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    Epoch,
		UpdatedAt:    Epoch,
	}
	require.NoError(t, s.Staff.Create(context.Background(), staff))
	return staff
}

// TableStatus reads the current status of a table.
func (s *Store) TableStatus(t testing.TB, id int64) entity.TableStatus {
	t.Helper()
	table, err := s.Tables.GetByID(context.Background(), id)
	require.NoError(t, err)
	return table.Status
}

// Count returns the number of rows in a model's table.
func (s *Store) Count(t testing.TB, model any) int {
	t.Helper()
	n, err := s.Conns.Reader.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}
