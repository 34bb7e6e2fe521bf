package seeder

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/entity"
	menusvc "github.com/Additional-Code/bistro/internal/service/menu"
	staffsvc "github.com/Additional-Code/bistro/internal/service/staff"
	tablesvc "github.com/Additional-Code/bistro/internal/service/table"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

// Module exposes the seeder to Fx.
var Module = fx.Provide(New)

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Config config.Config
	Staff  *staffsvc.Service
	Tables *tablesvc.Service
	Menu   *menusvc.Service
	Logger *zap.Logger
}

// Seeder loads bootstrap data for local and demo setups. Every step skips
// rows that already exist, so it can run repeatedly.
type Seeder struct {
	cfg    config.Seed
	staff  *staffsvc.Service
	tables *tablesvc.Service
	menu   *menusvc.Service
	logger *zap.Logger
}

// New constructs a Seeder on top of the domain services.
func New(p Params) *Seeder {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		cfg:    p.Config.Seed,
		staff:  p.Staff,
		tables: p.Tables,
		menu:   p.Menu,
		logger: logger,
	}
}

type sampleItem struct {
	name     string
	price    int64
	category string
}

var (
	sampleTables = []tablesvc.Input{
		{Name: "T1", Capacity: 2, Section: "window"},
		{Name: "T2", Capacity: 4, Section: "main"},
		{Name: "T3", Capacity: 4, Section: "main"},
		{Name: "T4", Capacity: 6, Section: "main"},
		{Name: "P1", Capacity: 4, Section: "patio"},
	}

	sampleCategories = []menusvc.CategoryInput{
		{Name: "Mains", Description: "Noodles and rice", DisplayOrder: 1},
		{Name: "Sides", DisplayOrder: 2},
		{Name: "Drinks", DisplayOrder: 3},
	}

	sampleItems = []sampleItem{
		{name: "Pho bo", price: 50000, category: "Mains"},
		{name: "Bun cha", price: 55000, category: "Mains"},
		{name: "Com tam", price: 45000, category: "Mains"},
		{name: "Goi cuon", price: 35000, category: "Sides"},
		{name: "Tra da", price: 5000, category: "Drinks"},
		{name: "Ca phe sua da", price: 25000, category: "Drinks"},
	}
)

// Run applies every seeding step in dependency order.
func (s *Seeder) Run(ctx context.Context) error {
	if err := s.Admin(ctx); err != nil {
		return err
	}
	if err := s.Tables(ctx); err != nil {
		return err
	}
	return s.Menu(ctx)
}

// Admin creates the bootstrap administrator when a password is configured
// and no admin account exists yet.
func (s *Seeder) Admin(ctx context.Context) error {
	if s.cfg.AdminPassword == "" {
		s.logger.Info("admin seed skipped; SEED_ADMIN_PASSWORD not set")
		return nil
	}
	admins, err := s.staff.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if admins > 0 {
		s.logger.Info("admin seed skipped; an admin already exists", zap.Int("admins", admins))
		return nil
	}
	_, err = s.staff.CreateStaff(ctx, staffsvc.CreateInput{
		Name:     s.cfg.AdminName,
		Username: s.cfg.AdminUsername,
		Password: s.cfg.AdminPassword,
		Role:     entity.RoleAdmin,
	})
	if skip(err) {
		s.logger.Info("admin already present", zap.String("username", s.cfg.AdminUsername))
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("seeded admin", zap.String("username", s.cfg.AdminUsername))
	return nil
}

// Tables seeds the sample floor plan.
func (s *Seeder) Tables(ctx context.Context) error {
	created := 0
	for _, in := range sampleTables {
		_, err := s.tables.CreateTable(ctx, in)
		if skip(err) {
			continue
		}
		if err != nil {
			return err
		}
		created++
	}
	s.logger.Info("seeded tables", zap.Int("created", created))
	return nil
}

// Menu seeds sample categories and dishes.
func (s *Seeder) Menu(ctx context.Context) error {
	for _, in := range sampleCategories {
		if _, err := s.menu.CreateCategory(ctx, in); err != nil && !skip(err) {
			return err
		}
	}

	categories, err := s.menu.ListCategories(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]int64, len(categories))
	for _, c := range categories {
		byName[c.Name] = c.ID
	}

	created := 0
	for _, sample := range sampleItems {
		in := menusvc.ItemInput{
			Name:  sample.name,
			Price: decimal.NewFromInt(sample.price),
		}
		if id, ok := byName[sample.category]; ok {
			in.CategoryID = &id
		}
		_, err := s.menu.CreateMenuItem(ctx, in)
		if skip(err) {
			continue
		}
		if err != nil {
			return err
		}
		created++
	}
	s.logger.Info("seeded menu", zap.Int("items", created))
	return nil
}

func skip(err error) bool {
	return errorbank.Is(err, errorbank.KindConflict)
}
