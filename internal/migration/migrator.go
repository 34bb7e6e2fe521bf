package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/database"
)

//go:embed sql/*/*.sql
var migrationsFS embed.FS

const migrationsRoot = "sql"

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// goose keeps its dialect and filesystem in package state.
var gooseMu sync.Mutex

// Migrator wraps goose operations.
type Migrator struct {
	db      *bun.DB
	dialect string
	dir     string
	logger  *zap.Logger
}

// New constructs a goose-backed migrator for the configured store.
func New(conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	dialect, err := gooseDialect(conns.Driver)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Migrator{
		db:      conns.Writer,
		dialect: dialect,
		dir:     path.Join(migrationsRoot, schemaDir(conns.Driver)),
		logger:  logger,
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.withGoose(func() error {
		if err := goose.UpContext(ctx, m.db.DB, m.dir); err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to apply")

				return nil
			}
			return err
		}

		m.logger.Info("migrations applied", zap.String("dialect", m.dialect))

		return nil
	})
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	return m.withGoose(func() error {
		if all {
			if err := goose.DownToContext(ctx, m.db.DB, m.dir, 0); err != nil {
				if isNoMigrationErr(err) {
					m.logger.Info("no migrations to rollback")

					return nil
				}
				return err
			}
			m.logger.Info("migrations rolled back", zap.String("mode", "all"))

			return nil
		}

		if steps <= 0 {
			steps = 1
		}

		for i := 0; i < steps; i++ {
			if err := goose.DownContext(ctx, m.db.DB, m.dir); err != nil {
				if isNoMigrationErr(err) {
					m.logger.Info("no migrations to rollback")

					return nil
				}
				return err
			}
		}

		m.logger.Info("migrations rolled back", zap.Int("steps", steps))

		return nil
	})
}

// Version reports the currently applied schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.withGoose(func() error {
		v, err := goose.GetDBVersionContext(ctx, m.db.DB)
		version = v
		return err
	})
	return version, err
}

func (m *Migrator) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{logger: m.logger.Sugar()})
	if err := goose.SetDialect(m.dialect); err != nil {
		return err
	}
	return fn()
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case "postgres", "pg":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}

func schemaDir(driver string) string {
	switch driver {
	case "postgres", "pg":
		return "postgres"
	case "mysql":
		return "mysql"
	default:
		return "sqlite"
	}
}

func isNoMigrationErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "no migrations")
}

type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatalf(strings.TrimSpace(format), v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Debugf(strings.TrimSpace(format), v...)
}
