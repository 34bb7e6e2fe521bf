package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/entity"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	staffrepo "github.com/Additional-Code/bistro/internal/repository/staff"
	ordersvc "github.com/Additional-Code/bistro/internal/service/order"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

const invalidCredentials = "invalid username or password"

// Service manages staff accounts and authentication.
type Service struct {
	conns     *database.Connections
	staff     *staffrepo.Repository
	orders    *orderrepo.Repository
	validator *validation.Validator
	cache     cache.Store
	logger    *zap.Logger
	hashCost  int
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Connections *database.Connections
	Staff       *staffrepo.Repository
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
		staff:     p.Staff,
		orders:    p.Orders,
		validator: p.Validator,
		cache:     store,
		logger:    logger,
		hashCost:  bcrypt.DefaultCost,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput registers a staff account.
type CreateInput struct {
	Name     string      `json:"name" validate:"notblank,max=100"`
	Username string      `json:"username" validate:"notblank,max=50"`
	Password string      `json:"password" validate:"min=6,maxbytes=72"`
	Role     entity.Role `json:"role" validate:"omitempty,oneof=admin staff"`
}

// UpdateInput edits the profile of a staff account.
type UpdateInput struct {
	Name     string      `json:"name" validate:"notblank,max=100"`
	Username string      `json:"username" validate:"notblank,max=50"`
	Role     entity.Role `json:"role" validate:"required,oneof=admin staff"`
}

type passwordInput struct {
	Password string `json:"password" validate:"min=6,maxbytes=72"`
}

// CreateStaff adds an account with a unique username and a hashed password.
func (s *Service) CreateStaff(ctx context.Context, in CreateInput) (*entity.Staff, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = entity.RoleStaff
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	staff := &entity.Staff{
		Name:         strings.TrimSpace(in.Name),
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: hash,
		Role:         role,
	}
	err = s.inTx(ctx, "create staff", func(ctx context.Context, repo *staffrepo.Repository, _ *orderrepo.Repository) error {
		if err := usernameFree(ctx, repo, staff.Username, 0); err != nil {
			return err
		}
		now := s.now()
		staff.CreatedAt = now
		staff.UpdatedAt = now
		return repo.Create(ctx, staff)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("staff created", zap.Int64("staff_id", staff.ID), zap.String("username", staff.Username), zap.String("role", string(staff.Role)))
	return staff, nil
}

// UpdateStaff edits an account. The last admin cannot be demoted.
func (s *Service) UpdateStaff(ctx context.Context, id int64, in UpdateInput) (*entity.Staff, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	var staff *entity.Staff
	err := s.inTx(ctx, "update staff", func(ctx context.Context, repo *staffrepo.Repository, _ *orderrepo.Repository) error {
		var err error
		if staff, err = load(ctx, repo, id); err != nil {
			return err
		}
		username := strings.TrimSpace(in.Username)
		if username != staff.Username {
			if err := usernameFree(ctx, repo, username, id); err != nil {
				return err
			}
		}
		if staff.Role == entity.RoleAdmin && in.Role != entity.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, repo); err != nil {
				return err
			}
		}
		staff.Name = strings.TrimSpace(in.Name)
		staff.Username = username
		staff.Role = in.Role
		staff.UpdatedAt = s.now()
		return repo.Update(ctx, staff)
	})
	if err != nil {
		return nil, err
	}
	s.staleOrderViews(ctx)
	return staff, nil
}

// ChangePassword replaces an account's password.
func (s *Service) ChangePassword(ctx context.Context, id int64, password string) error {
	if err := s.validator.Struct(passwordInput{Password: password}); err != nil {
		return err
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, "change password", func(ctx context.Context, repo *staffrepo.Repository, _ *orderrepo.Repository) error {
		staff, err := load(ctx, repo, id)
		if err != nil {
			return err
		}
		staff.PasswordHash = hash
		staff.UpdatedAt = s.now()
		return repo.UpdatePassword(ctx, staff)
	})
	if err != nil {
		return err
	}
	s.logger.Info("staff password changed", zap.Int64("staff_id", id))
	return nil
}

// DeleteStaff removes an account with no order history, keeping at least
// one admin.
func (s *Service) DeleteStaff(ctx context.Context, id int64) error {
	err := s.inTx(ctx, "delete staff", func(ctx context.Context, repo *staffrepo.Repository, orders *orderrepo.Repository) error {
		staff, err := load(ctx, repo, id)
		if err != nil {
			return err
		}
		count, err := orders.CountForStaff(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return errorbank.Conflict(fmt.Sprintf("staff %s is attributed to %d orders and cannot be deleted", staff.Username, count))
		}
		if staff.Role == entity.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, repo); err != nil {
				return err
			}
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("staff deleted", zap.Int64("staff_id", id))
	return nil
}

// GetStaff returns one account.
func (s *Service) GetStaff(ctx context.Context, id int64) (*entity.Staff, error) {
	staff, err := load(ctx, s.staff, id)
	if err != nil {
		var appErr *errorbank.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, errorbank.Internal("failed to load staff", errorbank.WithCause(err))
	}
	return staff, nil
}

// Exists reports whether a staff account with id exists.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.GetStaff(ctx, id)
	if errorbank.Is(err, errorbank.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListStaff returns every account ordered by name.
func (s *Service) ListStaff(ctx context.Context) ([]*entity.Staff, error) {
	staff, err := s.staff.List(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to list staff", errorbank.WithCause(err))
	}
	return staff, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords fail the same way.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*entity.Staff, error) {
	staff, err := s.staff.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, staffrepo.ErrNotFound) {
		return nil, errorbank.Unauthorized(invalidCredentials)
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load staff", errorbank.WithCause(err))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(staff.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login rejected", zap.String("username", staff.Username))
		return nil, errorbank.Unauthorized(invalidCredentials)
	}
	return staff, nil
}

// CountAdmins returns the number of admin accounts.
func (s *Service) CountAdmins(ctx context.Context) (int, error) {
	count, err := s.staff.CountByRole(ctx, entity.RoleAdmin)
	if err != nil {
		return 0, errorbank.Internal("failed to count admins", errorbank.WithCause(err))
	}
	return count, nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", errorbank.Internal("failed to hash password", errorbank.WithCause(err))
	}
	return string(hash), nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, *staffrepo.Repository, *orderrepo.Repository) error) error {
	return s.conns.RunInTx(ctx, op, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.staff.WithTx(tx), s.orders.WithTx(tx))
	})
}

func load(ctx context.Context, repo *staffrepo.Repository, id int64) (*entity.Staff, error) {
	staff, err := repo.GetByID(ctx, id)
	if errors.Is(err, staffrepo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("staff %d not found", id))
	}
	return staff, err
}

func usernameFree(ctx context.Context, repo *staffrepo.Repository, username string, excludeID int64) error {
	taken, err := repo.UsernameTaken(ctx, username, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return errorbank.Conflict(fmt.Sprintf("username %q is already in use", username))
	}
	return nil
}

func ensureAnotherAdmin(ctx context.Context, repo *staffrepo.Repository) error {
	admins, err := repo.CountByRole(ctx, entity.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return errorbank.Conflict("at least one admin account must remain")
	}
	return nil
}

// staleOrderViews drops cached order views, which embed the name of the
// staff member serving them.
func (s *Service) staleOrderViews(ctx context.Context) {
	if err := ordersvc.InvalidateViews(ctx, s.cache); err != nil {
		s.logger.Warn("order views invalidation failed", zap.Error(err))
	}
}
