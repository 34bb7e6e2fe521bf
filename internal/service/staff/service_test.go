package staff

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/messaging"
	ordersvc "github.com/Additional-Code/bistro/internal/service/order"
	"github.com/Additional-Code/bistro/internal/testutil"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

func newTestService(t *testing.T) (*Service, *testutil.Store) {
	t.Helper()
	store := testutil.NewStore(t)
	svc := NewService(Params{
		Connections: store.Conns,
		Staff:       store.Staff,
		Orders:      store.Orders,
		Validator:   validation.New(),
		Logger:      store.Logger,
	})
	svc.hashCost = bcrypt.MinCost
	return svc, store
}

func TestCreateStaffHashesPassword(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	staff, err := svc.CreateStaff(ctx, CreateInput{Name: "Lan", Username: "lan", Password: "pa55word"})
	require.NoError(t, err)
	assert.Equal(t, entity.RoleStaff, staff.Role)

	stored, err := store.Staff.GetByID(ctx, staff.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "pa55word", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("pa55word")))

	_, err = svc.CreateStaff(ctx, CreateInput{Name: "Lan 2", Username: "lan", Password: "pa55word"})
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), err)

	_, err = svc.CreateStaff(ctx, CreateInput{Name: "Short", Username: "short", Password: "123"})
	assert.True(t, errorbank.Is(err, errorbank.KindValidation), err)

	_, err = svc.CreateStaff(ctx, CreateInput{Name: "Boss", Username: "boss", Password: "pa55word", Role: "owner"})
	assert.True(t, errorbank.Is(err, errorbank.KindValidation), err)
}

func TestPasswordByteLimit(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	wide := strings.Repeat("é", 40)

	_, err := svc.CreateStaff(ctx, CreateInput{Name: "Lan", Username: "lan", Password: wide})
	assert.True(t, errorbank.Is(err, errorbank.KindValidation), err)
	assert.Zero(t, store.Count(t, (*entity.Staff)(nil)))

	staff, err := svc.CreateStaff(ctx, CreateInput{Name: "Lan", Username: "lan", Password: strings.Repeat("é", 36)})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, staff.ID, wide)
	assert.True(t, errorbank.Is(err, errorbank.KindValidation), err)
	_, err = svc.Authenticate(ctx, "lan", strings.Repeat("é", 36))
	assert.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateStaff(ctx, CreateInput{Name: "Minh", Username: "minh", Password: "correct-horse", Role: entity.RoleAdmin})
	require.NoError(t, err)

	staff, err := svc.Authenticate(ctx, "minh", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, staff.Role)

	_, err = svc.Authenticate(ctx, "minh", "wrong")
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized), err)

	_, err = svc.Authenticate(ctx, "nobody", "correct-horse")
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized), err)
	assert.Equal(t, invalidCredentials, errorbank.From(err).Message())
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	staff, err := svc.CreateStaff(ctx, CreateInput{Name: "Lan", Username: "lan", Password: "first-pass"})
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, staff.ID, "second-pass"))

	_, err = svc.Authenticate(ctx, "lan", "first-pass")
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized), err)
	_, err = svc.Authenticate(ctx, "lan", "second-pass")
	assert.NoError(t, err)

	err = svc.ChangePassword(ctx, 404, "whatever1")
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound), err)
}

func TestLastAdminProtection(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	admin := store.StaffMember(t, "admin", entity.RoleAdmin)

	err := svc.DeleteStaff(ctx, admin.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), err)

	_, err = svc.UpdateStaff(ctx, admin.ID, UpdateInput{Name: "Admin", Username: "admin", Role: entity.RoleStaff})
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), err)

	second := store.StaffMember(t, "second", entity.RoleAdmin)
	updated, err := svc.UpdateStaff(ctx, admin.ID, UpdateInput{Name: "Former admin", Username: "admin", Role: entity.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, entity.RoleStaff, updated.Role)

	err = svc.DeleteStaff(ctx, second.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), err)

	admins, err := svc.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestDeleteStaffBlockedByOrders(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.StaffMember(t, "admin", entity.RoleAdmin)
	waiter := store.StaffMember(t, "waiter", entity.RoleStaff)
	idle := store.StaffMember(t, "idle", entity.RoleStaff)
	table := store.Table(t, "T1")

	order := &entity.Order{
		TableID:     table.ID,
		StaffID:     &waiter.ID,
		Status:      entity.OrderCompleted,
		TotalAmount: decimal.NewFromInt(10000),
		CreatedAt:   testutil.Epoch,
		UpdatedAt:   testutil.Epoch,
	}
	require.NoError(t, store.Orders.Create(ctx, order))

	err := svc.DeleteStaff(ctx, waiter.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), err)

	require.NoError(t, svc.DeleteStaff(ctx, idle.ID))
	exists, err := svc.Exists(ctx, idle.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = svc.Exists(ctx, waiter.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateStaffUsernameUniqueness(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.StaffMember(t, "lan", entity.RoleStaff)
	minh := store.StaffMember(t, "minh", entity.RoleStaff)

	_, err := svc.UpdateStaff(ctx, minh.ID, UpdateInput{Name: "Minh", Username: "lan", Role: entity.RoleStaff})
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), err)

	list, err := svc.ListStaff(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// newOrderService builds an order engine sharing views with the given cache.
func newOrderService(t *testing.T, store *testutil.Store, views cache.Store) *ordersvc.Service {
	t.Helper()
	svc, err := ordersvc.NewService(ordersvc.Params{
		Connections: store.Conns,
		Orders:      store.Orders,
		Tables:      store.Tables,
		Menu:        store.Menu,
		Staff:       store.Staff,
		Validator:   validation.New(),
		Cache:       views,
		Config:      store.Config,
		Logger:      store.Logger,
		Publisher:   messaging.Noop("bistro.orders"),
	})
	require.NoError(t, err)
	return svc
}

func TestUpdateStaffRefreshesCachedOrderViews(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	views := cache.NewMemory(time.Minute)
	svc := NewService(Params{
		Connections: store.Conns,
		Staff:       store.Staff,
		Orders:      store.Orders,
		Validator:   validation.New(),
		Cache:       views,
		Logger:      store.Logger,
	})
	orders := newOrderService(t, store, views)

	waiter := store.StaffMember(t, "lan", entity.RoleStaff)
	table := store.Table(t, "T1")
	pho := store.MenuItem(t, "Pho bo", 40000, nil)
	order, err := orders.CreateOrder(ctx, ordersvc.CreateOrderInput{
		TableID: table.ID,
		Items:   []ordersvc.ItemInput{{MenuItemID: pho.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = orders.UpdateOrderStatus(ctx, order.ID, entity.OrderPreparing, &waiter.ID)
	require.NoError(t, err)

	cached, err := orders.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, waiter.Name, cached.StaffName())

	_, err = svc.UpdateStaff(ctx, waiter.ID, UpdateInput{Name: "Lan Nguyen", Username: "lan", Role: entity.RoleStaff})
	require.NoError(t, err)

	fresh, err := orders.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lan Nguyen", fresh.StaffName())
}
