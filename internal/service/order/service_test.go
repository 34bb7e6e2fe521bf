package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/messaging"
	"github.com/Additional-Code/bistro/internal/testutil"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []messaging.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingPublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingPublisher) Topic() string { return "bistro.orders" }

func (r *recordingPublisher) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.messages))
	for _, msg := range r.messages {
		types = append(types, msg.EventType())
	}
	return types
}

type OrderServiceSuite struct {
	suite.Suite

	ctx       context.Context
	store     *testutil.Store
	svc       *Service
	publisher *recordingPublisher
	now       time.Time

	t1   *entity.Table
	pho  *entity.MenuItem
	tea  *entity.MenuItem
	cake *entity.MenuItem
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testutil.NewStore(s.T())
	s.publisher = &recordingPublisher{}
	s.now = time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC)
	s.svc = s.newService(config.TransitionStrict)

	mains := s.store.Category(s.T(), "Mains")
	drinks := s.store.Category(s.T(), "Drinks")
	s.t1 = s.store.Table(s.T(), "T1")
	s.pho = s.store.MenuItem(s.T(), "Pho bo", 40000, mains)
	s.tea = s.store.MenuItem(s.T(), "Tra da", 5000, drinks)
	s.cake = s.store.MenuItem(s.T(), "Banh flan", 15000, nil)
}

func (s *OrderServiceSuite) newService(policy string) *Service {
	cfg := s.store.Config
	cfg.Orders.TransitionPolicy = policy
	cfg.Messaging.Enabled = true
	svc, err := NewService(Params{
		Connections: s.store.Conns,
		Orders:      s.store.Orders,
		Tables:      s.store.Tables,
		Menu:        s.store.Menu,
		Staff:       s.store.Staff,
		Validator:   validation.New(),
		Cache:       cache.NewMemory(time.Minute),
		Config:      cfg,
		Logger:      s.store.Logger,
		Publisher:   s.publisher,
	})
	s.Require().NoError(err)
	return svc.WithClock(func() time.Time { return s.now })
}

func (s *OrderServiceSuite) openOrder(table *entity.Table, items ...ItemInput) *entity.Order {
	if len(items) == 0 {
		items = []ItemInput{{MenuItemID: s.pho.ID, Quantity: 2}}
	}
	order, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{TableID: table.ID, Items: items})
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) reload(id int64) *entity.Order {
	order, err := s.store.Orders.GetDetailed(s.ctx, id)
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) assertAmount(expected int64, actual decimal.Decimal) {
	s.True(decimal.NewFromInt(expected).Equal(actual), "expected %d, got %s", expected, actual)
}

// assertTotalConsistent checks the stored total against the item rows.
func (s *OrderServiceSuite) assertTotalConsistent(id int64) {
	order, err := s.store.Orders.GetByID(s.ctx, id)
	s.Require().NoError(err)
	items, err := s.store.Orders.ListItems(s.ctx, id)
	s.Require().NoError(err)
	s.True(entity.RecomputeTotal(items).Equal(order.TotalAmount), "total %s drifted from items", order.TotalAmount)
}

func (s *OrderServiceSuite) assertKind(err error, kind errorbank.Kind) {
	s.Require().Error(err)
	s.True(errorbank.Is(err, kind), "expected %s error, got %v", kind, err)
}

func (s *OrderServiceSuite) TestCreateOrderOccupiesTable() {
	order := s.openOrder(s.t1)

	s.Equal(entity.OrderPending, order.Status)
	s.assertAmount(80000, order.TotalAmount)
	s.Require().Len(order.Items, 1)
	s.Equal(2, order.Items[0].Quantity)
	s.assertAmount(40000, order.Items[0].Price)
	s.Equal("Pho bo", order.Items[0].MenuItem.Name)
	s.Equal("T1", order.TableName())
	s.True(s.now.Equal(order.CreatedAt), "created_at %s", order.CreatedAt)
	s.Equal(entity.TableOccupied, s.store.TableStatus(s.T(), s.t1.ID))
	s.Contains(s.publisher.eventTypes(), EventCreated)
}

func (s *OrderServiceSuite) TestCreateOrderSnapshotsPrices() {
	custom := decimal.NewFromInt(35000)
	order := s.openOrder(s.t1,
		ItemInput{MenuItemID: s.pho.ID, Quantity: 1, Price: &custom},
		ItemInput{MenuItemID: s.tea.ID, Quantity: 2},
	)
	s.assertAmount(45000, order.TotalAmount)

	s.pho.Price = decimal.NewFromInt(99000)
	s.Require().NoError(s.store.Menu.UpdateItem(s.ctx, s.pho))

	reloaded := s.reload(order.ID)
	s.assertAmount(45000, reloaded.TotalAmount)
	s.assertAmount(35000, reloaded.Items[0].Price)
}

func (s *OrderServiceSuite) TestCreateOrderMergesRepeatedMenuItems() {
	order := s.openOrder(s.t1,
		ItemInput{MenuItemID: s.tea.ID, Quantity: 1, Notes: "less ice"},
		ItemInput{MenuItemID: s.tea.ID, Quantity: 2},
	)
	s.Require().Len(order.Items, 1)
	s.Equal(3, order.Items[0].Quantity)
	s.Equal("less ice", order.Items[0].Notes)
	s.assertAmount(15000, order.TotalAmount)
}

func (s *OrderServiceSuite) TestCreateOrderRejectsMergedQuantityOverLimit() {
	_, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{
		TableID: s.t1.ID,
		Items: []ItemInput{
			{MenuItemID: s.tea.ID, Quantity: MaxQuantity},
			{MenuItemID: s.tea.ID, Quantity: 2},
		},
	})
	s.assertKind(err, errorbank.KindValidation)
	s.Zero(s.store.Count(s.T(), (*entity.Order)(nil)))
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestCreateOrderOnReservedTable() {
	s.Require().NoError(s.store.Tables.SetStatus(s.ctx, s.t1.ID, entity.TableReserved, s.now))
	s.openOrder(s.t1)
	s.Equal(entity.TableOccupied, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestCreateOrderIsAllOrNothing() {
	_, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{
		TableID: s.t1.ID,
		Items: []ItemInput{
			{MenuItemID: s.pho.ID, Quantity: 1},
			{MenuItemID: s.tea.ID, Quantity: 1},
			{MenuItemID: 9999, Quantity: 1},
		},
	})
	s.assertKind(err, errorbank.KindNotFound)

	s.Zero(s.store.Count(s.T(), (*entity.Order)(nil)))
	s.Zero(s.store.Count(s.T(), (*entity.OrderItem)(nil)))
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestCreateOrderRejectsUnavailableItem() {
	s.cake.IsAvailable = false
	s.Require().NoError(s.store.Menu.UpdateItem(s.ctx, s.cake))

	_, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{
		TableID: s.t1.ID,
		Items:   []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1}, {MenuItemID: s.cake.ID, Quantity: 1}},
	})
	s.assertKind(err, errorbank.KindConflict)
	s.Zero(s.store.Count(s.T(), (*entity.Order)(nil)))
}

func (s *OrderServiceSuite) TestCreateOrderValidatesInput() {
	cases := map[string]CreateOrderInput{
		"no items":      {TableID: s.t1.ID},
		"zero quantity": {TableID: s.t1.ID, Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: 0}}},
		"negative price": {TableID: s.t1.ID, Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1, Price: func() *decimal.Decimal {
			d := decimal.NewFromInt(-1)
			return &d
		}()}}},
		"terminal status": {TableID: s.t1.ID, Status: entity.OrderCompleted, Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1}}},
		"missing table":   {Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1}}},
		"huge quantity":   {TableID: s.t1.ID, Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: MaxQuantity + 1}}},
	}
	for name, in := range cases {
		_, err := s.svc.CreateOrder(s.ctx, in)
		s.True(errorbank.Is(err, errorbank.KindValidation), "%s: %v", name, err)
	}
	s.Zero(s.store.Count(s.T(), (*entity.Order)(nil)))
}

func (s *OrderServiceSuite) TestCreateOrderOnOccupiedTableConflicts() {
	s.openOrder(s.t1)

	_, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{
		TableID: s.t1.ID,
		Items:   []ItemInput{{MenuItemID: s.tea.ID, Quantity: 1}},
	})
	s.assertKind(err, errorbank.KindConflict)
	s.Equal(1, s.store.Count(s.T(), (*entity.Order)(nil)))
	s.Equal(1, s.store.Count(s.T(), (*entity.OrderItem)(nil)))
}

func (s *OrderServiceSuite) TestCreateOrderOnMaintenanceTableConflicts() {
	s.Require().NoError(s.store.Tables.SetStatus(s.ctx, s.t1.ID, entity.TableMaintenance, s.now))
	_, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{TableID: s.t1.ID, Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1}}})
	s.assertKind(err, errorbank.KindConflict)
}

func (s *OrderServiceSuite) TestCreateOrderUnknownTable() {
	_, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{TableID: 404, Items: []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1}}})
	s.assertKind(err, errorbank.KindNotFound)
}

func (s *OrderServiceSuite) TestCreateOrderRollsBackOnStoreFailure() {
	_, err := s.store.Conns.Writer.ExecContext(s.ctx, `
		CREATE TRIGGER reject_unlucky_quantity BEFORE INSERT ON order_items
		WHEN NEW.quantity = 13
		BEGIN SELECT RAISE(ABORT, 'unlucky quantity'); END`)
	s.Require().NoError(err)

	_, err = s.svc.CreateOrder(s.ctx, CreateOrderInput{
		TableID: s.t1.ID,
		Items:   []ItemInput{{MenuItemID: s.pho.ID, Quantity: 13}},
	})
	s.assertKind(err, errorbank.KindTransaction)
	s.Zero(s.store.Count(s.T(), (*entity.Order)(nil)))
	s.Zero(s.store.Count(s.T(), (*entity.OrderItem)(nil)))
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestAddOrderItemsMergesIntoExistingRow() {
	order := s.openOrder(s.t1)
	price := decimal.NewFromInt(40000)

	result, err := s.svc.AddOrderItems(s.ctx, order.ID, []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1, Price: &price}})
	s.Require().NoError(err)

	s.Equal(1, result.ItemsAdded)
	s.assertAmount(40000, result.AdditionalAmount)
	s.assertAmount(120000, result.NewTotal)

	reloaded := s.reload(order.ID)
	s.Require().Len(reloaded.Items, 1)
	s.Equal(3, reloaded.Items[0].Quantity)
	s.assertTotalConsistent(order.ID)
}

func (s *OrderServiceSuite) TestAddOrderItemsMergesWithinOneCall() {
	order := s.openOrder(s.t1)

	result, err := s.svc.AddOrderItems(s.ctx, order.ID, []ItemInput{
		{MenuItemID: s.tea.ID, Quantity: 1},
		{MenuItemID: s.tea.ID, Quantity: 1},
		{MenuItemID: s.cake.ID, Quantity: 1},
	})
	s.Require().NoError(err)
	s.Equal(2, result.ItemsAdded)
	s.assertAmount(25000, result.AdditionalAmount)
	s.assertAmount(105000, result.NewTotal)

	reloaded := s.reload(order.ID)
	s.Require().Len(reloaded.Items, 3)
	s.Equal(2, reloaded.Items[1].Quantity)
	s.assertTotalConsistent(order.ID)
}

func (s *OrderServiceSuite) TestAddOrderItemsRejectsAccumulatedQuantityOverLimit() {
	order := s.openOrder(s.t1, ItemInput{MenuItemID: s.tea.ID, Quantity: MaxQuantity})

	_, err := s.svc.AddOrderItems(s.ctx, order.ID, []ItemInput{
		{MenuItemID: s.cake.ID, Quantity: 1},
		{MenuItemID: s.tea.ID, Quantity: 1},
	})
	s.assertKind(err, errorbank.KindValidation)

	reloaded := s.reload(order.ID)
	s.Require().Len(reloaded.Items, 1)
	s.Equal(MaxQuantity, reloaded.Items[0].Quantity)
	s.assertTotalConsistent(order.ID)
}

func (s *OrderServiceSuite) TestAddOrderItemsKeepsOriginalSnapshot() {
	order := s.openOrder(s.t1)
	newPrice := decimal.NewFromInt(50000)

	result, err := s.svc.AddOrderItems(s.ctx, order.ID, []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1, Price: &newPrice}})
	s.Require().NoError(err)
	s.assertAmount(120000, result.NewTotal)
	s.assertAmount(40000, s.reload(order.ID).Items[0].Price)
}

func (s *OrderServiceSuite) TestAddOrderItemsToTerminalOrderConflicts() {
	order := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderCompleted, nil)
	s.Require().NoError(err)

	_, err = s.svc.AddOrderItems(s.ctx, order.ID, []ItemInput{{MenuItemID: s.tea.ID, Quantity: 1}})
	s.assertKind(err, errorbank.KindConflict)
	s.Len(s.reload(order.ID).Items, 1)
}

func (s *OrderServiceSuite) TestAddOrderItemsUnknownOrder() {
	_, err := s.svc.AddOrderItems(s.ctx, 404, []ItemInput{{MenuItemID: s.tea.ID, Quantity: 1}})
	s.assertKind(err, errorbank.KindNotFound)
}

func (s *OrderServiceSuite) TestAddOrderItemsRefreshesCachedOrder() {
	order := s.openOrder(s.t1)
	cached, err := s.svc.GetOrderByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.assertAmount(80000, cached.TotalAmount)

	_, err = s.svc.AddOrderItems(s.ctx, order.ID, []ItemInput{{MenuItemID: s.tea.ID, Quantity: 2}})
	s.Require().NoError(err)

	fresh, err := s.svc.GetOrderByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.assertAmount(90000, fresh.TotalAmount)
	s.Len(fresh.Items, 2)
}

func (s *OrderServiceSuite) TestInvalidateViewsRefreshesJoinedNames() {
	order := s.openOrder(s.t1)
	_, err := s.svc.GetOrderByID(s.ctx, order.ID)
	s.Require().NoError(err)

	s.t1.Name = "Window 1"
	s.Require().NoError(s.store.Tables.Update(s.ctx, s.t1))
	cached, err := s.svc.GetOrderByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("T1", cached.TableName())

	s.Require().NoError(InvalidateViews(s.ctx, s.svc.cache))
	fresh, err := s.svc.GetOrderByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("Window 1", fresh.TableName())
}

func (s *OrderServiceSuite) TestCancelOrderFreesTableAndRecordsReason() {
	order := s.openOrder(s.t1)

	result, err := s.svc.CancelOrder(s.ctx, order.ID, "customer left")
	s.Require().NoError(err)
	s.Equal(entity.OrderCancelled, result.Status)

	reloaded := s.reload(order.ID)
	s.Equal(entity.OrderCancelled, reloaded.Status)
	s.Contains(reloaded.Notes, "Cancellation reason: customer left")
	s.Require().NotNil(reloaded.CancellationReason)
	s.Equal("customer left", *reloaded.CancellationReason)
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
	s.Contains(s.publisher.eventTypes(), EventCancelled)
}

func (s *OrderServiceSuite) TestCancelOrderAppendsToExistingNotes() {
	order, err := s.svc.CreateOrder(s.ctx, CreateOrderInput{
		TableID: s.t1.ID,
		Notes:   "birthday",
		Items:   []ItemInput{{MenuItemID: s.pho.ID, Quantity: 1}},
	})
	s.Require().NoError(err)

	_, err = s.svc.CancelOrder(s.ctx, order.ID, "kitchen closed")
	s.Require().NoError(err)
	s.Equal("birthday\nCancellation reason: kitchen closed", s.reload(order.ID).Notes)
}

func (s *OrderServiceSuite) TestCancelOrderWithoutReasonKeepsNotes() {
	order := s.openOrder(s.t1)
	_, err := s.svc.CancelOrder(s.ctx, order.ID, "  ")
	s.Require().NoError(err)

	reloaded := s.reload(order.ID)
	s.Empty(reloaded.Notes)
	s.Nil(reloaded.CancellationReason)
}

func (s *OrderServiceSuite) TestCancelTerminalOrderConflicts() {
	order := s.openOrder(s.t1)
	_, err := s.svc.CancelOrder(s.ctx, order.ID, "first")
	s.Require().NoError(err)

	_, err = s.svc.CancelOrder(s.ctx, order.ID, "second")
	s.assertKind(err, errorbank.KindConflict)
	s.NotContains(s.reload(order.ID).Notes, "second")
}

func (s *OrderServiceSuite) TestUpdateOrderStatusCompletesAndFreesTable() {
	order := s.openOrder(s.t1)
	waiter := s.store.StaffMember(s.T(), "lan", entity.RoleStaff)

	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPreparing, nil)
	s.Require().NoError(err)
	s.Equal(entity.TableOccupied, s.store.TableStatus(s.T(), s.t1.ID))

	s.now = s.now.Add(45 * time.Minute)
	result, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderCompleted, &waiter.ID)
	s.Require().NoError(err)
	s.Equal(StatusResult{ID: order.ID, Status: entity.OrderCompleted}, *result)

	reloaded := s.reload(order.ID)
	s.Require().NotNil(reloaded.CompletedAt)
	s.True(s.now.Equal(*reloaded.CompletedAt), "completed_at %s", reloaded.CompletedAt)
	s.Equal("lan", reloaded.StaffName())
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestUpdateOrderStatusSameStatusAttributesStaff() {
	order := s.openOrder(s.t1)
	waiter := s.store.StaffMember(s.T(), "minh", entity.RoleStaff)

	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPending, &waiter.ID)
	s.Require().NoError(err)

	reloaded := s.reload(order.ID)
	s.Equal(entity.OrderPending, reloaded.Status)
	s.Require().NotNil(reloaded.StaffID)
	s.Equal(waiter.ID, *reloaded.StaffID)
}

func (s *OrderServiceSuite) TestUpdateOrderStatusRejectsUnknownStaff() {
	order := s.openOrder(s.t1)
	ghost := int64(777)

	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderCompleted, &ghost)
	s.assertKind(err, errorbank.KindNotFound)
	s.Equal(entity.OrderPending, s.reload(order.ID).Status)
	s.Equal(entity.TableOccupied, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestUpdateOrderStatusRejectsUnknownStatus() {
	order := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderStatus("served"), nil)
	s.assertKind(err, errorbank.KindValidation)
}

func (s *OrderServiceSuite) TestStrictPolicyRejectsCompletingCancelledOrder() {
	order := s.openOrder(s.t1)
	_, err := s.svc.CancelOrder(s.ctx, order.ID, "")
	s.Require().NoError(err)

	_, err = s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderCompleted, nil)
	s.assertKind(err, errorbank.KindConflict)

	reloaded := s.reload(order.ID)
	s.Equal(entity.OrderCancelled, reloaded.Status)
	s.Nil(reloaded.CompletedAt)
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestStrictPolicyRejectsReadyBackToPending() {
	order := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderReady, nil)
	s.Require().NoError(err)

	_, err = s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPending, nil)
	s.assertKind(err, errorbank.KindConflict)

	_, err = s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPreparing, nil)
	s.NoError(err)
}

func (s *OrderServiceSuite) TestPermissivePolicyCompletesCancelledOrder() {
	svc := s.newService(config.TransitionPermissive)
	order := s.openOrder(s.t1)
	_, err := svc.CancelOrder(s.ctx, order.ID, "mistake")
	s.Require().NoError(err)

	_, err = svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderCompleted, nil)
	s.Require().NoError(err)

	reloaded := s.reload(order.ID)
	s.Equal(entity.OrderCompleted, reloaded.Status)
	s.NotNil(reloaded.CompletedAt)
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestPermissivePolicyReopenReoccupiesTable() {
	svc := s.newService(config.TransitionPermissive)
	order := s.openOrder(s.t1)
	_, err := svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderCompleted, nil)
	s.Require().NoError(err)
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))

	_, err = svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPending, nil)
	s.Require().NoError(err)
	s.Equal(entity.TableOccupied, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestPermissiveReopenRequiresFreeTable() {
	svc := s.newService(config.TransitionPermissive)
	first := s.openOrder(s.t1)
	_, err := svc.UpdateOrderStatus(s.ctx, first.ID, entity.OrderCompleted, nil)
	s.Require().NoError(err)
	s.openOrder(s.t1)

	_, err = svc.UpdateOrderStatus(s.ctx, first.ID, entity.OrderPreparing, nil)
	s.assertKind(err, errorbank.KindConflict)
	s.Equal(entity.OrderCompleted, s.reload(first.ID).Status)
}

func (s *OrderServiceSuite) TestFreeingAnEmptyTableIsNoop() {
	err := s.svc.inTx(s.ctx, "free", func(ctx context.Context, r txRepos) error {
		freed, err := s.svc.freeTable(ctx, r, s.t1.ID, s.now)
		s.False(freed)
		return err
	})
	s.NoError(err)
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestUpdateOrderItemsRecomputesTotal() {
	order := s.openOrder(s.t1,
		ItemInput{MenuItemID: s.pho.ID, Quantity: 2},
		ItemInput{MenuItemID: s.tea.ID, Quantity: 2},
	)
	notes := "no chili"

	updated, err := s.svc.UpdateOrderItems(s.ctx, order.ID, []UpdateItemInput{
		{OrderItemID: order.Items[0].ID, Quantity: 1, Notes: &notes},
		{OrderItemID: order.Items[1].ID, Quantity: 0},
	})
	s.Require().NoError(err)

	s.Require().Len(updated.Items, 1)
	s.Equal(1, updated.Items[0].Quantity)
	s.Equal("no chili", updated.Items[0].Notes)
	s.assertAmount(40000, updated.TotalAmount)
	s.Equal(entity.OrderPending, updated.Status)
	s.assertTotalConsistent(order.ID)
}

func (s *OrderServiceSuite) TestUpdateOrderItemsRemovingEverythingCancels() {
	order := s.openOrder(s.t1)

	updated, err := s.svc.UpdateOrderItems(s.ctx, order.ID, []UpdateItemInput{{OrderItemID: order.Items[0].ID, Quantity: 0}})
	s.Require().NoError(err)

	s.Equal(entity.OrderCancelled, updated.Status)
	s.Empty(updated.Items)
	s.True(updated.TotalAmount.IsZero())
	s.Contains(updated.Notes, "Cancellation reason: all items removed")
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))
}

func (s *OrderServiceSuite) TestUpdateOrderItemsRequiresPending() {
	order := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPreparing, nil)
	s.Require().NoError(err)

	_, err = s.svc.UpdateOrderItems(s.ctx, order.ID, []UpdateItemInput{{OrderItemID: order.Items[0].ID, Quantity: 5}})
	s.assertKind(err, errorbank.KindConflict)
	s.Equal(2, s.reload(order.ID).Items[0].Quantity)
}

func (s *OrderServiceSuite) TestUpdateOrderItemsRejectsForeignRows() {
	order := s.openOrder(s.t1)
	t2 := s.store.Table(s.T(), "T2")
	other := s.openOrder(t2, ItemInput{MenuItemID: s.tea.ID, Quantity: 1})

	_, err := s.svc.UpdateOrderItems(s.ctx, order.ID, []UpdateItemInput{
		{OrderItemID: order.Items[0].ID, Quantity: 0},
		{OrderItemID: other.Items[0].ID, Quantity: 3},
	})
	s.assertKind(err, errorbank.KindNotFound)

	s.Len(s.reload(order.ID).Items, 1)
	s.Equal(1, s.reload(other.ID).Items[0].Quantity)
}

func (s *OrderServiceSuite) TestUpdateOrderItemsRejectsDuplicateRows() {
	order := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderItems(s.ctx, order.ID, []UpdateItemInput{
		{OrderItemID: order.Items[0].ID, Quantity: 1},
		{OrderItemID: order.Items[0].ID, Quantity: 4},
	})
	s.assertKind(err, errorbank.KindValidation)
}

func (s *OrderServiceSuite) TestDeleteOrder() {
	pending := s.openOrder(s.t1)
	s.Require().NoError(s.svc.DeleteOrder(s.ctx, pending.ID))
	s.Zero(s.store.Count(s.T(), (*entity.Order)(nil)))
	s.Zero(s.store.Count(s.T(), (*entity.OrderItem)(nil)))
	s.Equal(entity.TableEmpty, s.store.TableStatus(s.T(), s.t1.ID))

	cancelled := s.openOrder(s.t1)
	_, err := s.svc.CancelOrder(s.ctx, cancelled.ID, "")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.DeleteOrder(s.ctx, cancelled.ID))

	_, err = s.svc.GetOrderByID(s.ctx, cancelled.ID)
	s.assertKind(err, errorbank.KindNotFound)
}

func (s *OrderServiceSuite) TestDeleteOrderRejectsProgressedOrders() {
	order := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderStatus(s.ctx, order.ID, entity.OrderPreparing, nil)
	s.Require().NoError(err)

	s.assertKind(s.svc.DeleteOrder(s.ctx, order.ID), errorbank.KindConflict)
	s.Equal(1, s.store.Count(s.T(), (*entity.Order)(nil)))
}

func (s *OrderServiceSuite) TestGetActiveOrdersOrdering() {
	t2 := s.store.Table(s.T(), "T2")
	t3 := s.store.Table(s.T(), "T3")
	t4 := s.store.Table(s.T(), "T4")

	oldest := s.openOrder(s.t1)
	s.now = s.now.Add(time.Minute)
	preparing := s.openOrder(t2)
	s.now = s.now.Add(time.Minute)
	ready := s.openOrder(t3)
	s.now = s.now.Add(time.Minute)
	done := s.openOrder(t4)

	_, err := s.svc.UpdateOrderStatus(s.ctx, preparing.ID, entity.OrderPreparing, nil)
	s.Require().NoError(err)
	_, err = s.svc.UpdateOrderStatus(s.ctx, ready.ID, entity.OrderReady, nil)
	s.Require().NoError(err)
	_, err = s.svc.UpdateOrderStatus(s.ctx, done.ID, entity.OrderCompleted, nil)
	s.Require().NoError(err)

	active, err := s.svc.GetActiveOrders(s.ctx)
	s.Require().NoError(err)
	ids := make([]int64, 0, len(active))
	for _, o := range active {
		ids = append(ids, o.ID)
	}
	s.Equal([]int64{ready.ID, preparing.ID, oldest.ID}, ids)
	s.Equal("T3", active[0].TableName())
}

func (s *OrderServiceSuite) TestListOrdersAndHistoryByTable() {
	first := s.openOrder(s.t1)
	_, err := s.svc.UpdateOrderStatus(s.ctx, first.ID, entity.OrderCompleted, nil)
	s.Require().NoError(err)
	s.now = s.now.Add(time.Hour)
	second := s.openOrder(s.t1)

	history, err := s.svc.GetOrdersByTable(s.ctx, s.t1.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(second.ID, history[0].ID)

	completed, err := s.svc.ListOrders(s.ctx, ListFilter{Statuses: []entity.OrderStatus{entity.OrderCompleted}})
	s.Require().NoError(err)
	s.Require().Len(completed, 1)
	s.Equal(first.ID, completed[0].ID)

	_, err = s.svc.ListOrders(s.ctx, ListFilter{Statuses: []entity.OrderStatus{"lost"}})
	s.assertKind(err, errorbank.KindValidation)

	_, err = s.svc.GetOrdersByTable(s.ctx, 404)
	s.assertKind(err, errorbank.KindNotFound)

	active, err := s.svc.GetActiveOrderForTable(s.ctx, s.t1.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)
}

func TestNewServiceLogsTransitionPolicy(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := config.Config{}
	cfg.Orders.TransitionPolicy = config.TransitionPermissive

	_, err := NewService(Params{Config: cfg, Logger: zap.New(core)})
	require.NoError(t, err)

	ready := logs.FilterMessage("order service ready").All()
	require.Len(t, ready, 1)
	assert.Equal(t, "permissive", ready[0].ContextMap()["transition_policy"])

	cfg.Orders.TransitionPolicy = "lenient"
	_, err = NewService(Params{Config: cfg, Logger: zap.New(core)})
	assert.Error(t, err)
}

func TestMergeLines(t *testing.T) {
	price := decimal.NewFromInt(10)
	merged, err := mergeLines([]ItemInput{
		{MenuItemID: 1, Quantity: 1, Notes: " a "},
		{MenuItemID: 2, Quantity: 1},
		{MenuItemID: 1, Quantity: 2, Notes: "b", Price: &price},
	})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, 3, merged[0].Quantity)
	assert.Equal(t, "a; b", merged[0].Notes)
	require.NotNil(t, merged[0].Price)
	assert.True(t, price.Equal(*merged[0].Price))
}

func TestMergeLinesRejectsQuantityOverLimit(t *testing.T) {
	_, err := mergeLines([]ItemInput{
		{MenuItemID: 1, Quantity: MaxQuantity},
		{MenuItemID: 1, Quantity: MaxQuantity},
	})
	require.Error(t, err)
	assert.True(t, errorbank.Is(err, errorbank.KindValidation))
	assert.EqualValues(t, MaxQuantity, errorbank.From(err).Details()["max"])

	merged, err := mergeLines([]ItemInput{
		{MenuItemID: 1, Quantity: MaxQuantity - 1},
		{MenuItemID: 1, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, MaxQuantity, merged[0].Quantity)
}

func TestAppendCancellation(t *testing.T) {
	assert.Equal(t, "Cancellation reason: x", appendCancellation("", "x"))
	assert.Equal(t, "Cancellation reason: x", appendCancellation("  ", "x"))
	assert.Equal(t, "vip\nCancellation reason: x", appendCancellation("vip", "x"))
}
