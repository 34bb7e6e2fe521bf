package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/messaging"
	orderservice "github.com/Additional-Code/bistro/internal/service/order"
	"github.com/Additional-Code/bistro/internal/testutil"
	"github.com/Additional-Code/bistro/internal/validation"
)

func vnd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newReportService(store *testutil.Store, cfg config.Config, now time.Time) *Service {
	return NewService(Params{
		Orders: store.Orders,
		Tables: store.Tables,
		Config: cfg,
		Logger: store.Logger,
	}).WithClock(func() time.Time { return now })
}

// completedOrder stores a completed order with one line per item.
func completedOrder(t *testing.T, store *testutil.Store, table *entity.Table, at time.Time, lines map[*entity.MenuItem]int) *entity.Order {
	t.Helper()
	ctx := context.Background()
	order := &entity.Order{
		TableID:     table.ID,
		Status:      entity.OrderCompleted,
		CompletedAt: &at,
		CreatedAt:   at.Add(-time.Hour),
		UpdatedAt:   at,
	}
	items := make([]*entity.OrderItem, 0, len(lines))
	for item, qty := range lines {
		items = append(items, &entity.OrderItem{MenuItemID: item.ID, Quantity: qty, Price: item.Price, CreatedAt: at})
	}
	order.TotalAmount = entity.RecomputeTotal(items)
	require.NoError(t, store.Orders.Create(ctx, order))
	for _, item := range items {
		item.OrderID = order.ID
	}
	require.NoError(t, store.Orders.InsertItems(ctx, items))
	return order
}

func TestSalesReportFromOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	orders, err := orderservice.NewService(orderservice.Params{
		Connections: store.Conns,
		Orders:      store.Orders,
		Tables:      store.Tables,
		Menu:        store.Menu,
		Staff:       store.Staff,
		Validator:   validation.New(),
		Cache:       cache.Noop(),
		Config:      store.Config,
		Logger:      store.Logger,
		Publisher:   messaging.Noop("bistro.orders"),
	})
	require.NoError(t, err)
	orders.WithClock(func() time.Time { return now })

	mains := store.Category(t, "Mains")
	drinks := store.Category(t, "Drinks")
	pho := store.MenuItem(t, "Pho bo", 40000, mains)
	tea := store.MenuItem(t, "Tra da", 5000, drinks)
	t1 := store.Table(t, "T1")
	t2 := store.Table(t, "T2")

	first, err := orders.CreateOrder(ctx, orderservice.CreateOrderInput{
		TableID: t1.ID,
		Items:   []orderservice.ItemInput{{MenuItemID: pho.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	second, err := orders.CreateOrder(ctx, orderservice.CreateOrderInput{
		TableID: t2.ID,
		Items: []orderservice.ItemInput{
			{MenuItemID: pho.ID, Quantity: 1},
			{MenuItemID: tea.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.True(t, vnd(80000).Equal(first.TotalAmount))
	require.True(t, vnd(50000).Equal(second.TotalAmount))

	// Still open orders are not revenue.
	svc := newReportService(store, store.Config, now)
	report, err := svc.GetSalesReport(ctx, now, now, GroupByDay)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.OrderCount)
	assert.Empty(t, report.SalesByDate)

	for _, id := range []int64{first.ID, second.ID} {
		_, err := orders.UpdateOrderStatus(ctx, id, entity.OrderCompleted, nil)
		require.NoError(t, err)
	}

	report, err = svc.GetSalesReport(ctx, now, now, "")
	require.NoError(t, err)
	assert.Equal(t, GroupByDay, report.GroupBy)
	assert.True(t, vnd(130000).Equal(report.Summary.TotalRevenue), report.Summary.TotalRevenue.String())
	assert.Equal(t, 2, report.Summary.OrderCount)
	assert.Equal(t, 5, report.Summary.ItemsSold)
	assert.True(t, vnd(65000).Equal(report.Summary.AverageOrderValue))

	require.Len(t, report.SalesByDate, 1)
	assert.Equal(t, "2024-03-01", report.SalesByDate[0].Period)
	assert.Equal(t, 2, report.SalesByDate[0].OrderCount)
	assert.True(t, vnd(130000).Equal(report.SalesByDate[0].Revenue))

	require.Len(t, report.SalesByCategory, 2)
	assert.Equal(t, "Mains", report.SalesByCategory[0].CategoryName)
	assert.True(t, vnd(120000).Equal(report.SalesByCategory[0].Revenue))
	assert.Equal(t, "Drinks", report.SalesByCategory[1].CategoryName)

	require.Len(t, report.TopSellingItems, 2)
	assert.Equal(t, ItemSales{MenuItemID: pho.ID, Name: "Pho bo", Quantity: 3, Revenue: report.TopSellingItems[0].Revenue}, report.TopSellingItems[0])
	assert.True(t, vnd(120000).Equal(report.TopSellingItems[0].Revenue))
	assert.Equal(t, 2, report.TopSellingItems[1].Quantity)
}

func TestSalesReportGroupingAndRange(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	table := store.Table(t, "T1")
	pho := store.MenuItem(t, "Pho bo", 40000, nil)

	completedOrder(t, store, table, time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC), map[*entity.MenuItem]int{pho: 1})
	completedOrder(t, store, table, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), map[*entity.MenuItem]int{pho: 2})
	completedOrder(t, store, table, time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC), map[*entity.MenuItem]int{pho: 3})
	completedOrder(t, store, table, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), map[*entity.MenuItem]int{pho: 4})

	svc := newReportService(store, store.Config, time.Now())
	from := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	byDay, err := svc.GetSalesReport(ctx, from, to, GroupByDay)
	require.NoError(t, err)
	assert.Equal(t, 3, byDay.Summary.OrderCount, "to is inclusive, the day after is not")
	periods := make([]string, 0, len(byDay.SalesByDate))
	for _, bucket := range byDay.SalesByDate {
		periods = append(periods, bucket.Period)
	}
	assert.Equal(t, []string{"2024-02-28", "2024-03-01", "2024-03-04"}, periods)
	assert.True(t, to.Equal(byDay.To))

	byWeek, err := svc.GetSalesReport(ctx, from, to, GroupByWeek)
	require.NoError(t, err)
	require.Len(t, byWeek.SalesByDate, 2)
	assert.Equal(t, "2024-W09", byWeek.SalesByDate[0].Period)
	assert.Equal(t, 2, byWeek.SalesByDate[0].OrderCount)
	assert.Equal(t, "2024-W10", byWeek.SalesByDate[1].Period)

	byMonth, err := svc.GetSalesReport(ctx, from, to, GroupByMonth)
	require.NoError(t, err)
	require.Len(t, byMonth.SalesByDate, 2)
	assert.Equal(t, "2024-02", byMonth.SalesByDate[0].Period)
	assert.Equal(t, "2024-03", byMonth.SalesByDate[1].Period)
	assert.Equal(t, 5, byMonth.SalesByDate[1].ItemsSold)
}

func TestSalesReportUsesReportingTimezone(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	table := store.Table(t, "T1")
	pho := store.MenuItem(t, "Pho bo", 40000, nil)

	// 18:30 UTC is 01:30 the next morning in Saigon.
	completedOrder(t, store, table, time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC), map[*entity.MenuItem]int{pho: 1})

	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	cfg := store.Config
	cfg.Reporting.Location = loc
	svc := newReportService(store, cfg, time.Now())

	day := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)
	report, err := svc.GetSalesReport(ctx, day, day, GroupByDay)
	require.NoError(t, err)
	require.Len(t, report.SalesByDate, 1)
	assert.Equal(t, "2024-03-02", report.SalesByDate[0].Period)

	previous := day.AddDate(0, 0, -1)
	report, err = svc.GetSalesReport(ctx, previous, previous, GroupByDay)
	require.NoError(t, err)
	assert.Zero(t, report.Summary.OrderCount)
}

func TestSalesReportValidation(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc := newReportService(store, store.Config, time.Now())
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.GetSalesReport(ctx, day, day, GroupBy("year"))
	require.Error(t, err)
	_, err = svc.GetSalesReport(ctx, time.Time{}, day, GroupByDay)
	require.Error(t, err)
	_, err = svc.GetSalesReport(ctx, day, day.AddDate(0, 0, -1), GroupByDay)
	require.Error(t, err)
}

func TestTopSellingItemsAreLimited(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	table := store.Table(t, "T1")
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	lines := map[*entity.MenuItem]int{}
	for i, name := range []string{"A", "B", "C", "D"} {
		lines[store.MenuItem(t, name, 10000, nil)] = i + 1
	}
	completedOrder(t, store, table, at, lines)

	cfg := store.Config
	cfg.Reporting.TopItemsLimit = 2
	svc := newReportService(store, cfg, at)

	report, err := svc.GetSalesReport(ctx, at, at, GroupByDay)
	require.NoError(t, err)
	require.Len(t, report.TopSellingItems, 2)
	assert.Equal(t, "D", report.TopSellingItems[0].Name)
	assert.Equal(t, "C", report.TopSellingItems[1].Name)
	require.Len(t, report.SalesByCategory, 1)
	assert.Equal(t, "Uncategorized", report.SalesByCategory[0].CategoryName)
	assert.Equal(t, 10, report.SalesByCategory[0].Quantity)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	t1 := store.Table(t, "T1")
	t2 := store.Table(t, "T2")
	store.Table(t, "T3")
	pho := store.MenuItem(t, "Pho bo", 40000, nil)
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	completedOrder(t, store, t1, now.Add(-2*time.Hour), map[*entity.MenuItem]int{pho: 2})
	completedOrder(t, store, t1, now.AddDate(0, 0, -1), map[*entity.MenuItem]int{pho: 5})

	open := &entity.Order{TableID: t2.ID, Status: entity.OrderPreparing, TotalAmount: vnd(40000), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Orders.Create(ctx, open))
	require.NoError(t, store.Tables.SetStatus(ctx, t2.ID, entity.TableOccupied, now))

	dashboard, err := newReportService(store, store.Config, now).GetDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", dashboard.Date)
	assert.Equal(t, 1, dashboard.Today.OrderCount)
	assert.True(t, vnd(80000).Equal(dashboard.Today.TotalRevenue))
	assert.Equal(t, 1, dashboard.ActiveOrders)
	assert.Equal(t, 1, dashboard.Tables[entity.TableOccupied])
	assert.Equal(t, 2, dashboard.Tables[entity.TableEmpty])
}
