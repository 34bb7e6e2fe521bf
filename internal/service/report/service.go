package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/entity"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	tablerepo "github.com/Additional-Code/bistro/internal/repository/table"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/bistro/service/report")

// GroupBy selects the calendar bucket of a sales report.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// Valid reports whether g is a supported bucket.
func (g GroupBy) Valid() bool {
	return g == GroupByDay || g == GroupByWeek || g == GroupByMonth
}

// Key returns the bucket label of t: 2006-01-02, 2006-W01 (ISO week) or
// 2006-01.
func (g GroupBy) Key(t time.Time) string {
	switch g {
	case GroupByWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

const uncategorized = "Uncategorized"

// Summary aggregates a set of completed orders.
type Summary struct {
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	OrderCount        int             `json:"order_count"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	ItemsSold         int             `json:"items_sold"`
}

// DateSales is one calendar bucket.
type DateSales struct {
	Period     string          `json:"period"`
	Revenue    decimal.Decimal `json:"revenue"`
	OrderCount int             `json:"order_count"`
	ItemsSold  int             `json:"items_sold"`
}

// CategorySales aggregates order lines per menu category.
type CategorySales struct {
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Quantity     int             `json:"quantity"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// ItemSales aggregates order lines per menu item.
type ItemSales struct {
	MenuItemID int64           `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// SalesReport is the result of GetSalesReport.
type SalesReport struct {
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	GroupBy         GroupBy         `json:"group_by"`
	Summary         Summary         `json:"summary"`
	SalesByDate     []DateSales     `json:"sales_by_date"`
	SalesByCategory []CategorySales `json:"sales_by_category"`
	TopSellingItems []ItemSales     `json:"top_selling_items"`
}

// Dashboard is a snapshot of the floor and today's takings.
type Dashboard struct {
	Date         string                     `json:"date"`
	Today        Summary                    `json:"today"`
	ActiveOrders int                        `json:"active_orders"`
	Tables       map[entity.TableStatus]int `json:"tables"`
}

// Service projects completed orders into sales figures.
type Service struct {
	orders   *orderrepo.Repository
	tables   *tablerepo.Repository
	location *time.Location
	topN     int
	logger   *zap.Logger
	now      func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders *orderrepo.Repository
	Tables *tablerepo.Repository
	Config config.Config
	Logger *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	loc := p.Config.Reporting.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orders:   p.Orders,
		tables:   p.Tables,
		location: loc,
		topN:     p.Config.Reporting.TopItemsLimit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for "today".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetSalesReport aggregates orders completed on the calendar days from
// through to, both inclusive, in the reporting time zone.
func (s *Service) GetSalesReport(ctx context.Context, from, to time.Time, groupBy GroupBy) (*SalesReport, error) {
	ctx, span := serviceTracer.Start(ctx, "ReportService.GetSalesReport", trace.WithAttributes(attribute.String("report.group_by", string(groupBy))))
	defer span.End()

	if groupBy == "" {
		groupBy = GroupByDay
	}
	if !groupBy.Valid() {
		return nil, errorbank.Validation(fmt.Sprintf("invalid group_by %q; expected day, week or month", groupBy))
	}
	if from.IsZero() || to.IsZero() {
		return nil, errorbank.Validation("from and to are required")
	}
	start := s.startOfDay(from)
	end := s.startOfDay(to).AddDate(0, 0, 1)
	if !start.Before(end) {
		return nil, errorbank.Validation("to must not be before from")
	}

	orders, err := s.orders.CompletedBetween(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to load completed orders", errorbank.WithCause(err))
	}

	report := s.aggregate(orders, groupBy)
	report.From = start
	report.To = end.AddDate(0, 0, -1)
	return report, nil
}

// GetDashboard reads today's summary, the active order count and table
// occupancy concurrently.
func (s *Service) GetDashboard(ctx context.Context) (*Dashboard, error) {
	ctx, span := serviceTracer.Start(ctx, "ReportService.GetDashboard")
	defer span.End()

	today := s.startOfDay(s.now())
	dashboard := &Dashboard{Date: today.Format("2006-01-02")}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := s.orders.CompletedBetween(gctx, today, today.AddDate(0, 0, 1))
		if err != nil {
			return fmt.Errorf("completed orders: %w", err)
		}
		dashboard.Today = summarize(orders)
		return nil
	})
	g.Go(func() error {
		count, err := s.orders.CountActive(gctx)
		if err != nil {
			return fmt.Errorf("active orders: %w", err)
		}
		dashboard.ActiveOrders = count
		return nil
	})
	g.Go(func() error {
		counts, err := s.tables.CountByStatus(gctx)
		if err != nil {
			return fmt.Errorf("table status: %w", err)
		}
		dashboard.Tables = counts
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to build dashboard", errorbank.WithCause(err))
	}
	return dashboard, nil
}

func (s *Service) startOfDay(t time.Time) time.Time {
	local := t.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}

func (s *Service) aggregate(orders []*entity.Order, groupBy GroupBy) *SalesReport {
	report := &SalesReport{
		GroupBy:         groupBy,
		Summary:         summarize(orders),
		SalesByDate:     []DateSales{},
		SalesByCategory: []CategorySales{},
		TopSellingItems: []ItemSales{},
	}

	buckets := make(map[string]*DateSales)
	categories := make(map[int64]*CategorySales)
	items := make(map[int64]*ItemSales)

	for _, order := range orders {
		if order.CompletedAt == nil {
			continue
		}
		key := groupBy.Key(order.CompletedAt.In(s.location))
		bucket, ok := buckets[key]
		if !ok {
			bucket = &DateSales{Period: key, Revenue: decimal.Zero}
			buckets[key] = bucket
		}
		bucket.Revenue = bucket.Revenue.Add(order.TotalAmount)
		bucket.OrderCount++

		for _, line := range order.Items {
			lineTotal := line.LineTotal()
			bucket.ItemsSold += line.Quantity

			categoryID, categoryName := int64(0), uncategorized
			name := fmt.Sprintf("menu item #%d", line.MenuItemID)
			if line.MenuItem != nil {
				name = line.MenuItem.Name
				if line.MenuItem.Category != nil {
					categoryID, categoryName = line.MenuItem.Category.ID, line.MenuItem.Category.Name
				}
			}

			cat, ok := categories[categoryID]
			if !ok {
				cat = &CategorySales{CategoryID: categoryID, CategoryName: categoryName, Revenue: decimal.Zero}
				categories[categoryID] = cat
			}
			cat.Quantity += line.Quantity
			cat.Revenue = cat.Revenue.Add(lineTotal)

			item, ok := items[line.MenuItemID]
			if !ok {
				item = &ItemSales{MenuItemID: line.MenuItemID, Name: name, Revenue: decimal.Zero}
				items[line.MenuItemID] = item
			}
			item.Quantity += line.Quantity
			item.Revenue = item.Revenue.Add(lineTotal)
		}
	}

	for _, bucket := range buckets {
		report.SalesByDate = append(report.SalesByDate, *bucket)
	}
	sort.Slice(report.SalesByDate, func(i, j int) bool {
		return report.SalesByDate[i].Period < report.SalesByDate[j].Period
	})

	for _, cat := range categories {
		report.SalesByCategory = append(report.SalesByCategory, *cat)
	}
	sort.Slice(report.SalesByCategory, func(i, j int) bool {
		a, b := report.SalesByCategory[i], report.SalesByCategory[j]
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		return a.CategoryName < b.CategoryName
	})

	for _, item := range items {
		report.TopSellingItems = append(report.TopSellingItems, *item)
	}
	sort.Slice(report.TopSellingItems, func(i, j int) bool {
		a, b := report.TopSellingItems[i], report.TopSellingItems[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	if s.topN > 0 && len(report.TopSellingItems) > s.topN {
		report.TopSellingItems = report.TopSellingItems[:s.topN]
	}
	return report
}

func summarize(orders []*entity.Order) Summary {
	summary := Summary{TotalRevenue: decimal.Zero, AverageOrderValue: decimal.Zero}
	for _, order := range orders {
		summary.TotalRevenue = summary.TotalRevenue.Add(order.TotalAmount)
		summary.OrderCount++
		for _, line := range order.Items {
			summary.ItemsSold += line.Quantity
		}
	}
	if summary.OrderCount > 0 {
		summary.AverageOrderValue = summary.TotalRevenue.DivRound(decimal.NewFromInt(int64(summary.OrderCount)), 2)
	}
	return summary
}
