package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/messaging"
	ordersvc "github.com/Additional-Code/bistro/internal/service/order"
	"github.com/Additional-Code/bistro/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/bistro/worker/order")

// Module registers the kitchen feed on the order topic.
var Module = fx.Module("worker_order",
	fx.Provide(
		NewKitchenFeed,
		fx.Annotate(
			func(feed *KitchenFeed, cfg config.Config) worker.HandlerRegistration {
				return worker.HandlerRegistration{Topic: cfg.Messaging.Kafka.Topic, Handler: feed.Handle}
			},
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// KitchenFeed turns order events into kitchen tickets and drops stale
// cached order views written by other instances.
type KitchenFeed struct {
	cache  cache.Store
	logger *zap.Logger
}

// FeedParams defines dependencies for the kitchen feed.
type FeedParams struct {
	fx.In

	Cache  cache.Store `optional:"true"`
	Logger *zap.Logger
}

// NewKitchenFeed builds the feed.
func NewKitchenFeed(p FeedParams) *KitchenFeed {
	store := p.Cache
	if store == nil {
		store = cache.Noop()
	}
	return &KitchenFeed{cache: store, logger: p.Logger}
}

// Handle processes one order event.
func (f *KitchenFeed) Handle(ctx context.Context, msg messaging.Message) error {
	ctx, span := workerTracer.Start(ctx, "worker.orders.process", trace.WithAttributes(
		attribute.String("messaging.topic", msg.Topic),
		attribute.String("messaging.event", msg.EventType()),
	))
	defer span.End()

	var event ordersvc.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		f.logger.Error("failed to decode order event", zap.String("event", msg.EventType()), zap.Error(err))

		span.RecordError(err)
		span.SetStatus(codes.Error, "decode error")
		return err
	}
	if event.Type == "" {
		event.Type = msg.EventType()
	}
	span.SetAttributes(attribute.Int64("order.id", event.OrderID))

	if err := f.cache.Delete(ctx, ordersvc.CacheKey(event.OrderID)); err != nil {
		f.logger.Warn("order cache invalidation failed", zap.Int64("order_id", event.OrderID), zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int64("order_id", event.OrderID),
		zap.Int64("table_id", event.TableID),
		zap.String("status", string(event.Status)),
	}
	switch event.Type {
	case ordersvc.EventCreated, ordersvc.EventItemsAdded, ordersvc.EventItemsUpdated:
		f.logger.Info("kitchen ticket", append(fields,
			zap.String("event", event.Type),
			zap.Strings("lines", TicketLines(event.Items)),
		)...)
	case ordersvc.EventStatusChanged:
		f.logger.Info("order moved", append(fields, zap.String("from", string(event.PreviousStatus)))...)
	case ordersvc.EventCancelled:
		f.logger.Info("order cancelled; stop preparing", append(fields, zap.String("reason", event.Reason))...)
	case ordersvc.EventDeleted:
		f.logger.Info("order voided", fields...)
	default:
		f.logger.Debug("ignoring order event", zap.String("event", event.Type))
	}

	return nil
}

// TicketLines renders order lines the way the kitchen printer shows them.
func TicketLines(items []ordersvc.EventItem) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = fmt.Sprintf("item #%d", item.MenuItemID)
		}
		line := fmt.Sprintf("%dx %s", item.Quantity, name)
		if notes := strings.TrimSpace(item.Notes); notes != "" {
			line += " (" + notes + ")"
		}
		lines = append(lines, line)
	}
	return lines
}
