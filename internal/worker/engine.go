package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/messaging"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// HandlerRegistration binds a topic, and optionally one event type on it, to
// a handler. An empty EventType receives every event on the topic that has
// no more specific registration.
type HandlerRegistration struct {
	Topic     string
	EventType string
	Handler   messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

type route struct {
	topic     string
	eventType string
}

// Engine runs a pool of consumers on the order topic and dispatches each
// message to its registered handler.
type Engine struct {
	client messaging.Client
	logger *zap.Logger
	cfg    config.Messaging
	routes map[route]messaging.Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{OnStart: engine.start, OnStop: engine.stop})
	}),
)

func NewEngine(p Params) *Engine {
	routes := make(map[route]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		routes[route{topic: r.Topic, eventType: r.EventType}] = r.Handler
	}
	return &Engine{
		client: p.Client,
		logger: p.Logger,
		cfg:    p.Config.Messaging,
		routes: routes,
	}
}

// Handlers returns the number of registered routes.
func (e *Engine) Handlers() int {
	return len(e.routes)
}

func (e *Engine) start(context.Context) error {
	switch {
	case !e.cfg.Enabled || !e.cfg.Workers.Enabled:
		e.logger.Info("worker engine disabled")
		return nil
	case len(e.routes) == 0:
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	workers := max(e.cfg.Workers.Concurrency, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	var g errgroup.Group
	for id := range workers {
		g.Go(func() error {
			e.consume(runCtx, id)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(e.done)
	}()

	e.logger.Info("worker engine started",
		zap.Int("workers", workers),
		zap.Int("handlers", e.Handlers()),
		zap.String("topic", e.client.Topic()),
		zap.String("group", e.cfg.ConsumerGroup),
	)
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

// Dispatch routes msg to the handler registered for its topic and event
// type. Messages nobody handles are acknowledged and dropped. A panicking
// handler is reported as an error.
func (e *Engine) Dispatch(ctx context.Context, msg messaging.Message) (err error) {
	handler, ok := e.routes[route{topic: msg.Topic, eventType: msg.EventType()}]
	if !ok {
		handler, ok = e.routes[route{topic: msg.Topic}]
	}
	if !ok {
		e.logger.Debug("no handler for message",
			zap.String("topic", msg.Topic),
			zap.String("event", msg.EventType()),
		)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s/%s: %v", msg.Topic, msg.EventType(), r)
		}
	}()
	return handler(ctx, msg)
}

// consume keeps one consumer attached until ctx ends, backing off
// exponentially while the broker keeps failing.
func (e *Engine) consume(ctx context.Context, workerID int) {
	backoff := initialBackoff
	for ctx.Err() == nil {
		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			e.logger.Debug("processing message",
				zap.String("topic", msg.Topic),
				zap.String("event", msg.EventType()),
				zap.Int64("offset", msg.Offset),
				zap.Int("worker", workerID),
			)
			backoff = initialBackoff
			return e.Dispatch(msgCtx, msg)
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error",
			zap.Int("worker", workerID),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
