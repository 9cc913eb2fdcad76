package events

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/orderflow/pkg/models"
	"go.uber.org/zap"
)

// Counters is the metrics side of an order event.
type Counters interface {
	RecordCreated(status models.OrderStatus)
	RecordStatus(status models.OrderStatus)
}

// Auditor keeps a trail of order lifecycle events.
type Auditor interface {
	RecordOrder(ctx context.Context, action string, order *models.Order, data map[string]interface{}) error
}

// Sinks are the destinations of order events. Only Counters is required.
type Sinks struct {
	Counters  Counters
	Audit     Auditor
	Publisher Publisher
}

const closeTimeout = 10 * time.Second

const (
	ActionCreated       = "order_created"
	ActionStatusChanged = "order_status_changed"
)

// Messages
type orderCreated struct {
	order models.Order
	at    time.Time
}

type statusChanged struct {
	order models.Order
	from  models.OrderStatus
	at    time.Time
}

type flush struct{}

type flushed struct{}

// recorderActor updates the counters as events arrive and hands them on to
// a sinkActor child, so counters never wait behind audit or broker I/O.
type recorderActor struct {
	counters  Counters
	sinkProps *actor.Props
	sink      *actor.PID
	logger    *zap.Logger
}

func (a *recorderActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *orderCreated:
		a.counters.RecordCreated(msg.order.Status)
		ctx.Send(a.sink, msg)

	case *statusChanged:
		a.counters.RecordStatus(msg.order.Status)
		ctx.Send(a.sink, msg)

	case *flush:
		// the sink answers once everything sent before it is written
		ctx.Forward(a.sink)

	case *actor.Started:
		a.sink = ctx.Spawn(a.sinkProps)
		a.logger.Info("Order event recorder started")

	case *actor.Stopping:
		a.logger.Info("Order event recorder stopping")

	case *actor.Restarting:
		a.logger.Warn("Order event recorder restarting")
	}
}

// sinkActor writes audit entries and publishes events one at a time in
// arrival order.
type sinkActor struct {
	sinks   Sinks
	timeout time.Duration
	logger  *zap.Logger
}

func (a *sinkActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *orderCreated:
		a.audit(ActionCreated, &msg.order, map[string]interface{}{
			"items":      len(msg.order.Items),
			"item_count": msg.order.TotalItemsCount(),
		})
		a.publish(newOrderEvent(ActionCreated, &msg.order, "", msg.at))

	case *statusChanged:
		a.audit(ActionStatusChanged, &msg.order, map[string]interface{}{
			"from": msg.from.String(),
			"to":   msg.order.Status.String(),
		})
		a.publish(newOrderEvent(ActionStatusChanged, &msg.order, msg.from, msg.at))

	case *flush:
		ctx.Respond(&flushed{})
	}
}

func (a *sinkActor) audit(action string, order *models.Order, data map[string]interface{}) {
	if a.sinks.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.sinks.Audit.RecordOrder(ctx, action, order, data); err != nil {
		a.logger.Warn("Failed to write audit entry",
			zap.String("action", action),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func (a *sinkActor) publish(event OrderEvent) {
	if a.sinks.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.sinks.Publisher.Publish(ctx, event); err != nil {
		a.logger.Warn("Failed to publish order event",
			zap.String("type", event.Type),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}
}

// Dispatcher hands order events to a recorder actor and returns at once.
// Nothing that happens while recording reaches the caller.
type Dispatcher struct {
	system *actor.ActorSystem
	pid    *actor.PID
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatcher(sinks Sinks, logger *zap.Logger) (*Dispatcher, error) {
	if sinks.Counters == nil {
		return nil, fmt.Errorf("order event recorder needs counters")
	}
	logger = logger.Named("events")
	system := actor.NewActorSystem()

	sinkProps := actor.PropsFromProducer(func() actor.Actor {
		return &sinkActor{
			sinks:   sinks,
			timeout: 5 * time.Second,
			logger:  logger,
		}
	})
	props := actor.PropsFromProducer(func() actor.Actor {
		return &recorderActor{
			counters:  sinks.Counters,
			sinkProps: sinkProps,
			logger:    logger,
		}
	})
	pid, err := system.Root.SpawnNamed(props, "order-events")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn order event recorder: %w", err)
	}

	return &Dispatcher{system: system, pid: pid, logger: logger, now: time.Now}, nil
}

func (d *Dispatcher) OrderCreated(order *models.Order) {
	d.system.Root.Send(d.pid, &orderCreated{order: snapshot(order), at: d.now()})
}

func (d *Dispatcher) StatusChanged(order *models.Order, from models.OrderStatus) {
	d.system.Root.Send(d.pid, &statusChanged{order: snapshot(order), from: from, at: d.now()})
}

// Flush waits until every event sent before it has been recorded.
func (d *Dispatcher) Flush(timeout time.Duration) error {
	res, err := d.system.Root.RequestFuture(d.pid, &flush{}, timeout).Result()
	if err != nil {
		return fmt.Errorf("failed to flush order events: %w", err)
	}
	if _, ok := res.(*flushed); !ok {
		return fmt.Errorf("unexpected flush response %T", res)
	}
	return nil
}

// Close records what is already queued and stops the recorder.
func (d *Dispatcher) Close() error {
	if err := d.Flush(closeTimeout); err != nil {
		d.logger.Warn("Order events still queued at shutdown", zap.Error(err))
	}
	if err := d.system.Root.PoisonFuture(d.pid).Wait(); err != nil {
		return fmt.Errorf("failed to stop order event recorder: %w", err)
	}
	d.logger.Info("Order event recorder stopped")
	return nil
}

// snapshot copies the order so the caller may keep mutating its own value.
func snapshot(order *models.Order) models.Order {
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	return cp
}
