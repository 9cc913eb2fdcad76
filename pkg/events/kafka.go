package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher sends an order event to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the message published for every lifecycle change. Orders
// are keyed by id so one order's events stay on one partition.
type OrderEvent struct {
	Type        string             `json:"type"`
	OrderID     int64              `json:"orderId"`
	UserID      int64              `json:"userId"`
	Status      models.OrderStatus `json:"status"`
	From        models.OrderStatus `json:"from,omitempty"`
	TotalAmount string             `json:"totalAmount"`
	Items       int                `json:"items"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

func newOrderEvent(action string, order *models.Order, from models.OrderStatus, at time.Time) OrderEvent {
	return OrderEvent{
		Type:        action,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		From:        from,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Items:       order.TotalItemsCount(),
		OccurredAt:  at.UTC(),
	}
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes one event per call. BatchTimeout bounds how long
// a single event waits for companions before it is flushed.
func NewKafkaPublisher(cfg *config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: cfg.BatchTimeout,
			ErrorLogger:  kafka.LoggerFunc(logger.Named("kafka").Sugar().Errorf),
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", event.OrderID)),
		Value: data,
		Time:  event.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
