package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditRepository keeps the lifecycle trail of every order in MongoDB.
type AuditRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	service    string
}

func NewAuditRepository(cfg *config.MongoDBConfig, service string) (*AuditRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &AuditRepository{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		service:    service,
	}, nil
}

func (m *AuditRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *AuditRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditEntry is one step of an order's lifecycle.
type AuditEntry struct {
	Service     string    `bson:"service"`
	Action      string    `bson:"action"`
	OrderID     int64     `bson:"order_id"`
	UserID      int64     `bson:"user_id"`
	Status      string    `bson:"status"`
	TotalAmount string    `bson:"total_amount"`
	Data        bson.M    `bson:"data,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

// RecordOrder appends an entry describing the order as it is now.
func (m *AuditRepository) RecordOrder(ctx context.Context, action string, order *models.Order, data map[string]interface{}) error {
	entry := &AuditEntry{
		Service:     m.service,
		Action:      action,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status.String(),
		TotalAmount: order.TotalAmount.StringFixed(2),
		Data:        bson.M(data),
		CreatedAt:   time.Now(),
	}
	if _, err := m.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s for order %d: %w", action, order.ID, err)
	}
	return nil
}
