package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/orderflow/pkg/models"
	"go.uber.org/zap"
)

// ProductClient reads products and adjusts their stock on the product
// service.
type ProductClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewProductClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ProductClient {
	return &ProductClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetProduct returns nil without error when the product does not exist.
func (c *ProductClient) GetProduct(ctx context.Context, productID int64) (*models.ProductSnapshot, error) {
	url := fmt.Sprintf("%s/products/%d", c.baseURL, productID)
	c.logger.Debug("Fetching product", zap.Int64("product_id", productID), zap.String("url", url))

	var product models.ProductSnapshot
	err := doJSON(ctx, c.httpClient, "product-service", http.MethodGet, url, nil, &product)
	switch {
	case err == nil:
		return &product, nil
	case errors.Is(err, errNotFound):
		c.logger.Warn("Product not found", zap.Int64("product_id", productID))
		return nil, nil
	case errors.Is(err, ErrServiceUnavailable):
		c.logger.Error("Product service unavailable", zap.Int64("product_id", productID), zap.Error(err))
		return nil, err
	default:
		c.logger.Error("Unexpected product service answer", zap.Int64("product_id", productID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}

type stockUpdate struct {
	Quantity  int                   `json:"quantity"`
	Operation models.StockOperation `json:"operation"`
}

// UpdateStock applies quantity to the product's stock with the given
// operation. The remote side applies it without comparing against the value
// the caller last read.
func (c *ProductClient) UpdateStock(ctx context.Context, productID int64, quantity int, op models.StockOperation) error {
	url := fmt.Sprintf("%s/products/%d/stock", c.baseURL, productID)
	c.logger.Debug("Updating stock",
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("operation", string(op)))

	err := doJSON(ctx, c.httpClient, "product-service", http.MethodPatch, url, stockUpdate{Quantity: quantity, Operation: op}, nil)
	if err != nil {
		c.logger.Error("Stock update failed",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.String("operation", string(op)),
			zap.Error(err))
		if errors.Is(err, errNotFound) {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return err
	}

	c.logger.Info("Stock updated",
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("operation", string(op)))
	return nil
}

func (c *ProductClient) Ping(ctx context.Context, healthURL string) error {
	return ping(ctx, c.httpClient, "product-service", healthURL)
}
