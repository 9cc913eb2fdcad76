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

// UserClient reads accounts from the user service.
type UserClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewUserClient(baseURL string, timeout time.Duration, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetUser returns nil without error when the user does not exist.
func (c *UserClient) GetUser(ctx context.Context, userID int64) (*models.UserRecord, error) {
	url := fmt.Sprintf("%s/users/%d", c.baseURL, userID)
	c.logger.Debug("Fetching user", zap.Int64("user_id", userID), zap.String("url", url))

	var user models.UserRecord
	err := doJSON(ctx, c.httpClient, "user-service", http.MethodGet, url, nil, &user)
	switch {
	case err == nil:
		return &user, nil
	case errors.Is(err, errNotFound):
		c.logger.Warn("User not found", zap.Int64("user_id", userID))
		return nil, nil
	case errors.Is(err, ErrServiceUnavailable):
		c.logger.Error("User service unavailable", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	default:
		// any other answer means we cannot tell whether the user exists
		c.logger.Error("Unexpected user service answer", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}

// IsUserActive is false for unknown users; err is only set when the user
// service could not answer.
func (c *UserClient) IsUserActive(ctx context.Context, userID int64) (bool, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	active := user != nil && user.Active
	c.logger.Debug("User checked", zap.Int64("user_id", userID), zap.Bool("active", active))
	return active, nil
}

// Ping checks the user service health endpoint, relative to its host.
func (c *UserClient) Ping(ctx context.Context, healthURL string) error {
	return ping(ctx, c.httpClient, "user-service", healthURL)
}
