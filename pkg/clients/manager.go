package clients

import (
	"context"
	"strings"
	"time"

	"github.com/example/orderflow/pkg/config"
	"go.uber.org/zap"
)

// Resolver maps a registered service name to a host:port address.
type Resolver interface {
	Resolve(ctx context.Context, serviceName string) (string, error)
}

// Manager builds the remote service clients, preferring addresses found
// through discovery over the configured URLs.
type Manager struct {
	config   *config.ServicesConfig
	resolver Resolver
	logger   *zap.Logger

	userClient    *UserClient
	productClient *ProductClient

	userHealthURL    string
	productHealthURL string
}

// NewManager accepts a nil resolver, in which case the configured URLs are
// used as they are.
func NewManager(cfg *config.ServicesConfig, resolver Resolver, logger *zap.Logger) *Manager {
	return &Manager{
		config:   cfg,
		resolver: resolver,
		logger:   logger.Named("clients"),
	}
}

// Connect resolves both services and builds their clients. Resolution
// failures fall back to the configured URL and are not errors.
func (m *Manager) Connect(ctx context.Context) {
	userBase := m.baseURL(ctx, m.config.UserName, m.config.UserURL)
	productBase := m.baseURL(ctx, m.config.ProductName, m.config.ProductURL)

	m.userClient = NewUserClient(userBase+m.config.APIPrefix, m.config.Timeout, m.logger.Named("user"))
	m.productClient = NewProductClient(productBase+m.config.APIPrefix, m.config.Timeout, m.logger.Named("product"))
	m.userHealthURL = userBase + m.config.HealthPath
	m.productHealthURL = productBase + m.config.HealthPath

	m.logger.Info("Remote clients ready",
		zap.String("user_service", userBase),
		zap.String("product_service", productBase))
}

func (m *Manager) baseURL(ctx context.Context, name, fallback string) string {
	fallback = strings.TrimRight(fallback, "/")
	if m.resolver == nil || name == "" {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	addr, err := m.resolver.Resolve(ctx, name)
	if err != nil {
		m.logger.Info("Using default address",
			zap.String("service", name),
			zap.String("address", fallback),
			zap.Error(err))
		return fallback
	}

	m.logger.Info("Discovered service", zap.String("service", name), zap.String("address", addr))
	if strings.Contains(addr, "://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

func (m *Manager) UserClient() *UserClient {
	return m.userClient
}

func (m *Manager) ProductClient() *ProductClient {
	return m.productClient
}

// PingUser checks the user service health endpoint.
func (m *Manager) PingUser(ctx context.Context) error {
	return m.userClient.Ping(ctx, m.userHealthURL)
}

// PingProduct checks the product service health endpoint.
func (m *Manager) PingProduct(ctx context.Context) error {
	return m.productClient.Ping(ctx, m.productHealthURL)
}
