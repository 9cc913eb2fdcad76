package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUserClient_IsUserActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users/1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":1,"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","active":true}`))
		case "/api/v1/users/2":
			w.Write([]byte(`{"id":2,"active":false}`))
		case "/api/v1/users/3":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL+"/api/v1", time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	active, err := client.IsUserActive(ctx, 1)
	require.NoError(t, err)
	assert.True(t, active)

	user, err := client.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "ada@example.com", user.Email)

	active, err = client.IsUserActive(ctx, 2)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = client.IsUserActive(ctx, 404)
	require.NoError(t, err, "an unknown user is not an error")
	assert.False(t, active)

	_, err = client.IsUserActive(ctx, 3)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestUserClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewUserClient(srv.URL, 50*time.Millisecond, zaptest.NewLogger(t))

	_, err := client.IsUserActive(context.Background(), 1)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestUserClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewUserClient(url, time.Second, zaptest.NewLogger(t))

	_, err := client.IsUserActive(context.Background(), 1)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestProductClient_GetProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/10" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":10,"name":"Keyboard","price":49.90,"stock":7,"category":"peripherals","active":true}`))
	}))
	defer srv.Close()

	client := NewProductClient(srv.URL, time.Second, zaptest.NewLogger(t))

	product, err := client.GetProduct(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, "Keyboard", product.Name)
	assert.True(t, product.Price.Equal(decimal.RequireFromString("49.90")))
	assert.Equal(t, 7, product.Stock)
	assert.True(t, product.Active)

	missing, err := client.GetProduct(context.Background(), 11)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProductClient_UpdateStock(t *testing.T) {
	var got stockUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/10/stock":
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"id":10,"stock":5}`))
		case "/products/11/stock":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"stock cannot be negative"}`))
		case "/products/12/stock":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewProductClient(srv.URL, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, client.UpdateStock(ctx, 10, 2, models.StockSubtract))
	assert.Equal(t, stockUpdate{Quantity: 2, Operation: models.StockSubtract}, got)

	err := client.UpdateStock(ctx, 11, 2, models.StockSubtract)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "stock cannot be negative")

	assert.ErrorIs(t, client.UpdateStock(ctx, 12, 2, models.StockSubtract), ErrServiceUnavailable)
	assert.ErrorIs(t, client.UpdateStock(ctx, 13, 2, models.StockSubtract), ErrRejected)
}

type staticResolver map[string]string

func (r staticResolver) Resolve(_ context.Context, name string) (string, error) {
	if addr, ok := r[name]; ok {
		return addr, nil
	}
	return "", errors.New("not registered")
}

func TestManager_ResolvesWithFallback(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"status":"UP"}`))
	}))
	defer srv.Close()

	cfg := &config.ServicesConfig{
		UserURL:     "http://127.0.0.1:1/",
		UserName:    "user-service",
		ProductURL:  srv.URL,
		ProductName: "product-service",
		APIPrefix:   "/api/v1",
		Timeout:     time.Second,
		HealthPath:  "/actuator/health",
	}
	// the user service is discovered, the product service is not registered
	resolver := staticResolver{"user-service": srv.Listener.Addr().String()}

	m := NewManager(cfg, resolver, zaptest.NewLogger(t))
	m.Connect(context.Background())

	assert.Equal(t, srv.URL+"/api/v1", m.UserClient().baseURL)
	assert.Equal(t, srv.URL+"/api/v1", m.ProductClient().baseURL)

	require.NoError(t, m.PingUser(context.Background()))
	require.NoError(t, m.PingProduct(context.Background()))
	assert.Equal(t, []string{"/actuator/health", "/actuator/health"}, paths)
}

func TestManager_WithoutResolver(t *testing.T) {
	cfg := &config.ServicesConfig{
		UserURL:    "http://users.internal:8080",
		ProductURL: "http://products.internal:8082/",
		APIPrefix:  "/api/v1",
		Timeout:    time.Second,
	}

	m := NewManager(cfg, nil, zaptest.NewLogger(t))
	m.Connect(context.Background())

	assert.Equal(t, "http://users.internal:8080/api/v1", m.UserClient().baseURL)
	assert.Equal(t, "http://products.internal:8082/api/v1", m.ProductClient().baseURL)
}
