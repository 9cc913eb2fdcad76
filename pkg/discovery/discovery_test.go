package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceKey(t *testing.T) {
	instance := &ServiceInstance{Name: "order-service", Host: "10.0.0.4", Port: 8083}

	assert.Equal(t, "/services/order-service/10.0.0.4:8083", instanceKey("/services/", instance))
	assert.Equal(t, "/services/order-service/", serviceKey("/services/", "order-service"))
}

func TestParseInstance(t *testing.T) {
	instance, err := parseInstance("user-service", "user.internal:8080")
	require.NoError(t, err)
	assert.Equal(t, "user.internal", instance.Host)
	assert.Equal(t, 8080, instance.Port)
	assert.Equal(t, "user.internal:8080", instance.Addr())

	for _, bad := range []string{"", "nohost", ":8080", "host:", "host:http"} {
		_, err := parseInstance("user-service", bad)
		assert.Error(t, err, bad)
	}
}
