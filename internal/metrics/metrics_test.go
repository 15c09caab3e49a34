package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMetrics(t *testing.T) {
	m := NewServerMetrics("orders")

	m.ObserveRequest("create_order", http.StatusCreated, 12)
	m.ObserveRequest("create_order", http.StatusCreated, 40)
	m.ClientConnected("kitchen")
	m.ClientConnected("kitchen")
	m.ClientDisconnected("kitchen")
	m.Delivery("kitchen", true)
	m.Delivery("kitchen", false)
	m.ObserveEvent("order_created", "pending")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("create_order", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Clients.WithLabelValues("kitchen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("kitchen", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("order_created", "pending")))
}

func TestServerMetrics_Handler(t *testing.T) {
	m := NewServerMetrics("orders")
	m.ObserveEvent("order_created", "pending")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `restaurant_orders_lifecycle_events_total{status="pending",type="order_created"} 1`)
}
