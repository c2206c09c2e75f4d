package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	c := NewCollector()
	c.ObserveOperation("activate", "ok", 20*time.Millisecond)
	c.ObserveOperation("activate", "ok", 30*time.Millisecond)
	c.ObserveOperation("activate", "invalid", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("activate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("activate", "invalid")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector()
	c.AuthFailure("client")
	c.RateLimited("ip")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `license_auth_failures_total{surface="client"} 1`))
	assert.True(t, strings.Contains(body, `license_rate_limited_total{scope="ip"} 1`))
}
