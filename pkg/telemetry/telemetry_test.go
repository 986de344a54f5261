package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitServesOtelMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := Init(ctx, Config{ServiceName: "kidledger-test"})
	require.NoError(t, err)
	defer func() { assert.NoError(t, tel.Shutdown(ctx)) }()

	counter, err := otel.Meter("kidledger/test").Int64Counter("test.events.total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rr := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_events_total")
	assert.Contains(t, string(body), "go_goroutines")
}
