package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlerter_OneUnresolvedPerProviderAndType(t *testing.T) {
	a := NewAlerter("")
	ctx := context.Background()

	first, created := a.Raise(ctx, AlertCircuitOpen, "high", "search", "circuit opened", nil)
	assert.True(t, created)

	// Same (provider, type) refreshes instead of duplicating.
	second, created := a.Raise(ctx, AlertCircuitOpen, "high", "search", "circuit still open", nil)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "circuit still open", second.Message)

	// A different provider or type opens its own alert.
	_, created = a.Raise(ctx, AlertCircuitOpen, "high", "extract", "circuit opened", nil)
	assert.True(t, created)
	_, created = a.Raise(ctx, AlertBudgetLow, "medium", "search", "credits low", nil)
	assert.True(t, created)

	assert.Len(t, a.Unresolved(), 3)
}

func TestAlerter_Lifecycle(t *testing.T) {
	a := NewAlerter("")
	ctx := context.Background()

	alert, _ := a.Raise(ctx, AlertProviderUnhealthy, "high", "search", "latency elevated", nil)
	assert.Nil(t, alert.AcknowledgedAt)

	require.True(t, a.Acknowledge(alert.ID))
	assert.False(t, a.Acknowledge(alert.ID), "second acknowledge is a no-op")

	acked := a.Unresolved()[0]
	assert.NotNil(t, acked.AcknowledgedAt)

	require.True(t, a.Resolve("search", AlertProviderUnhealthy))
	assert.Empty(t, a.Unresolved())
	assert.False(t, a.Resolve("search", AlertProviderUnhealthy), "already resolved")

	// Resolving frees the pair for a fresh alert.
	fresh, created := a.Raise(ctx, AlertProviderUnhealthy, "high", "search", "latency elevated again", nil)
	assert.True(t, created)
	assert.NotEqual(t, alert.ID, fresh.ID)
}

func TestAlerter_WebhookDelivery(t *testing.T) {
	var received atomic.Int32
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		gotType = string(alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL)
	ctx := context.Background()

	a.Raise(ctx, AlertCircuitOpen, "high", "search", "circuit opened", map[string]any{"failures": 5})
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, string(AlertCircuitOpen), gotType)

	// Refreshing an existing alert does not re-deliver.
	a.Raise(ctx, AlertCircuitOpen, "high", "search", "circuit still open", nil)
	assert.Equal(t, int32(1), received.Load())
}
