package usage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/pkg/logger"
)

const catalogPayload = `{
	"openai": {
		"models": {
			"gpt-4o": {"cost": {"input": 2.5, "output": 10}}
		}
	},
	"anthropic": {
		"models": {
			"claude-sonnet": {"cost": {"input": 3, "output": 15}}
		}
	}
}`

func TestCatalogLookup(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	catalog := NewCatalog(srv.URL, time.Hour, logger.NewNop())

	pricing, ok := catalog.Lookup(context.Background(), "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 2.5, pricing.InputUSD)
	assert.Equal(t, 10.0, pricing.OutputUSD)

	_, ok = catalog.Lookup(context.Background(), "claude-sonnet")
	assert.True(t, ok, "models are flattened across providers")

	_, ok = catalog.Lookup(context.Background(), "unknown-model")
	assert.False(t, ok)

	assert.Equal(t, int32(1), fetches.Load(), "lookups within the TTL share one fetch")
}

func TestCatalogServesStaleOnFailure(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	catalog := NewCatalog(srv.URL, time.Nanosecond, logger.NewNop())

	_, ok := catalog.Lookup(context.Background(), "gpt-4o")
	require.True(t, ok)

	failing.Store(true)
	pricing, ok := catalog.Lookup(context.Background(), "gpt-4o")
	assert.True(t, ok, "a failed refresh falls back to the stale cache")
	assert.Equal(t, 2.5, pricing.InputUSD)
}

func TestCatalogUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	catalog := NewCatalog(srv.URL, time.Hour, logger.NewNop())
	_, ok := catalog.Lookup(context.Background(), "gpt-4o")
	assert.False(t, ok, "an empty catalog yields no pricing, not an error")
}

func TestReconcileWithPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	r := NewReconciler(NewCatalog(srv.URL, time.Hour, logger.NewNop()))
	summary := r.Reconcile(context.Background(), "gpt-4o", llm.Usage{
		InputTokens:  1_000_000,
		OutputTokens: 500_000,
	})

	assert.Equal(t, 1_500_000, summary.TotalTokens, "total is derived when the backend omits it")
	require.NotNil(t, summary.InputCostUSD)
	require.NotNil(t, summary.OutputCostUSD)
	require.NotNil(t, summary.TotalCostUSD)
	assert.InDelta(t, 2.5, *summary.InputCostUSD, 1e-9)
	assert.InDelta(t, 5.0, *summary.OutputCostUSD, 1e-9)
	assert.InDelta(t, 7.5, *summary.TotalCostUSD, 1e-9)
}

func TestReconcileWithoutCatalog(t *testing.T) {
	r := NewReconciler(nil)
	summary := r.Reconcile(context.Background(), "gpt-4o", llm.Usage{
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
	})

	assert.Equal(t, "gpt-4o", summary.ModelID)
	assert.Equal(t, 15, summary.TotalTokens)
	assert.Nil(t, summary.InputCostUSD)
	assert.Nil(t, summary.TotalCostUSD)
}
