// Package usage normalizes token usage for completed turns and enriches it
// with model pricing when available.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/parallax-ai/chat-platform/pkg/logger"
)

// ModelPricing is the per-million-token cost of a model.
type ModelPricing struct {
	InputUSD  float64
	OutputUSD float64
}

// Catalog is a lazily-populated, interval-cached view of an external model
// pricing catalog. Lookups are best-effort: a failed or stale fetch yields
// no pricing and never an error. Initialized on first use; one instance is
// shared process-wide and injected where needed.
type Catalog struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	logger     *logger.Logger

	mu        sync.Mutex
	fetchedAt time.Time
	pricing   map[string]ModelPricing
}

// NewCatalog creates a pricing catalog client.
func NewCatalog(url string, ttl time.Duration, log *logger.Logger) *Catalog {
	return &Catalog{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

// Lookup returns pricing for the model id, refreshing the cache if it has
// expired. Returns false when the catalog is unavailable or the model is
// unknown.
func (c *Catalog) Lookup(ctx context.Context, modelID string) (ModelPricing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pricing == nil || time.Since(c.fetchedAt) > c.ttl {
		if err := c.refreshLocked(ctx); err != nil {
			c.logger.Warnw("model catalog unavailable, skipping enrichment", "error", err)
			// Keep serving the stale cache if there is one.
			if c.pricing == nil {
				return ModelPricing{}, false
			}
		}
	}

	pricing, ok := c.pricing[modelID]
	return pricing, ok
}

// catalogModel mirrors the subset of the catalog payload we consume.
type catalogModel struct {
	Cost struct {
		Input  float64 `json:"input"`
		Output float64 `json:"output"`
	} `json:"cost"`
}

type catalogProvider struct {
	Models map[string]catalogModel `json:"models"`
}

func (c *Catalog) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog fetch failed: status %d", resp.StatusCode)
	}

	var providers map[string]catalogProvider
	if err := json.NewDecoder(resp.Body).Decode(&providers); err != nil {
		return fmt.Errorf("failed to decode catalog: %w", err)
	}

	pricing := make(map[string]ModelPricing)
	for _, provider := range providers {
		for id, m := range provider.Models {
			pricing[id] = ModelPricing{
				InputUSD:  m.Cost.Input,
				OutputUSD: m.Cost.Output,
			}
		}
	}

	c.pricing = pricing
	c.fetchedAt = time.Now()
	return nil
}
