package usage

import (
	"context"

	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
)

const tokensPerPriceUnit = 1_000_000

// Reconciler computes the normalized usage summary for a finished turn.
// Catalog enrichment is optional and never blocks turn completion.
type Reconciler struct {
	catalog *Catalog
}

// NewReconciler creates a usage reconciler. catalog may be nil to disable
// enrichment entirely.
func NewReconciler(catalog *Catalog) *Reconciler {
	return &Reconciler{catalog: catalog}
}

// Reconcile converts raw backend token counts into an AppUsage summary,
// attaching cost fields when the pricing catalog resolves the model.
func (r *Reconciler) Reconcile(ctx context.Context, modelID string, raw llm.Usage) *model.AppUsage {
	summary := &model.AppUsage{
		ModelID:           modelID,
		InputTokens:       raw.InputTokens,
		OutputTokens:      raw.OutputTokens,
		TotalTokens:       raw.TotalTokens,
		ReasoningTokens:   raw.ReasoningTokens,
		CachedInputTokens: raw.CachedInputTokens,
	}
	if summary.TotalTokens == 0 {
		summary.TotalTokens = raw.InputTokens + raw.OutputTokens
	}

	if r.catalog == nil {
		return summary
	}

	pricing, ok := r.catalog.Lookup(ctx, modelID)
	if !ok {
		return summary
	}

	inputCost := float64(summary.InputTokens) / tokensPerPriceUnit * pricing.InputUSD
	outputCost := float64(summary.OutputTokens) / tokensPerPriceUnit * pricing.OutputUSD
	totalCost := inputCost + outputCost
	summary.InputCostUSD = &inputCost
	summary.OutputCostUSD = &outputCost
	summary.TotalCostUSD = &totalCost

	return summary
}
