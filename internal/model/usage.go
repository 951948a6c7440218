package model

// AppUsage is the normalized usage summary for one turn. It overwrites the
// chat's last_context after each successful turn; only the most recent
// turn's usage is retained at the chat level.
type AppUsage struct {
	ModelID           string `json:"model_id"`
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	TotalTokens       int    `json:"total_tokens"`
	ReasoningTokens   int    `json:"reasoning_tokens,omitempty"`
	CachedInputTokens int    `json:"cached_input_tokens,omitempty"`

	// Cost fields are present only when the pricing catalog lookup succeeded.
	InputCostUSD  *float64 `json:"input_cost_usd,omitempty"`
	OutputCostUSD *float64 `json:"output_cost_usd,omitempty"`
	TotalCostUSD  *float64 `json:"total_cost_usd,omitempty"`
}
