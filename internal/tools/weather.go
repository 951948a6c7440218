package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/parallax-ai/chat-platform/internal/llm"
)

const openMeteoURL = "https://api.open-meteo.com/v1/forecast"

// WeatherTool looks up current conditions for a coordinate pair via the
// Open-Meteo forecast API.
type WeatherTool struct {
	httpClient *http.Client
	baseURL    string
}

// NewWeatherTool creates the weather lookup tool.
func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    openMeteoURL,
	}
}

// NewWeatherToolWithBase creates the tool against a custom endpoint.
// Used in tests.
func NewWeatherToolWithBase(baseURL string) *WeatherTool {
	t := NewWeatherTool()
	t.baseURL = baseURL
	return t
}

type weatherInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Definition declares the tool to the model.
func (t *WeatherTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "get_weather",
		Description: "Get the current weather at a location",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"latitude": {"type": "number"},
				"longitude": {"type": "number"}
			},
			"required": ["latitude", "longitude"]
		}`),
	}
}

// Execute fetches the forecast for the requested coordinates.
func (t *WeatherTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input weatherInput
	if err := json.Unmarshal(inv.Input, &input); err != nil {
		return nil, fmt.Errorf("invalid weather input: %w", err)
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%g", input.Latitude))
	q.Set("longitude", fmt.Sprintf("%g", input.Longitude))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather lookup failed: status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode weather response: %w", err)
	}
	return payload, nil
}
