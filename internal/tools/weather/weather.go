package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aria/internal/agent/ports"
)

const defaultBaseURL = "https://api.weatherapi.com/v1"

// Service calls the weatherapi.com JSON API. Both tools share one service so
// they also share the HTTP client, key and base URL.
type Service struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewService creates a weather service. A nil client gets a 10s default.
func NewService(baseURL, apiKey string, client *http.Client) *Service {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Service{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type location struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

type condition struct {
	Text string `json:"text"`
}

type currentResponse struct {
	Location location `json:"location"`
	Current  struct {
		TempC     float64   `json:"temp_c"`
		TempF     float64   `json:"temp_f"`
		Condition condition `json:"condition"`
		Humidity  int       `json:"humidity"`
		WindKph   float64   `json:"wind_kph"`
	} `json:"current"`
}

type forecastResponse struct {
	Location location `json:"location"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC   float64   `json:"maxtemp_c"`
				MinTempC   float64   `json:"mintemp_c"`
				Condition  condition `json:"condition"`
				RainChance int       `json:"daily_chance_of_rain"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (s *Service) get(ctx context.Context, path string, query url.Values, target any) error {
	if s.apiKey != "" {
		query.Set("key", s.apiKey)
	}
	endpoint := fmt.Sprintf("%s%s?%s", s.baseURL, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("weather request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read weather response: %w", err)
	}
	// weatherapi.com answers 400 for unknown locations.
	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("could not find city")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weather API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode weather response: %w", err)
	}
	return nil
}

// currentWeather implements the get_weather tool.
type currentWeather struct {
	service *Service
}

// NewCurrentWeather returns the get_weather tool.
func NewCurrentWeather(service *Service) ports.ToolExecutor {
	return &currentWeather{service: service}
}

func (t *currentWeather) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:     "get_weather",
		Version:  "1.0.0",
		Category: "weather",
		Tags:     []string{"weather", "current"},
	}
}

func (t *currentWeather) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get_weather",
		Description: "Get current weather conditions for a city.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"city": {
					Type:        "string",
					Description: "City name, e.g. \"Oslo\" or \"San Francisco\"",
				},
				"units": {
					Type:        "string",
					Description: "Temperature units",
					Enum:        []any{"metric", "imperial"},
					Default:     "metric",
				},
			},
			Required: []string{"city"},
		},
	}
}

func (t *currentWeather) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	city, _ := call.Arguments["city"].(string)
	if strings.TrimSpace(city) == "" {
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: "Error: city parameter required",
			Error:   fmt.Errorf("missing city"),
		}, nil
	}

	units := "metric"
	if u, ok := call.Arguments["units"].(string); ok && u != "" {
		units = u
	}

	var current currentResponse
	query := url.Values{"q": {city}, "aqi": {"no"}}
	if err := t.service.get(ctx, "/current.json", query, &current); err != nil {
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Error: %v", err),
			Error:   err,
		}, nil
	}
	// A 200 body that decodes to zero values means we are not talking to the
	// API we think we are. Never report empty conditions as a result.
	if current.Location.Name == "" {
		err := fmt.Errorf("unexpected response from weather API")
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Error: %v", err),
			Error:   err,
		}, nil
	}

	temp := fmt.Sprintf("%.1f°C", current.Current.TempC)
	if units == "imperial" {
		temp = fmt.Sprintf("%.1f°F", current.Current.TempF)
	}

	content := fmt.Sprintf("Weather in %s, %s: %s, %s, humidity %d%%, wind %.0f km/h",
		current.Location.Name, current.Location.Country, current.Current.Condition.Text,
		temp, current.Current.Humidity, current.Current.WindKph)

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: content,
		Metadata: map[string]any{
			"city":  current.Location.Name,
			"units": units,
		},
	}, nil
}

// forecast implements the get_forecast tool.
type forecast struct {
	service *Service
}

// NewForecast returns the get_forecast tool.
func NewForecast(service *Service) ports.ToolExecutor {
	return &forecast{service: service}
}

func (t *forecast) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:     "get_forecast",
		Version:  "1.0.0",
		Category: "weather",
		Tags:     []string{"weather", "forecast"},
	}
}

func (t *forecast) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get_forecast",
		Description: "Get a daily weather forecast for a city, up to 3 days ahead.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"city": {
					Type:        "string",
					Description: "City name",
				},
				"days": {
					Type:        "integer",
					Description: "Number of days to forecast (1-3, default 1)",
					Default:     1,
				},
			},
			Required: []string{"city"},
		},
	}
}

func (t *forecast) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	city, _ := call.Arguments["city"].(string)
	if strings.TrimSpace(city) == "" {
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: "Error: city parameter required",
			Error:   fmt.Errorf("missing city"),
		}, nil
	}

	days := 1
	if d, ok := call.Arguments["days"].(float64); ok {
		days = int(d)
	}
	if days < 1 {
		days = 1
	}
	if days > 3 {
		days = 3
	}

	var fc forecastResponse
	query := url.Values{
		"q":    {city},
		"days": {fmt.Sprintf("%d", days)},
		"aqi":  {"no"},
	}
	if err := t.service.get(ctx, "/forecast.json", query, &fc); err != nil {
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Error: %v", err),
			Error:   err,
		}, nil
	}
	if fc.Location.Name == "" || len(fc.Forecast.ForecastDay) == 0 {
		err := fmt.Errorf("unexpected response from weather API")
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Error: %v", err),
			Error:   err,
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Forecast for %s, %s:\n", fc.Location.Name, fc.Location.Country)
	for _, day := range fc.Forecast.ForecastDay {
		fmt.Fprintf(&b, "- %s: %s, %.0f°C to %.0f°C, %d%% chance of rain\n",
			day.Date, day.Day.Condition.Text, day.Day.MinTempC, day.Day.MaxTempC, day.Day.RainChance)
	}

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]any{
			"city": fc.Location.Name,
			"days": days,
		},
	}, nil
}
