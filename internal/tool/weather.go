package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	weatherTimeout  = 15 * time.Second
	weatherMaxBytes = 64 * 1024
	userAgentString = "Sahayak/0.1"
)

// WeatherTool answers current-conditions and short-forecast questions
// using the Open-Meteo API (no key required).
type WeatherTool struct {
	client *http.Client
}

func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		client: &http.Client{Timeout: weatherTimeout},
	}
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "Get current weather and a short forecast for a city. Use when the user asks about rain, temperature, or field conditions."
}

func (t *WeatherTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"city": {Type: "string", Description: "City or town name, e.g. 'Lucknow'"},
		},
		[]string{"city"},
	)
}

func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	city := strings.TrimSpace(ArgsString(args, "city"))
	if city == "" {
		return "", fmt.Errorf("missing argument: city")
	}

	lat, lon, place, err := t.geocode(ctx, city)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf(
		"https://api.open-meteo.com/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m&daily=temperature_2m_max,temperature_2m_min,precipitation_probability_max&forecast_days=3&timezone=auto",
		lat, lon)

	body, err := t.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var fc forecastResponse
	if err := json.Unmarshal(body, &fc); err != nil {
		return "", fmt.Errorf("parse forecast: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Weather for %s:\n", place)
	fmt.Fprintf(&sb, "Now: %.1f°C, humidity %d%%, precipitation %.1fmm, wind %.1f km/h\n",
		fc.Current.Temperature, fc.Current.Humidity, fc.Current.Precipitation, fc.Current.WindSpeed)
	for i := range fc.Daily.Time {
		fmt.Fprintf(&sb, "%s: %.0f-%.0f°C, rain chance %d%%\n",
			fc.Daily.Time[i], fc.Daily.TempMin[i], fc.Daily.TempMax[i], fc.Daily.RainProb[i])
	}
	return sb.String(), nil
}

func (t *WeatherTool) geocode(ctx context.Context, city string) (lat, lon float64, place string, err error) {
	endpoint := fmt.Sprintf("https://geocoding-api.open-meteo.com/v1/search?name=%s&count=1&format=json",
		url.QueryEscape(city))
	body, err := t.get(ctx, endpoint)
	if err != nil {
		return 0, 0, "", err
	}
	var geo geocodeResponse
	if err := json.Unmarshal(body, &geo); err != nil {
		return 0, 0, "", fmt.Errorf("parse geocoding: %w", err)
	}
	if len(geo.Results) == 0 {
		return 0, 0, "", fmt.Errorf("unknown city: %s", city)
	}
	r := geo.Results[0]
	place = r.Name
	if r.Admin1 != "" {
		place += ", " + r.Admin1
	}
	return r.Latitude, r.Longitude, place, nil
}

func (t *WeatherTool) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, weatherMaxBytes))
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Admin1    string  `json:"admin1"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature   float64 `json:"temperature_2m"`
		Humidity      int     `json:"relative_humidity_2m"`
		Precipitation float64 `json:"precipitation"`
		WindSpeed     float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		Time     []string  `json:"time"`
		TempMax  []float64 `json:"temperature_2m_max"`
		TempMin  []float64 `json:"temperature_2m_min"`
		RainProb []int     `json:"precipitation_probability_max"`
	} `json:"daily"`
}
