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
	marketTimeout  = 15 * time.Second
	marketMaxBytes = 256 * 1024
	marketEndpoint = "https://api.data.gov.in/resource/9ef84268-d588-465a-a308-a864a43d0070"
)

// MarketPriceTool looks up current mandi (wholesale market) prices from
// the data.gov.in AGMARKNET feed. Requires an API key.
type MarketPriceTool struct {
	client *http.Client
	apiKey string
}

func NewMarketPriceTool(apiKey string) *MarketPriceTool {
	return &MarketPriceTool{
		client: &http.Client{Timeout: marketTimeout},
		apiKey: apiKey,
	}
}

func (t *MarketPriceTool) Name() string { return "get_market_prices" }

func (t *MarketPriceTool) Description() string {
	return "Get current wholesale mandi prices for a commodity, optionally filtered by state. Use when the user asks what a crop sells for."
}

func (t *MarketPriceTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"commodity": {Type: "string", Description: "Commodity name, e.g. 'Wheat', 'Onion'"},
			"state":     {Type: "string", Description: "Optional state filter, e.g. 'Uttar Pradesh'"},
		},
		[]string{"commodity"},
	)
}

func (t *MarketPriceTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	commodity := strings.TrimSpace(ArgsString(args, "commodity"))
	if commodity == "" {
		return "", fmt.Errorf("missing argument: commodity")
	}
	if t.apiKey == "" {
		return "", fmt.Errorf("market price API key not configured")
	}

	q := url.Values{}
	q.Set("api-key", t.apiKey)
	q.Set("format", "json")
	q.Set("limit", "10")
	q.Set("filters[commodity]", commodity)
	if state := strings.TrimSpace(ArgsString(args, "state")); state != "" {
		q.Set("filters[state]", state)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", marketEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("market price request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("market price API returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, marketMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var feed agmarknetResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(feed.Records) == 0 {
		return fmt.Sprintf("No recent mandi prices found for %s.", commodity), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Mandi prices for %s (Rs per quintal):\n", commodity)
	for _, r := range feed.Records {
		fmt.Fprintf(&sb, "%s, %s (%s): min %s, max %s, modal %s on %s\n",
			r.Market, r.District, r.State, r.MinPrice, r.MaxPrice, r.ModalPrice, r.ArrivalDate)
	}
	return sb.String(), nil
}

type agmarknetResponse struct {
	Records []struct {
		State       string `json:"state"`
		District    string `json:"district"`
		Market      string `json:"market"`
		ArrivalDate string `json:"arrival_date"`
		MinPrice    string `json:"min_price"`
		MaxPrice    string `json:"max_price"`
		ModalPrice  string `json:"modal_price"`
	} `json:"records"`
}
