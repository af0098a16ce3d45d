package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"nobiflow/internal/model"
)

// Provider error codes for the global-metrics API. Codes 1008-1011 are
// the provider's rate-limit family and surface as retryable RemoteErrors
// like any other upstream failure.
var globalErrorMessages = map[int]string{
	1001: "API key invalid",
	1002: "API key missing",
	1003: "subscription plan requires payment",
	1004: "subscription plan payment expired",
	1005: "API key required",
	1006: "subscription plan does not support this endpoint",
	1007: "API key disabled",
	1008: "minute rate limit reached",
	1009: "daily rate limit reached",
	1010: "monthly rate limit reached",
	1011: "IP rate limit reached",
}

type globalStatusPayload struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type globalQuotePayload struct {
	TotalMarketCap float64 `json:"total_market_cap"`
	TotalVolume24h float64 `json:"total_volume_24h"`
	LastUpdated    string  `json:"last_updated"`
}

type globalDataPayload struct {
	BTCDominance           float64                       `json:"btc_dominance"`
	ETHDominance           float64                       `json:"eth_dominance"`
	ActiveCryptocurrencies int                           `json:"active_cryptocurrencies"`
	ActiveMarketPairs      int                           `json:"active_market_pairs"`
	Quote                  map[string]globalQuotePayload `json:"quote"`
}

type globalPayload struct {
	Status globalStatusPayload `json:"status"`
	Data   globalDataPayload   `json:"data"`
}

// FetchGlobalStats retrieves the latest global market metrics from the
// global-metrics provider. Requires an API key.
func (c *Client) FetchGlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	if c.globalURL == "" {
		return nil, &ValidationError{Field: "upstream.global.base_url", Reason: "not configured"}
	}
	if c.globalKey == "" {
		return nil, &ValidationError{Field: "upstream.global.api_key", Reason: "not configured"}
	}

	header := http.Header{}
	header.Set("X-CMC_PRO_API_KEY", c.globalKey)
	header.Set("Accept", "application/json")

	var payload globalPayload
	url := c.globalURL + "/v1/global-metrics/quotes/latest"
	if err := c.getJSON(ctx, string(model.ResourceGlobalStats), url, nil, header, &payload); err != nil {
		return nil, err
	}

	if payload.Status.ErrorCode != 0 {
		msg := payload.Status.ErrorMessage
		if msg == "" {
			msg = globalErrorMessages[payload.Status.ErrorCode]
		}
		return nil, &RemoteError{
			Resource: string(model.ResourceGlobalStats),
			Code:     fmt.Sprintf("%d", payload.Status.ErrorCode),
			Message:  msg,
		}
	}

	stats := &model.GlobalStats{
		Source:                 "coinmarketcap",
		BTCDominance:           payload.Data.BTCDominance,
		ETHDominance:           payload.Data.ETHDominance,
		ActiveCryptocurrencies: payload.Data.ActiveCryptocurrencies,
		ActiveMarketPairs:      payload.Data.ActiveMarketPairs,
		LastUpdate:             time.Now().UTC(),
	}
	if usd, ok := payload.Data.Quote["USD"]; ok {
		stats.TotalMarketCap = usd.TotalMarketCap
		stats.TotalVolume24h = usd.TotalVolume24h
		if ts, err := time.Parse(time.RFC3339, usd.LastUpdated); err == nil {
			stats.LastUpdate = ts.UTC()
		}
	}
	return stats, nil
}
