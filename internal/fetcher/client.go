package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"nobiflow/config"
	"nobiflow/logger"
)

// Client performs REST calls against the upstream market-data APIs. All
// vendor payload normalization happens inside this package; string-typed
// numerics and epoch timestamps never escape it.
type Client struct {
	baseURL   string
	globalURL string
	token     string
	globalKey string
	http      *http.Client
	limiter   *rate.Limiter
	log       *logger.Log
}

// NewClient builds a Client from the upstream configuration. The limiter
// smooths outbound request bursts; the per-resource minute budgets are
// enforced separately by the scheduler's rate tracker.
func NewClient(cfg config.UpstreamConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		DisableCompression:  false,
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		globalURL: strings.TrimRight(cfg.Global.BaseURL, "/"),
		token:     cfg.Token,
		globalKey: cfg.Global.APIKey,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// getJSON issues one GET request and decodes the JSON body into out.
// Transport failures and non-2xx statuses come back as RemoteError.
func (c *Client) getJSON(ctx context.Context, resource, rawURL string, query url.Values, header http.Header, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteError{Resource: resource, Err: err}
	}

	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &RemoteError{Resource: resource, Message: "request timed out", Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &RemoteError{Resource: resource, Message: "request timed out", Err: err}
		}
		return &RemoteError{Resource: resource, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return &RemoteError{Resource: resource, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return &RemoteError{Resource: resource, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteError{Resource: resource, StatusCode: resp.StatusCode, Message: "undecodable payload", Err: err}
	}
	return nil
}

// vendorGet calls the market-data API, attaching the bearer token when
// one is configured.
func (c *Client) vendorGet(ctx context.Context, resource, path string, query url.Values, out interface{}) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Token "+c.token)
	}
	return c.getJSON(ctx, resource, c.baseURL+path, query, header, out)
}
