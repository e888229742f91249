// Package hubspot provides a client for the HubSpot CRM v3/v4 REST API.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/deal-sync/internal/resilience"
)

const defaultBaseURL = "https://api.hubapi.com"

// Client defines the HubSpot operations used by the sync engine and the
// host commands.
type Client interface {
	// ListDeals returns one page of deals.
	ListDeals(ctx context.Context, params ListDealsParams) (*DealPage, error)
	GetCompany(ctx context.Context, id string) (*Company, error)
	GetContact(ctx context.Context, id string) (*Contact, error)
	GetOwner(ctx context.Context, id string) (*Owner, error)
	// ListPipelines returns every pipeline defined for objectType ("deals").
	ListPipelines(ctx context.Context, objectType string) ([]Pipeline, error)
	GetAccountDetails(ctx context.Context) (*AccountDetails, error)
	// SearchObjects runs a single page of a CRM search.
	SearchObjects(ctx context.Context, objectType string, req SearchRequest) (*SearchResponse, error)
	GetObject(ctx context.Context, objectType, id string, properties []string) (*Object, error)
	// ListAssociations walks every page of fromType/fromID → toType associations.
	ListAssociations(ctx context.Context, fromType, fromID, toType string) ([]Association, error)
	CreateObject(ctx context.Context, objectType string, req CreateRequest) (*Object, error)
}

// Option configures the HubSpot client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles outbound requests to rps. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithCircuitBreaker routes every request through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

// WithRetry enables retries for transient failures (408, 429, 5xx, network
// timeouts). Requests are attempted once unless this option is set.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewClient creates a HubSpot client authenticated with a private app token.
// By default requests are throttled to 10 req/s and never retried.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
		retry:   resilience.NoRetry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// request performs one API call. A non-2xx response yields *APIError; a 2xx
// body is decoded into out when out is non-nil.
func (c *httpClient) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	call := func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "hubspot: rate limit")
		}
		return c.do(ctx, method, reqURL, payload, out)
	}

	retry := c.retry
	if retry.OnRetry == nil && retry.MaxAttempts > 1 {
		retry.OnRetry = resilience.RetryLogger("hubspot", method+" "+path)
	}

	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		if c.breaker == nil {
			return call(ctx)
		}
		return c.breaker.Execute(ctx, call)
	})
}

func (c *httpClient) do(ctx context.Context, method, reqURL string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "hubspot: %s %s", method, req.URL.Path)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hubspot: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, resp.Header, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "hubspot: decode %s response", req.URL.Path)
	}
	return nil
}
