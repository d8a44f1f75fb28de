package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"

	"github.com/ringdesk/ringdesk-backend/pkg/config"
)

// ErrInsufficientInventory signals the upstream pool cannot supply the
// requested number count.
var ErrInsufficientInventory = errors.New("telephony: insufficient upstream inventory")

// Provider is the provisioning surface consumed by the pool allocator.
type Provider interface {
	ProvisionNumbers(ctx context.Context, count int) ([]string, error)
	ReleaseNumber(ctx context.Context, number string) error
}

// Client talks to the telephony provider's REST API. Provisioning calls are
// gated by a semaphore so concurrent transitions don't race for the same
// upstream inventory.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	gate    *semaphore.Weighted
}

// NewClient builds a provider client from configuration.
func NewClient(cfg config.TelephonyConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("telephony base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telephony api key is required")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	rc.Logger = nil

	concurrency := cfg.MaxConcurrentProvisions
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Client{
		http:    rc,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		gate:    semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

type provisionRequest struct {
	Count int `json:"count"`
}

type provisionResponse struct {
	Numbers []string `json:"numbers"`
}

// ProvisionNumbers requests count fresh numbers from the shared pool.
// A short response is an inventory shortfall, not a partial success.
func (c *Client) ProvisionNumbers(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("telephony: count must be positive, got %d", count)
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)

	body, err := json.Marshal(provisionRequest{Count: count})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/numbers/provision", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return nil, ErrInsufficientInventory
	default:
		return nil, fmt.Errorf("telephony: provision returned %d", resp.StatusCode)
	}

	var decoded provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("telephony: decode provision response: %w", err)
	}
	if len(decoded.Numbers) < count {
		return nil, ErrInsufficientInventory
	}
	return decoded.Numbers[:count], nil
}

// ReleaseNumber returns a number to the upstream pool. Releasing an unknown
// number is treated as success so retried releases stay idempotent.
func (c *Client) ReleaseNumber(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return errors.New("telephony: number is required")
	}

	body, err := json.Marshal(map[string]string{"number": number})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/numbers/release", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("telephony: release returned %d", resp.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: %s %s: %w", method, path, err)
	}
	return resp, nil
}
