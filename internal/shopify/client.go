package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mixelka/replybot/internal/retry"
	"github.com/mixelka/replybot/pkg/models"
)

// Client is a Shopify Admin REST API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config for Shopify client
type Config struct {
	Store       string // e.g., myshop.myshopify.com; a full URL is used as is
	AccessToken string
	APIVersion  string // e.g., 2024-07
	Timeout     time.Duration
}

// APIError is a non-2xx answer from the Admin API
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (status %d)", e.Body, e.Status)
}

// Permanent reports whether retrying cannot help
func (e *APIError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

type ordersResponse struct {
	Orders []models.Order `json:"orders"`
}

// NewClient creates a new Shopify API client
func NewClient(cfg Config) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = "2024-07"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	base := strings.TrimSuffix(strings.TrimSpace(cfg.Store), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if base != "" {
		base += "/admin/api/" + version
	}

	return &Client{
		baseURL:    base,
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsConfigured returns true if the store and token are set
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.token != ""
}

// GetOrderByName looks an order up by its customer-facing name ("#1234"
// or "1234"). It returns nil without error when no order matches.
func (c *Client) GetOrderByName(ctx context.Context, name string) (*models.Order, error) {
	if !c.IsConfigured() {
		return nil, retry.Stop(fmt.Errorf("shopify not configured"))
	}

	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}

	q := url.Values{}
	q.Set("name", name)
	q.Set("status", "any")
	q.Set("limit", "1")

	var resp ordersResponse
	if err := c.get(ctx, "/orders.json?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Orders) == 0 {
		return nil, nil
	}
	return &resp.Orders[0], nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		if apiErr.Permanent() {
			return retry.Stop(apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
