// Package erp is the read-only client to the ERPNext system of record. It
// only fetches and decodes; all side effects live in the pipeline above it.
package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout bounds every outbound ERP call.
	DefaultTimeout = 10 * time.Second

	// defaultRetries is how many times a transient failure is retried
	// before giving up.
	defaultRetries = 2

	// retryInterval is the base backoff between attempts; it doubles per
	// attempt.
	retryInterval = 500 * time.Millisecond

	// maxImageBytes caps a single image download.
	maxImageBytes = 8 << 20
)

// Config configures the ERP client.
type Config struct {
	// BaseURL is the ERPNext server root (e.g., "https://erp.example.com").
	BaseURL string
	// APIKey and APISecret form the "token key:secret" Authorization pair.
	APIKey    string
	APISecret string
	// Timeout per request; DefaultTimeout when zero.
	Timeout time.Duration
	// Retries on transient failures; defaultRetries when zero, any negative
	// value disables retrying.
	Retries int
}

// Client fetches ERP entities over the ERPNext REST API.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	retries   int
	http      *http.Client
}

// NewClient creates an ERP client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		retries:   retries,
		http:      &http.Client{Timeout: timeout},
	}
}

// IndexEntry enumerates one published website item and the item codes of its
// variants. Prices and stock are tracked per item code, so a refresh expands
// every entry into its children.
type IndexEntry struct {
	Name      string   `json:"name"`
	ItemCodes []string `json:"item_codes"`
}

// Price is the two price tiers of an item.
type Price struct {
	Retail    float64 `json:"retail"`
	Wholesale float64 `json:"wholesale"`
}

// FetchProduct returns the raw ERP document of one published website item.
func (c *Client) FetchProduct(ctx context.Context, id string) (map[string]interface{}, error) {
	var out struct {
		Data map[string]interface{} `json:"data"`
	}
	path := "/api/resource/Website Item/" + url.PathEscape(id)
	if err := c.getJSON(ctx, "fetch product", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FetchAllProductIndex enumerates every published item with its variant
// descriptors.
func (c *Client) FetchAllProductIndex(ctx context.Context) ([]IndexEntry, error) {
	var out struct {
		Message []IndexEntry `json:"message"`
	}
	if err := c.getJSON(ctx, "fetch product index", "/api/method/edge_sync.published_index", nil, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// FetchItemPrice returns the retail/wholesale tiers of an item code. A
// missing tier decodes as zero.
func (c *Client) FetchItemPrice(ctx context.Context, itemCode string) (Price, error) {
	var out struct {
		Message Price `json:"message"`
	}
	query := url.Values{"item_code": {itemCode}}
	if err := c.getJSON(ctx, "fetch item price", "/api/method/edge_sync.item_price", query, &out); err != nil {
		return Price{}, err
	}
	return out.Message, nil
}

// FetchItemStockWarehouses returns the names of the warehouses currently
// holding stock of an item code.
func (c *Client) FetchItemStockWarehouses(ctx context.Context, itemCode string) ([]string, error) {
	var out struct {
		Message []string `json:"message"`
	}
	query := url.Values{"item_code": {itemCode}}
	if err := c.getJSON(ctx, "fetch item stock", "/api/method/edge_sync.item_stock_warehouses", query, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// FetchHeroImageURLs returns the current hero carousel image URLs.
func (c *Client) FetchHeroImageURLs(ctx context.Context) ([]string, error) {
	return c.fetchImageURLs(ctx, "fetch hero images", "/api/method/edge_sync.hero_images")
}

// FetchBundleImageURLs returns the current bundle banner image URLs.
func (c *Client) FetchBundleImageURLs(ctx context.Context) ([]string, error) {
	return c.fetchImageURLs(ctx, "fetch bundle images", "/api/method/edge_sync.bundle_images")
}

func (c *Client) fetchImageURLs(ctx context.Context, op, path string) ([]string, error) {
	var out struct {
		Message []string `json:"message"`
	}
	if err := c.getJSON(ctx, op, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// FetchAppHomeRaw returns the curated app-home document as the ERP stores it.
func (c *Client) FetchAppHomeRaw(ctx context.Context) (map[string]interface{}, error) {
	var out struct {
		Message map[string]interface{} `json:"message"`
	}
	if err := c.getJSON(ctx, "fetch app home", "/api/method/edge_sync.app_home", nil, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// FetchImage downloads one image blob and returns its bytes and content
// type. Relative URLs resolve against the ERP base URL.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	target := imageURL
	if u, err := url.Parse(imageURL); err == nil && !u.IsAbs() {
		target = c.baseURL + imageURL
	}

	body, contentType, err := c.doWithRetry(ctx, "fetch image", target)
	if err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, target interface{}) error {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	body, _, err := c.doWithRetry(ctx, op, full)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &Error{Kind: KindPermanent, Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// doWithRetry performs a GET with bounded retries on transient failures.
// Client errors are never retried.
func (c *Client) doWithRetry(ctx context.Context, op, target string) ([]byte, string, error) {
	var lastErr error
	attempts := c.retries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		body, contentType, err := c.doOnce(ctx, op, target)
		if err == nil {
			return body, contentType, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, "", err
		}
		if attempt == attempts-1 {
			break
		}

		backoff := retryInterval * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, "", &Error{Kind: KindTransient, Op: op, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return nil, "", lastErr
}

func (c *Client) doOnce(ctx context.Context, op, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &Error{Kind: KindPermanent, Op: op, Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", &Error{Kind: KindNotFound, Op: op, Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, "", &Error{Kind: KindTransient, Op: op, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, "", &Error{Kind: KindPermanent, Op: op, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", &Error{Kind: KindTransient, Op: op, Err: err}
	}
	return body, resp.Header.Get("Content-Type"), nil
}
