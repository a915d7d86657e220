// Package tiendanube is the REST client of the Tiendanube storefront API.
package tiendanube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockflow/internal/domain/stocksync"
	"stockflow/pkg/ratelimit"
)

const (
	DefaultBaseURL   = "https://api.tiendanube.com/v1"
	DefaultUserAgent = "stockflow (support@example.com)"

	maxErrorBody = 512
)

// Config holds the store credentials.
type Config struct {
	BaseURL     string
	StoreID     string
	AccessToken string
	UserAgent   string
	Timeout     time.Duration
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tiendanube %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

var _ stocksync.Client = (*Client)(nil)

// Client calls the store API. Every request waits its turn on the gate, which
// is shared by all callers of the store so the account budget is respected.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	gate      *ratelimit.Gate
}

// NewClient creates a client. gate must not be nil.
func NewClient(cfg Config, gate *ratelimit.Gate) (*Client, error) {
	if strings.TrimSpace(cfg.StoreID) == "" {
		return nil, errors.New("tiendanube store id is empty")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("tiendanube access token is empty")
	}
	if gate == nil {
		return nil, errors.New("tiendanube client requires a rate gate")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   base + "/" + url.PathEscape(cfg.StoreID),
		token:     cfg.AccessToken,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		gate:      gate,
	}, nil
}

// channelID accepts both numeric and string identifiers.
type channelID string

func (c *channelID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = channelID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = channelID(n.String())
	return nil
}

type variant struct {
	ID        channelID `json:"id"`
	ProductID channelID `json:"product_id"`
	SKU       string    `json:"sku"`
}

// FindVariantBySKU looks up GET /products/variants?sku=. The endpoint answers
// with a list or a single object; the first variant wins. A 404 means no match.
func (c *Client) FindVariantBySKU(ctx context.Context, sku string) (stocksync.Mapping, bool, error) {
	q := url.Values{"sku": []string{sku}}
	body, err := c.do(ctx, http.MethodGet, "/products/variants?"+q.Encode(), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return stocksync.Mapping{}, false, nil
		}
		return stocksync.Mapping{}, false, err
	}

	v, err := firstVariant(body)
	if err != nil {
		return stocksync.Mapping{}, false, fmt.Errorf("decode variants of %q: %w", sku, err)
	}
	m := stocksync.Mapping{ProductID: string(v.ProductID), VariantID: string(v.ID)}
	return m, m.Valid(), nil
}

func firstVariant(body []byte) (variant, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return variant{}, nil
	}
	if trimmed[0] == '[' {
		var list []variant
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return variant{}, err
		}
		if len(list) == 0 {
			return variant{}, nil
		}
		return list[0], nil
	}
	var v variant
	err := json.Unmarshal(trimmed, &v)
	return v, err
}

// UpdateVariantStock sends PUT /products/{product}/variants/{variant} with the new stock.
func (c *Client) UpdateVariantStock(ctx context.Context, m stocksync.Mapping, stock int64) error {
	if !m.Valid() {
		return fmt.Errorf("incomplete channel mapping %+v", m)
	}
	payload, err := json.Marshal(map[string]int64{"stock": stock})
	if err != nil {
		return err
	}
	path := "/products/" + url.PathEscape(m.ProductID) + "/variants/" + url.PathEscape(m.VariantID)
	_, err = c.do(ctx, http.MethodPut, path, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	// the gate may still be running fn after Do returns on cancellation
	out := make(chan []byte, 1)
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authentication", "bearer "+c.token)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("tiendanube %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read tiendanube response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := strings.TrimSpace(string(body))
			if len(msg) > maxErrorBody {
				msg = msg[:maxErrorBody]
			}
			return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
		}
		out <- body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return <-out, nil
}
