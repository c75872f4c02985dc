// Package upstream ходит в hosted table/view API за строками patch, backup и security.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xela07ax/msp-compliance-console/internal/ingest"
)

const defaultRetryAfter = time.Second

// RowFetcher: всё, что умеет отдать строки одного представления.
type RowFetcher interface {
	FetchRows(ctx context.Context, view string, columns []string) ([]ingest.Row, error)
}

type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream: base url %q must be absolute", baseURL)
	}
	return &Client{
		baseURL: u,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// FetchRows выполняет GET {base}/rest/v1/{view}?select=...
func (c *Client) FetchRows(ctx context.Context, view string, columns []string) ([]ingest.Row, error) {
	u := c.baseURL.JoinPath("rest", "v1", view)
	q := url.Values{}
	if len(columns) == 0 {
		q.Set("select", "*")
	} else {
		q.Set("select", strings.Join(columns, ","))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, view, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("%s: status %d", view, resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: status %d", ErrUnavailable, view, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrRejected, view, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []ingest.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, view, err)
	}
	if rows == nil {
		rows = []ingest.Row{}
	}
	return rows, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
