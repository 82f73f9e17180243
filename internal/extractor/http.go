package extractor

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

	"extraction-service/internal/entity"
)

// HTTPClient pulls records from the real third-party REST API.
//
//	GET {base}/auth/verify                       bearer token check
//	GET {base}/{record_type}?page=N&per_page=M   one page of records
type HTTPClient struct {
	baseURL   string
	pageSize  int
	maxPages  int
	pageDelay time.Duration
	client    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration, pageSize, maxPages int, pageDelay time.Duration) *HTTPClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 10
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageSize:  pageSize,
		maxPages:  maxPages,
		pageDelay: pageDelay,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Authenticate(ctx context.Context, token string) error {
	resp, err := c.get(ctx, token, c.baseURL+"/auth/verify")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return statusError(resp.StatusCode)
}

func (c *HTTPClient) Fetch(ctx context.Context, token string, rt entity.RecordType) ([]entity.Record, error) {
	if _, ok := entity.ParseRecordType(string(rt)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRecordType, rt)
	}
	return fetchAll(ctx, c, token, rt, c.pageSize, c.maxPages, c.pageDelay)
}

func (c *HTTPClient) fetchPage(ctx context.Context, token string, rt entity.RecordType, page, perPage int) (*Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(string(rt)), q.Encode())

	resp, err := c.get(ctx, token, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &p, nil
}

func (c *HTTPClient) get(ctx context.Context, token, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, code)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}
