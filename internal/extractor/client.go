// Package extractor talks to the third-party service that owns the data being
// extracted. The orchestrator only sees the Client interface; the mock and
// HTTP implementations live side by side so tests can swap them freely.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"extraction-service/internal/config"
	"extraction-service/internal/entity"
)

var (
	ErrAuth                  = errors.New("authentication failed")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrUnavailable           = errors.New("external service unavailable")
	ErrUnsupportedRecordType = errors.New("unsupported record type")
)

type Client interface {
	Authenticate(ctx context.Context, token string) error
	Fetch(ctx context.Context, token string, recordType entity.RecordType) ([]entity.Record, error)
}

// Page is one page of the third-party list response.
type Page struct {
	Data       []entity.Record `json:"data"`
	Pagination PageInfo        `json:"pagination"`
}

type PageInfo struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

type pageFetcher interface {
	fetchPage(ctx context.Context, token string, rt entity.RecordType, page, perPage int) (*Page, error)
}

// fetchAll walks pages until has_more is false or maxPages is reached,
// pausing delay between pages.
func fetchAll(ctx context.Context, pf pageFetcher, token string, rt entity.RecordType, perPage, maxPages int, delay time.Duration) ([]entity.Record, error) {
	var all []entity.Record
	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
		p, err := pf.fetchPage(ctx, token, rt, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, p.Data...)
		if !p.Pagination.HasMore {
			break
		}
	}
	if all == nil {
		all = []entity.Record{}
	}
	return all, nil
}

// FailureMessage renders a client error the way it is stored on a failed Job.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "Authentication failed: " + err.Error()
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded: " + err.Error()
	case errors.Is(err, ErrUnavailable):
		return "External service unavailable: " + err.Error()
	default:
		return "Error fetching data: " + err.Error()
	}
}

// New builds the client named by cfg.Client.
func New(cfg config.ExtractionConfig) Client {
	if cfg.Client == config.ClientHTTP {
		return NewHTTPClient(cfg.BaseURL, cfg.Timeout, cfg.PageSize, cfg.MaxPages, cfg.PageDelay)
	}
	return NewMockClient(MockOptions{
		Latency:   cfg.Mock.Latency,
		PageDelay: cfg.PageDelay,
		Seed:      cfg.Mock.Seed,
		RateLimit: cfg.Mock.RateLimit,
		PageSize:  cfg.PageSize,
		MaxPages:  cfg.MaxPages,
	})
}
