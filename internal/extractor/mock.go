package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"extraction-service/internal/entity"
)

type FailureMode string

const (
	FailNone        FailureMode = ""
	FailAuth        FailureMode = "auth"
	FailFetch       FailureMode = "fetch"
	FailUnavailable FailureMode = "unavailable"
)

// DefaultMockTokens are accepted by MockClient out of the box.
var DefaultMockTokens = []string{
	"test_token_valid_12345",
	"valid_api_key_abc",
	"test_access_token_xyz",
}

type MockOptions struct {
	Latency   time.Duration // per request
	PageDelay time.Duration // pause between pages of one Fetch
	Seed      uint64        // 0 = random
	RateLimit int           // page requests per Fetch before ErrRateLimited
	PageSize  int
	Pages     int // pages served before has_more=false
	MaxPages  int
	Tokens    []string
}

// MockClient simulates the third-party API: token auth, paginated data,
// latency, rate limiting and injected failures. Records are generated from a
// seeded faker so a fixed seed yields the same data every run.
type MockClient struct {
	mu        sync.Mutex
	tokens    map[string]struct{}
	failure   FailureMode
	requests  int
	rateLimit int
	latency   time.Duration
	pageDelay time.Duration
	pageSize  int
	pages     int
	maxPages  int
	faker     *gofakeit.Faker
}

func NewMockClient(opts MockOptions) *MockClient {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Pages <= 0 {
		opts.Pages = 3
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if len(opts.Tokens) == 0 {
		opts.Tokens = DefaultMockTokens
	}

	tokens := make(map[string]struct{}, len(opts.Tokens))
	for _, t := range opts.Tokens {
		tokens[t] = struct{}{}
	}

	return &MockClient{
		tokens:    tokens,
		rateLimit: opts.RateLimit,
		latency:   opts.Latency,
		pageDelay: opts.PageDelay,
		pageSize:  opts.PageSize,
		pages:     opts.Pages,
		maxPages:  opts.MaxPages,
		faker:     gofakeit.New(opts.Seed),
	}
}

func (m *MockClient) Authenticate(ctx context.Context, token string) error {
	if err := m.checkAuth(token); err != nil {
		return err
	}
	return sleepCtx(ctx, m.currentLatency())
}

func (m *MockClient) Fetch(ctx context.Context, token string, rt entity.RecordType) ([]entity.Record, error) {
	if _, ok := entity.ParseRecordType(string(rt)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRecordType, rt)
	}
	m.mu.Lock()
	perPage, maxPages, delay := m.pageSize, m.maxPages, m.pageDelay
	m.mu.Unlock()
	return fetchAll(ctx, &mockSession{m: m}, token, rt, perPage, maxPages, delay)
}

// mockSession is one extraction's view of the mock API. The rate limit
// applies per session, so a long-running process never exhausts it.
type mockSession struct {
	m    *MockClient
	sent int
}

func (s *mockSession) fetchPage(ctx context.Context, token string, rt entity.RecordType, page, perPage int) (*Page, error) {
	s.sent++
	return s.m.fetchPage(ctx, token, rt, page, perPage, s.sent)
}

func (m *MockClient) fetchPage(ctx context.Context, token string, rt entity.RecordType, page, perPage, sent int) (*Page, error) {
	if err := m.checkAuth(token); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests++
	if sent > m.rateLimit {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: please try again later", ErrRateLimited)
	}
	if m.failure == FailFetch {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: failed to fetch data", ErrUnavailable)
	}
	latency := m.latency
	hasMore := page < m.pages
	m.mu.Unlock()

	if err := sleepCtx(ctx, latency); err != nil {
		return nil, err
	}

	total := perPage
	if hasMore {
		total = perPage * 2
	}
	return &Page{
		Data: m.generate(rt, perPage),
		Pagination: PageInfo{
			Page:    page,
			PerPage: perPage,
			Total:   total,
			HasMore: hasMore,
		},
	}, nil
}

func (m *MockClient) checkAuth(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.failure {
	case FailUnavailable:
		return fmt.Errorf("%w: service is currently unavailable", ErrUnavailable)
	case FailAuth:
		return fmt.Errorf("%w: service error", ErrAuth)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: empty or missing API token", ErrAuth)
	}
	if _, ok := m.tokens[token]; !ok {
		return fmt.Errorf("%w: invalid API token", ErrAuth)
	}
	return nil
}

func (m *MockClient) generate(rt entity.RecordType, count int) []entity.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.faker
	out := make([]entity.Record, 0, count)
	for i := 0; i < count; i++ {
		first, last := f.FirstName(), f.LastName()
		rec := entity.Record{
			"email":      f.Email(),
			"first_name": first,
			"last_name":  last,
			"created_at": f.Date().UTC().Format(time.RFC3339),
		}
		switch rt {
		case entity.RecordUsers:
			rec["id_from_service"] = "user_" + f.UUID()
			rec["username"] = fmt.Sprintf("%s.%s%d", strings.ToLower(first), strings.ToLower(last), i)
			rec["role"] = nil
			if i%3 == 0 {
				rec["role"] = f.RandomString([]string{"admin", "user", "viewer", "editor"})
			}
			rec["last_login"] = nil
			if i%2 == 0 {
				rec["last_login"] = f.Date().UTC().Format(time.RFC3339)
			}
		default:
			rec["id_from_service"] = "contact_" + f.UUID()
			rec["updated_at"] = f.Date().UTC().Format(time.RFC3339)
			rec["phone"] = nil
			if i%3 == 0 {
				rec["phone"] = f.Phone()
			}
			rec["company"] = nil
			if i%2 == 0 {
				rec["company"] = f.Company()
			}
		}
		out = append(out, rec)
	}
	return out
}

func (m *MockClient) currentLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}

// SimulateFailure makes subsequent calls fail in the given way.
func (m *MockClient) SimulateFailure(mode FailureMode) {
	m.mu.Lock()
	m.failure = mode
	m.mu.Unlock()
}

// Restore clears any injected failure.
func (m *MockClient) Restore() {
	m.SimulateFailure(FailNone)
}

func (m *MockClient) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

func (m *MockClient) SetRateLimit(n int) {
	m.mu.Lock()
	m.rateLimit = n
	m.mu.Unlock()
}

// Requests reports page requests served over the client's lifetime.
func (m *MockClient) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
