package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extraction-service/internal/config"
	"extraction-service/internal/entity"
	"extraction-service/internal/extractor"
	"extraction-service/internal/repository/memory"
	"extraction-service/internal/service"
	httptransport "extraction-service/internal/transport/http"
	"extraction-service/internal/worker"
)

const validToken = "test_token_valid_12345"

type testAPI struct {
	router http.Handler
	repo   *memory.Store
	queue  *service.MemoryQueue
	mock   *extractor.MockClient
}

type apiOpts struct {
	latency     time.Duration
	withWorkers bool
}

func newTestAPI(t *testing.T, o apiOpts) *testAPI {
	t.Helper()
	repo := memory.New()
	queue := service.NewMemoryQueue(64)
	mock := extractor.NewMockClient(extractor.MockOptions{Seed: 42, PageSize: 5, Latency: o.latency})
	registry := service.NewRegistry(100)

	// the start path authenticates synchronously; keep it fast
	svc := service.NewJobService(repo, queue, mock, registry, service.Options{SkipAuthOnStart: o.latency > 0, Version: "test"})
	h := httptransport.NewHandler(svc, nil)

	if o.withWorkers {
		proc := worker.NewProcessor(repo, mock, registry, nil)
		pool := worker.NewPool(queue, proc, 2, 20*time.Millisecond, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = pool.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	return &testAPI{
		router: httptransport.Routes(h, httptransport.RouteOptions{BasePath: "/api/v1"}),
		repo:   repo,
		queue:  queue,
		mock:   mock,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type errBody struct {
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func (a *testAPI) seed(t *testing.T, status entity.JobStatus) *entity.Job {
	t.Helper()
	ctx := context.Background()
	job := &entity.Job{Name: "seeded", RecordType: entity.RecordContacts}
	require.NoError(t, a.repo.Create(ctx, job))
	if status == entity.StatusPending {
		return job
	}
	now := time.Now().UTC()
	_, err := a.repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusInProgress, StartedAt: &now})
	require.NoError(t, err)
	switch status {
	case entity.StatusCompleted:
		recs := []entity.Record{
			{"id_from_service": "contact_1", "email": "a@example.com", "first_name": "Ada", "last_name": "Lovelace"},
			{"id_from_service": "contact_2", "email": "b@example.com", "first_name": "Alan", "last_name": "Turing"},
			{"id_from_service": "contact_3", "email": "c@example.com"},
		}
		_, err = a.repo.Complete(ctx, job.ID, recs, now)
	case entity.StatusFailed:
		msg := "External service unavailable: down"
		_, err = a.repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusInProgress},
			entity.JobPatch{Status: entity.StatusFailed, CompletedAt: &now, Error: &msg})
	case entity.StatusCancelled:
		_, err = a.repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusInProgress},
			entity.JobPatch{Status: entity.StatusCancelled, CompletedAt: &now})
	}
	require.NoError(t, err)
	return job
}

// ---- start ----

func TestHTTP_Start_202(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	rr := a.do(t, http.MethodPost, "/scan/start", map[string]string{"api_token": validToken, "record_type": "contacts"})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	body := decode[map[string]string](t, rr)
	assert.Equal(t, "Extraction job started", body["message"])
	id, err := uuid.Parse(body["job_id"])
	require.NoError(t, err)

	job, err := a.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, job.Status)
	assert.Equal(t, 1, a.queue.Len())
}

func TestHTTP_Start_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"empty token", map[string]string{"api_token": "", "record_type": "contacts"}, http.StatusBadRequest, "validation_failed"},
		{"blank token", map[string]string{"api_token": "   ", "record_type": "contacts"}, http.StatusBadRequest, "validation_failed"},
		{"missing token", map[string]string{"record_type": "contacts"}, http.StatusBadRequest, "validation_failed"},
		{"malformed json", `{"api_token":`, http.StatusBadRequest, "validation_failed"},
		{"empty body", nil, http.StatusBadRequest, "validation_failed"},
		{"bad record type", map[string]string{"api_token": validToken, "record_type": "orders"}, http.StatusBadRequest, "validation_failed"},
		{"malformed token", map[string]string{"api_token": "bad token!"}, http.StatusUnauthorized, "invalid_token"},
		{"unknown token", map[string]string{"api_token": "invalid_token_12345"}, http.StatusUnauthorized, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, apiOpts{})
			rr := a.do(t, http.MethodPost, "/scan/start", tt.body)
			require.Equal(t, tt.code, rr.Code, rr.Body.String())
			body := decode[errBody](t, rr)
			assert.Equal(t, tt.err, body.Code)
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.Zero(t, a.queue.Len(), "nothing may be scheduled")
		})
	}
}

func TestHTTP_Start_TokenErrorsMentionToken(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	for _, tok := range []string{"", "bad token!", "invalid_token_12345"} {
		rr := a.do(t, http.MethodPost, "/scan/start", map[string]string{"api_token": tok})
		body := decode[errBody](t, rr)
		assert.Contains(t, strings.ToLower(body.Message), "token", tok)
	}
}

// ---- status ----

func TestHTTP_Status(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	job := a.seed(t, entity.StatusFailed)

	rr := a.do(t, http.MethodGet, "/scan/status/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, job.ID.String(), body["id"])
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "contacts", body["record_type"])
	assert.Equal(t, "External service unavailable: down", body["error"])
	for _, k := range []string{"name", "record_count", "created_at", "updated_at", "started_at", "completed_at"} {
		assert.Contains(t, body, k)
	}
	assert.NotContains(t, body, "api_token")
}

func TestHTTP_Status_NotFound(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		rr := a.do(t, http.MethodGet, "/scan/status/"+id, nil)
		require.Equal(t, http.StatusNotFound, rr.Code, id)
		body := decode[errBody](t, rr)
		assert.Equal(t, "job_not_found", body.Code)
		assert.Equal(t, "Job not found", body.Error)
	}
}

// ---- result ----

func TestHTTP_Result(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	job := a.seed(t, entity.StatusCompleted)

	rr := a.do(t, http.MethodGet, "/scan/result/"+job.ID.String()+"?page=1&per_page=2", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Data []struct {
			ID            string         `json:"id"`
			Data          map[string]any `json:"data"`
			IDFromService *string        `json:"id_from_service"`
			Email         *string        `json:"email"`
			FirstName     *string        `json:"first_name"`
			LastName      *string        `json:"last_name"`
		} `json:"data"`
		Pagination entity.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "contact_1", *body.Data[0].IDFromService)
	assert.Equal(t, "a@example.com", *body.Data[0].Email)
	assert.Equal(t, "Ada", *body.Data[0].FirstName)
	assert.Equal(t, entity.Pagination{Page: 1, PerPage: 2, Total: 3, TotalPages: 2, HasMore: true}, body.Pagination)

	rr = a.do(t, http.MethodGet, "/scan/result/"+job.ID.String()+"?page=2&per_page=2", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Nil(t, body.Data[0].FirstName)
	assert.False(t, body.Pagination.HasMore)
}

func TestHTTP_Result_ConflictUnlessCompleted(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	for _, st := range []entity.JobStatus{entity.StatusPending, entity.StatusInProgress, entity.StatusFailed, entity.StatusCancelled} {
		job := a.seed(t, st)
		rr := a.do(t, http.MethodGet, "/scan/result/"+job.ID.String(), nil)
		require.Equal(t, http.StatusConflict, rr.Code, st)
		body := decode[errBody](t, rr)
		assert.Equal(t, "job_not_completed", body.Code)
		assert.Contains(t, body.Message, string(st))
		assert.NotContains(t, rr.Body.String(), `"data"`)
	}
}

func TestHTTP_Result_Pagination(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	job := a.seed(t, entity.StatusCompleted)
	base := "/scan/result/" + job.ID.String()

	for _, q := range []string{"?page=0", "?page=-1", "?page=abc", "?per_page=0", "?per_page=x"} {
		rr := a.do(t, http.MethodGet, base+q, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		assert.Equal(t, "validation_failed", decode[errBody](t, rr).Code)
	}

	rr := a.do(t, http.MethodGet, base+"?per_page=5000", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Pagination entity.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, entity.MaxPerPage, body.Pagination.PerPage)

	rr = a.do(t, http.MethodGet, base+"?page=99", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"data":[]`)
}

// ---- cancel ----

func TestHTTP_Cancel_Pending(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	job := a.seed(t, entity.StatusPending)

	rr := a.do(t, http.MethodPost, "/scan/cancel/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[map[string]string](t, rr)
	assert.Equal(t, job.ID.String(), body["job_id"])
	assert.Contains(t, body["message"], "cancelled")

	rr = a.do(t, http.MethodGet, "/scan/status/"+job.ID.String(), nil)
	assert.Equal(t, "cancelled", decode[map[string]any](t, rr)["status"])
}

func TestHTTP_Cancel_TerminalIsConflict(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	for _, st := range []entity.JobStatus{entity.StatusCompleted, entity.StatusFailed, entity.StatusCancelled} {
		job := a.seed(t, st)
		rr := a.do(t, http.MethodPost, "/scan/cancel/"+job.ID.String(), nil)
		require.Equal(t, http.StatusConflict, rr.Code, st)
		body := decode[errBody](t, rr)
		assert.Equal(t, "job_not_cancellable", body.Code)
		assert.Equal(t, "Cannot cancel job", body.Error)

		rr = a.do(t, http.MethodGet, "/scan/status/"+job.ID.String(), nil)
		assert.Equal(t, string(st), decode[map[string]any](t, rr)["status"], "status must not change")
	}

	rr := a.do(t, http.MethodPost, "/scan/cancel/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// ---- remove ----

func TestHTTP_Remove(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	job := a.seed(t, entity.StatusCompleted)
	path := "/scan/remove/" + job.ID.String()

	rr := a.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = a.do(t, http.MethodGet, "/scan/status/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "job_not_found", decode[errBody](t, rr).Code)
}

// ---- list & statistics ----

func TestHTTP_ListJobs(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	a.seed(t, entity.StatusPending)
	a.seed(t, entity.StatusCompleted)
	a.seed(t, entity.StatusCompleted)

	rr := a.do(t, http.MethodGet, "/jobs/jobs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Jobs       []map[string]any  `json:"jobs"`
		Pagination entity.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Jobs, 3)
	assert.Equal(t, 3, body.Pagination.Total)

	rr = a.do(t, http.MethodGet, "/jobs/jobs?status=completed&per_page=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Jobs, 1)
	assert.Equal(t, "completed", body.Jobs[0]["status"])
	assert.Equal(t, 2, body.Pagination.Total)
	assert.True(t, body.Pagination.HasMore)

	rr = a.do(t, http.MethodGet, "/jobs/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTP_HugePageIsRejected(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	job := a.seed(t, entity.StatusCompleted)

	for _, path := range []string{
		"/jobs/jobs?page=9223372036854775807&per_page=1000",
		"/jobs/jobs?page=" + strconv.Itoa(entity.MaxPage+1),
		"/jobs/jobs?page=99999999999999999999",
		"/scan/result/" + job.ID.String() + "?page=9223372036854775807",
	} {
		rr := a.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, path)
		body := decode[errBody](t, rr)
		assert.Equal(t, "validation_failed", body.Code)
		assert.Contains(t, body.Details, "page")
	}

	// the largest accepted page is simply past the end
	rr := a.do(t, http.MethodGet, "/jobs/jobs?per_page=1000&page="+strconv.Itoa(entity.MaxPage), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"jobs":[]`)
}

func TestHTTP_Statistics(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	rr := a.do(t, http.MethodGet, "/jobs/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	empty := decode[map[string]any](t, rr)
	assert.EqualValues(t, 0, empty["total_jobs"])
	assert.Nil(t, empty["average_processing_time"])

	a.seed(t, entity.StatusPending)
	a.seed(t, entity.StatusCompleted)
	a.seed(t, entity.StatusFailed)

	rr = a.do(t, http.MethodGet, "/jobs/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.EqualValues(t, 3, body["total_jobs"])
	assert.EqualValues(t, 1, body["pending_jobs"])
	assert.EqualValues(t, 1, body["completed_jobs"])
	assert.EqualValues(t, 1, body["failed_jobs"])
	assert.EqualValues(t, 0, body["cancelled_jobs"])
	byStatus, ok := body["jobs_by_status"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, byStatus, 5)
	assert.EqualValues(t, 3, body["average_record_count"])
}

// ---- health & plumbing ----

func TestHTTP_Health(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	rr := a.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", checks["database"])
}

type downQueue struct{ *service.MemoryQueue }

func (downQueue) Ping(context.Context) error { return errors.New("connection refused") }

func TestHTTP_Health_Unavailable(t *testing.T) {
	repo := memory.New()
	mock := extractor.NewMockClient(extractor.MockOptions{Seed: 1})
	svc := service.NewJobService(repo, downQueue{service.NewMemoryQueue(1)}, mock, service.NewRegistry(10), service.Options{})
	router := httptransport.Routes(httptransport.NewHandler(svc, nil), httptransport.RouteOptions{BasePath: "/api/v1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "unhealthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Contains(t, checks["queue"], "connection refused")
}

func TestHTTP_UnknownRouteAndBasePath(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "endpoints live under the base path")
	assert.Equal(t, "route_not_found", decode[errBody](t, rr).Code)
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	rr := a.do(t, http.MethodGet, "/scan/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHTTP_ErrorWordingIsStable(t *testing.T) {
	a := newTestAPI(t, apiOpts{})
	id := uuid.NewString()
	var first errBody
	for i, req := range []struct{ method, path string }{
		{http.MethodGet, "/scan/status/" + id},
		{http.MethodGet, "/scan/result/" + id},
		{http.MethodPost, "/scan/cancel/" + id},
		{http.MethodDelete, "/scan/remove/" + id},
	} {
		rr := a.do(t, req.method, req.path, nil)
		require.Equal(t, http.StatusNotFound, rr.Code, req.path)
		body := decode[errBody](t, rr)
		if i == 0 {
			first = body
			continue
		}
		assert.Equal(t, first, body, req.path)
	}
}

// ---- end to end ----

func TestHTTP_StartPollResult(t *testing.T) {
	a := newTestAPI(t, apiOpts{latency: 30 * time.Millisecond, withWorkers: true})

	rr := a.do(t, http.MethodPost, "/scan/start", map[string]string{"api_token": validToken, "record_type": "contacts"})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := decode[map[string]string](t, rr)["job_id"]

	rr = a.do(t, http.MethodGet, "/scan/status/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	first := decode[map[string]any](t, rr)["status"]
	assert.NotEqual(t, "completed", first, "first read must not already be completed")

	seen := map[string]bool{}
	require.Eventually(t, func() bool {
		rr := a.do(t, http.MethodGet, "/scan/status/"+id, nil)
		st, _ := decode[map[string]any](t, rr)["status"].(string)
		seen[st] = true
		return st == "completed"
	}, 10*time.Second, 10*time.Millisecond)

	rr = a.do(t, http.MethodGet, "/scan/result/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data       []map[string]any  `json:"data"`
		Pagination entity.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data)
	assert.Equal(t, 15, body.Pagination.Total, "3 pages of 5")
	assert.False(t, seen["failed"])
}

func TestHTTP_FirstReadWithDefaultConfig(t *testing.T) {
	cfg, err := config.Load("", false)
	require.NoError(t, err)

	repo := memory.New()
	queue := service.NewMemoryQueue(cfg.Queue.Size)
	client := extractor.New(cfg.Extraction)
	registry := service.NewRegistry(cfg.Worker.MaxActive)
	svc := service.NewJobService(repo, queue, client, registry, service.Options{Version: "test"})
	router := httptransport.Routes(httptransport.NewHandler(svc, nil), httptransport.RouteOptions{BasePath: "/api/v1"})

	pool := worker.NewPool(queue, worker.NewProcessor(repo, client, registry, nil), cfg.Worker.Count, cfg.Worker.ClaimTimeout, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	a := &testAPI{router: router, repo: repo, queue: queue}
	ids := make([]string, 10)
	for i := range ids {
		rr := a.do(t, http.MethodPost, "/scan/start", map[string]string{"api_token": validToken})
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		ids[i] = decode[map[string]string](t, rr)["job_id"]

		rr = a.do(t, http.MethodGet, "/scan/status/"+ids[i], nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotEqual(t, "completed", decode[map[string]any](t, rr)["status"], "job %d", i+1)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			rr := a.do(t, http.MethodGet, "/scan/status/"+id, nil)
			if decode[map[string]any](t, rr)["status"] != "completed" {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)
}

func TestHTTP_CancelWhileRunning(t *testing.T) {
	a := newTestAPI(t, apiOpts{latency: 200 * time.Millisecond, withWorkers: true})

	rr := a.do(t, http.MethodPost, "/scan/start", map[string]string{"api_token": validToken})
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decode[map[string]string](t, rr)["job_id"]

	require.Eventually(t, func() bool {
		rr := a.do(t, http.MethodGet, "/scan/status/"+id, nil)
		return decode[map[string]any](t, rr)["status"] == "in_progress"
	}, 5*time.Second, 5*time.Millisecond)

	rr = a.do(t, http.MethodPost, "/scan/cancel/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// give the worker time to reach its next checkpoint
	time.Sleep(time.Second)
	rr = a.do(t, http.MethodGet, "/scan/status/"+id, nil)
	status := decode[map[string]any](t, rr)
	assert.Equal(t, "cancelled", status["status"])
	assert.EqualValues(t, 0, status["record_count"])

	rr = a.do(t, http.MethodGet, "/scan/result/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
