package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"extraction-service/internal/apperror"
	"extraction-service/internal/entity"
	"extraction-service/internal/logging"
	"extraction-service/internal/service"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	jobSvc   *service.JobService
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewHandler(jobSvc *service.JobService, log *zerolog.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	v := validator.New()
	// report json field names in validation details
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{jobSvc: jobSvc, validate: v, log: log}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeErr(w, logging.With(r.Context(), h.log), err)
}

type startJobDTO struct {
	APIToken   string `json:"api_token" validate:"required" example:"test_token_valid_12345"`
	RecordType string `json:"record_type" validate:"omitempty,oneof=contacts users" example:"contacts"`
	Name       string `json:"name,omitempty" validate:"omitempty,max=255" example:"Nightly contacts"`
}

type startJobResp struct {
	JobID   string `json:"job_id"`
	Message string `json:"message" example:"Extraction job started"`
}

type jobResp struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status" example:"in_progress"`
	RecordType  string     `json:"record_type" example:"contacts"`
	RecordCount int        `json:"record_count"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func toJobResp(j *entity.Job) jobResp {
	return jobResp{
		ID:          j.ID.String(),
		Name:        j.Name,
		Status:      string(j.Status),
		RecordType:  string(j.RecordType),
		RecordCount: j.RecordCount,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

type resultItem struct {
	ID            string         `json:"id"`
	Data          map[string]any `json:"data"`
	CreatedAt     time.Time      `json:"created_at"`
	IDFromService *string        `json:"id_from_service"`
	Email         *string        `json:"email"`
	FirstName     *string        `json:"first_name"`
	LastName      *string        `json:"last_name"`
}

type resultResp struct {
	Data       []resultItem      `json:"data"`
	Pagination entity.Pagination `json:"pagination"`
}

type cancelResp struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

type jobListResp struct {
	Jobs       []jobResp         `json:"jobs"`
	Pagination entity.Pagination `json:"pagination"`
}

type statisticsResp struct {
	TotalJobs             int            `json:"total_jobs"`
	PendingJobs           int            `json:"pending_jobs"`
	InProgressJobs        int            `json:"in_progress_jobs"`
	CompletedJobs         int            `json:"completed_jobs"`
	FailedJobs            int            `json:"failed_jobs"`
	CancelledJobs         int            `json:"cancelled_jobs"`
	JobsByStatus          map[string]int `json:"jobs_by_status"`
	AverageProcessingTime *float64       `json:"average_processing_time"`
	AverageRecordCount    *float64       `json:"average_record_count"`
}

// StartJob godoc
// @Summary Start an extraction job
// @Description Validates the token, creates a pending job and schedules it for background execution.
// @Tags scan
// @Accept json
// @Produce json
// @Param request body startJobDTO true "extraction request"
// @Success 202 {object} startJobResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 500 {object} apiError
// @Router /scan/start [post]
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var dto startJobDTO
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&dto); err != nil {
		msg := "Request body must be a valid JSON object"
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty"
		}
		h.fail(w, r, apperror.Validation(msg, nil))
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		h.fail(w, r, validationError(err))
		return
	}

	job, err := h.jobSvc.StartJob(r.Context(), service.StartJobRequest{
		APIToken:   dto.APIToken,
		RecordType: dto.RecordType,
		Name:       dto.Name,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startJobResp{JobID: job.ID.String(), Message: "Extraction job started"})
}

// GetStatus godoc
// @Summary Get job status
// @Tags scan
// @Produce json
// @Param job_id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 404 {object} apiError
// @Router /scan/status/{job_id} [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(job))
}

// GetResult godoc
// @Summary Get extracted records
// @Description Only completed jobs have results; anything else is a conflict.
// @Tags scan
// @Produce json
// @Param job_id path string true "job id (uuid)"
// @Param page query int false "page number (default 1)"
// @Param per_page query int false "page size (default 100, max 1000)"
// @Success 200 {object} resultResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /scan/result/{job_id} [get]
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.jobSvc.GetResults(r.Context(), id, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]resultItem, len(res.Results))
	for i, rec := range res.Results {
		items[i] = resultItem{
			ID:            rec.ID.String(),
			Data:          rec.Data,
			CreatedAt:     rec.CreatedAt,
			IDFromService: rec.Data.String("id_from_service"),
			Email:         rec.Data.String("email"),
			FirstName:     rec.Data.String("first_name"),
			LastName:      rec.Data.String("last_name"),
		}
	}
	writeJSON(w, http.StatusOK, resultResp{Data: items, Pagination: res.Pagination})
}

// CancelJob godoc
// @Summary Cancel a pending or in-progress job
// @Tags scan
// @Produce json
// @Param job_id path string true "job id (uuid)"
// @Success 200 {object} cancelResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /scan/cancel/{job_id} [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.jobSvc.CancelJob(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResp{
		Message: fmt.Sprintf("Job %s has been cancelled", id),
		JobID:   id.String(),
	})
}

// RemoveJob godoc
// @Summary Delete a job and its results
// @Tags scan
// @Param job_id path string true "job id (uuid)"
// @Success 204
// @Failure 404 {object} apiError
// @Router /scan/remove/{job_id} [delete]
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.jobSvc.RemoveJob(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs godoc
// @Summary List jobs, newest first
// @Tags jobs
// @Produce json
// @Param status query string false "filter by status" Enums(pending, in_progress, completed, failed, cancelled)
// @Param page query int false "page number (default 1)"
// @Param per_page query int false "page size (default 100, max 1000)"
// @Success 200 {object} jobListResp
// @Failure 400 {object} apiError
// @Router /jobs/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status, err := parseStatusFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.jobSvc.ListJobs(r.Context(), status, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jobs := make([]jobResp, len(res.Jobs))
	for i, j := range res.Jobs {
		jobs[i] = toJobResp(j)
	}
	writeJSON(w, http.StatusOK, jobListResp{Jobs: jobs, Pagination: res.Pagination})
}

// Statistics godoc
// @Summary Aggregate job statistics
// @Tags jobs
// @Produce json
// @Success 200 {object} statisticsResp
// @Router /jobs/statistics [get]
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobSvc.Statistics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	byStatus := make(map[string]int, len(entity.AllStatuses))
	for _, st := range entity.AllStatuses {
		byStatus[string(st)] = stats.Count(st)
	}
	writeJSON(w, http.StatusOK, statisticsResp{
		TotalJobs:             stats.TotalJobs,
		PendingJobs:           stats.Count(entity.StatusPending),
		InProgressJobs:        stats.Count(entity.StatusInProgress),
		CompletedJobs:         stats.Count(entity.StatusCompleted),
		FailedJobs:            stats.Count(entity.StatusFailed),
		CancelledJobs:         stats.Count(entity.StatusCancelled),
		JobsByStatus:          byStatus,
		AverageProcessingTime: stats.AverageProcessingTime,
		AverageRecordCount:    stats.AverageRecordCount,
	})
}

// Health godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} service.HealthReport
// @Failure 503 {object} service.HealthReport
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rep := h.jobSvc.Health(r.Context())
	code := http.StatusOK
	if !rep.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// jobID parses the {job_id} URL param. Malformed ids can't name a job, so
// they are reported as not found.
func jobID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "job_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.JobNotFound(raw)
	}
	return id, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Validation("Invalid request data", nil)
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "This field is required and cannot be blank."
		case "oneof":
			details[fe.Field()] = "Must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ") + "."
		case "max":
			details[fe.Field()] = "Ensure this field has no more than " + fe.Param() + " characters."
		default:
			details[fe.Field()] = "Invalid value."
		}
	}
	if _, ok := details["api_token"]; ok && len(details) == 1 {
		return apperror.Validation("API token cannot be empty", details)
	}
	return apperror.Validation("Invalid request data", details)
}
