package httptransport

import (
	"fmt"
	"net/http"
	"strconv"

	"extraction-service/internal/apperror"
	"extraction-service/internal/entity"
)

// parsePage reads ?page and ?per_page. Missing values take defaults and
// per_page is clamped to entity.MaxPerPage; anything else non-positive or
// non-numeric is rejected, as is a page past entity.MaxPage.
func parsePage(r *http.Request) (entity.PageRequest, error) {
	q := r.URL.Query()
	details := map[string]string{}

	page, ok := positiveInt(q.Get("page"), 1)
	switch {
	case !ok:
		details["page"] = "Must be a positive integer."
	case page > entity.MaxPage:
		details["page"] = fmt.Sprintf("Must not exceed %d.", entity.MaxPage)
	}
	perPage, ok := positiveInt(q.Get("per_page"), entity.DefaultPerPage)
	if !ok {
		details["per_page"] = "Must be a positive integer."
	}
	if len(details) > 0 {
		return entity.PageRequest{}, apperror.Validation("Invalid pagination parameters", details)
	}
	return entity.PageRequest{Page: page, PerPage: perPage}.Normalize(), nil
}

func positiveInt(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseStatusFilter(r *http.Request) (*entity.JobStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	st, ok := entity.ParseStatus(raw)
	if !ok {
		return nil, apperror.Validation("Invalid status filter", map[string]string{
			"status": "Must be one of: pending, in_progress, completed, failed, cancelled.",
		})
	}
	return &st, nil
}
