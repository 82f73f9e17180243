package httptransport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouteOptions struct {
	BasePath string // e.g. /api/v1
	Metrics  bool   // expose /metrics
}

func Routes(h *Handler, opts RouteOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.log))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apiError{
			Code:    "route_not_found",
			Error:   "Not found",
			Message: "The requested resource does not exist.",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{
			Code:    "method_not_allowed",
			Error:   "Method not allowed",
			Message: "Method " + r.Method + " is not allowed on this resource.",
		})
	})

	base := "/" + strings.Trim(opts.BasePath, "/")
	if base == "/" {
		base = ""
	}

	api := func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/scan", func(r chi.Router) {
			r.Post("/start", h.StartJob)
			r.Get("/status/{job_id}", h.GetStatus)
			r.Get("/result/{job_id}", h.GetResult)
			r.Post("/cancel/{job_id}", h.CancelJob)
			r.Delete("/remove/{job_id}", h.RemoveJob)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/jobs", h.ListJobs)
			r.Get("/statistics", h.Statistics)
		})
	}
	if base == "" {
		api(r)
	} else {
		r.Route(base, api)
	}

	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
