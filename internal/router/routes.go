package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinoosan/fetchq/api/v1"
	"github.com/tinoosan/fetchq/internal/auth"
	"github.com/tinoosan/fetchq/internal/extract"
	"github.com/tinoosan/fetchq/internal/repo"
	"github.com/tinoosan/fetchq/internal/service"
)

// Deps are the collaborators the routes serve.
type Deps struct {
	Queue     service.Queue
	Extractor extract.Extractor
	// Ready is pinged by /readyz. Nil means always ready.
	Ready repo.Pinger
	// Token is the bearer token for /v1.
	Token string
}

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, deps Deps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", "err", err)
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h := v1.NewHandler(logger, deps.Queue, deps.Extractor)

	r.Use(v1.RequestID)
	r.Use(h.Log)
	r.Use(auth.Middleware(deps.Token))

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/tasks", h.ListTasks)
	get.HandleFunc("/tasks/{id}", h.GetTask)
	get.HandleFunc("/progress", h.Progress)
	get.HandleFunc("/events", h.Events)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/tasks", h.AddTasks)
	post.HandleFunc("/extract", h.Extract)
	post.HandleFunc("/queue/{action:start|pause|cancel|clear}", h.QueueAction)

	// PATCHes
	api.HandleFunc("/tasks/{id}", h.UpdateTask).Methods("PATCH")

	// DELETEs
	api.HandleFunc("/tasks/{id}", h.DeleteTask).Methods("DELETE")

	return r
}
