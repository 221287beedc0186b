// Package api exposes uploads, prompt generation and history over HTTP.
package api

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"vidprompt/prompt"
	"vidprompt/upload"
)

type Server struct {
	Uploads *upload.Coordinator
	Prompts *prompt.Builder
	DB      *gorm.DB
	Metrics *Metrics
}

func NewServer(uploads *upload.Coordinator, prompts *prompt.Builder, dbConn *gorm.DB) *Server {
	return &Server{
		Uploads: uploads,
		Prompts: prompts,
		DB:      dbConn,
		Metrics: NewMetrics(),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload/start", s.startUpload).Methods("POST")
	api.HandleFunc("/upload/part", s.putPart).Methods("PUT")
	api.HandleFunc("/upload/complete", s.completeUpload).Methods("POST")
	api.HandleFunc("/upload/abort", s.abortUpload).Methods("POST")
	api.HandleFunc("/make-prompt", s.makePrompt).Methods("POST")
	api.HandleFunc("/history", s.listHistory).Methods("GET")
	api.HandleFunc("/history/{id}", s.getHistory).Methods("GET")
	api.HandleFunc("/history/{id}", s.deleteHistory).Methods("DELETE")

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, "not found")
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound

	r.Use(s.Metrics.instrument)
	return r
}

// Handler is the router wrapped with CORS, access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	h = recoverJSON(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, accessLog)
	return cors(h)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		fail(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	ok(w, map[string]any{"status": "ok"})
}
