package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/grocky/ripeness-detector/internal/config"
	"github.com/grocky/ripeness-detector/internal/history"
	"github.com/grocky/ripeness-detector/internal/pipeline"
	"github.com/grocky/ripeness-detector/internal/state"
)

type runLister interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
}

// server exposes the run controller and the shared counts over HTTP.
type server struct {
	ctx       context.Context
	cfg       *config.Config
	ctrl      *pipeline.Controller
	runs      runLister
	statePath string
	hub       *hub
	logger    logrus.FieldLogger
}

// newServer returns a server whose runs and websocket hub live until ctx is
// done. runs may be nil when history is disabled.
func newServer(ctx context.Context, cfg *config.Config, ctrl *pipeline.Controller, runs runLister, logger logrus.FieldLogger) *server {
	return &server{
		ctx:       ctx,
		cfg:       cfg,
		ctrl:      ctrl,
		runs:      runs,
		statePath: cfg.State.Path,
		hub:       newHub(cfg.Server.AllowedOrigins, logger),
		logger:    logger.WithField("component", "server"),
	}
}

// start runs the websocket hub and the snapshot watcher until the server
// context is done.
func (s *server) start() {
	go s.hub.run(s.ctx)
	go func() {
		err := state.Watch(s.ctx, s.statePath, s.logger, func(c state.CountState, ok bool) {
			s.hub.publish("counts", newCountsView(c, ok))
		})
		if err != nil {
			s.logger.WithError(err).Error("snapshot watch stopped")
		}
	}()
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/stop", s.handleStop)
		r.Get("/status", s.handleStatus)
		r.Get("/counts", s.handleCounts)
		r.Get("/runs", s.handleRuns)
	})

	r.Get("/ws", s.hub.serveWS(s.ctx))

	if s.cfg.Pipeline.AnnotatePath != "" {
		dir := filepath.Dir(s.cfg.Pipeline.AnnotatePath)
		r.Handle("/frames/*", http.StripPrefix("/frames/", http.FileServer(http.Dir(dir))))
	}
	return r
}

type runRequest struct {
	Source *config.SourceConfig `json:"source,omitempty"`
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	src := s.cfg.Source
	if req.Source != nil {
		src = *req.Source
		// resolver settings are not accepted over HTTP
		src.Stream.Resolver = s.cfg.Source.Stream.Resolver
		src.Stream.ResolverArgs = s.cfg.Source.Stream.ResolverArgs
	}
	if err := src.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h, err := s.ctrl.Start(s.ctx, src)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.WithFields(logrus.Fields{"run_id": h.ID(), "source": h.Source()}).Info("run requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": h.ID(), "state": pipeline.Running.String()})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	h, err := s.ctrl.Stop()
	if errors.Is(err, pipeline.ErrNotRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": h.ID(), "state": pipeline.Stopping.String()})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type countsView struct {
	Counts      state.CountState `json:"counts"`
	Total       int              `json:"total"`
	Percentages state.Shares     `json:"percentages"`
	NoData      bool             `json:"no_data"`
}

func newCountsView(c state.CountState, ok bool) countsView {
	return countsView{
		Counts:      c,
		Total:       c.Total(),
		Percentages: c.Percentages(),
		NoData:      !ok || c.Total() == 0,
	}
}

func (s *server) handleCounts(w http.ResponseWriter, r *http.Request) {
	c, ok, err := state.ReadSnapshot(s.statePath)
	if err != nil {
		s.logger.WithError(err).Error("failed to read snapshot")
		writeError(w, http.StatusInternalServerError, "snapshot unreadable")
		return
	}
	writeJSON(w, http.StatusOK, newCountsView(c, ok))
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.runs.List(ctx, limit)
	if err != nil {
		s.logger.WithError(err).Error("failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
