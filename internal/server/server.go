package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"whisper-server/internal/device"
	"whisper-server/internal/domain"
	"whisper-server/internal/jobs"
	"whisper-server/internal/models"
	"whisper-server/internal/transcribe"
)

const defaultModel = "base"

// Server exposes the transcription job lifecycle over HTTP and SSE.
type Server struct {
	store    *jobs.Store
	executor *transcribe.Executor
	gate     *models.Provisioner
	device   *device.Context
}

// New wires the HTTP surface with its collaborators.
func New(store *jobs.Store, executor *transcribe.Executor, gate *models.Provisioner, deviceCtx *device.Context) *Server {
	return &Server{
		store:    store,
		executor: executor,
		gate:     gate,
		device:   deviceCtx,
	}
}

// Router builds the chi router with all endpoints mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/models", s.handleListModels)
	r.Post("/models/load", s.handleLoadModel)
	r.Get("/usage", s.handleUsage)
	r.Post("/transcribe", s.handleStartTranscribe)
	r.Delete("/transcribe/{jobID}", s.handleCancelTranscribe)
	r.Get("/transcribe/{jobID}/stream", s.handleStream)

	return r
}

// handleHealth reports process and device status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthInfo{
		Status:        "ok",
		CUDAAvailable: s.device.CUDAAvailable(),
		GPUName:       s.device.GPUName(),
		ModelLoaded:   s.device.LoadedModel(),
	})
}

// handleListModels returns the static model catalog.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Catalog())
}

// loadModelRequest is the model-load request body.
type loadModelRequest struct {
	Model string `json:"model"`
}

// handleLoadModel synchronously provisions a model and records it as loaded.
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req loadModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	if _, err := s.gate.EnsureLocal(r.Context(), req.Model); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.device.SetLoadedModel(req.Model)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"model":   req.Model,
	})
}

// handleUsage reports utilization of the active compute device.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.device.Usage(r.Context()))
}

// transcribeRequest is the job submission body.
type transcribeRequest struct {
	FilePath string `json:"file_path"`
	Model    string `json:"model"`
	Language string `json:"language"`
	StartMS  *int64 `json:"start_ms"`
	EndMS    *int64 `json:"end_ms"`
}

// handleStartTranscribe creates a job and dispatches it to a background
// worker, returning the job id immediately.
func (s *Server) handleStartTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultModel
	}

	var clip *domain.ClipRange
	if req.StartMS != nil {
		clip = &domain.ClipRange{StartSec: float64(*req.StartMS) / 1000.0}
		if req.EndMS != nil {
			clip.EndSec = float64(*req.EndMS) / 1000.0
			clip.HasEnd = true
		}
	}

	jobID := s.store.Create()
	log.Info().Str("job_id", jobID).Str("file", req.FilePath).Str("model", model).Msg("transcription job started")

	go s.executor.Run(context.Background(), jobID, transcribe.Request{
		FilePath: req.FilePath,
		Model:    model,
		Language: strings.TrimSpace(req.Language),
		Clip:     clip,
	})

	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// handleCancelTranscribe flags a job for cooperative cancellation. Always
// succeeds, including for unknown or already-finished jobs.
func (s *Server) handleCancelTranscribe(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	s.store.Cancel(jobID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// errorResponse is the JSON error body for failed requests.
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON writes a JSON response to the client.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a JSON error response with a diagnostic message.
func writeError(w http.ResponseWriter, statusCode int, detail string) {
	writeJSON(w, statusCode, errorResponse{Detail: detail})
}

// requestLogger logs one line per completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request completed")
	})
}
