package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/levelmind/levelmind-go/internal/download"
	apperrors "github.com/levelmind/levelmind-go/internal/errors"
	"github.com/levelmind/levelmind-go/internal/library"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/levelmind/levelmind-go/internal/store"
	"go.uber.org/zap"
)

const maxRequestBody = 64 * 1024

type catalogResponse struct {
	Connected bool                 `json:"connected"`
	Tracks    []library.TrackState `json:"tracks"`
}

// catalogEvent tells feed clients the catalog was refetched
type catalogEvent struct {
	Connected bool `json:"connected"`
	Tracks    int  `json:"tracks"`
}

type statsResponse struct {
	Jobs      *store.JobStats        `json:"jobs"`
	Active    int                    `json:"active"`
	Workers   int                    `json:"workers"`
	Transfers map[string]interface{} `json:"transfers"`
	Clients   int                    `json:"feed_clients"`
}

type submitJobRequest struct {
	DownloadURL string `json:"download_url"`
	SongID      string `json:"song_id"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	if appErr, ok := apperrors.AsAppError(err); ok {
		resp.Error = appErr.Message
		resp.Kind = string(appErr.Type)
		status = appErr.StatusCode
		// Upstream status codes are not ours to return
		if appErr.Type == apperrors.ErrTypeHTTP {
			status = http.StatusBadGateway
		}
	} else {
		switch {
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, download.ErrJobFinished), errors.Is(err, download.ErrJobNotScheduled):
			status = http.StatusConflict
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		kind := resp.Kind
		if kind == "" {
			kind = "internal"
		}
		monitoring.RecordError(kind)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	states, err := s.library.States(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, catalogResponse{
		Connected: s.library.Connected(),
		Tracks:    states,
	})
}

func (s *Server) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	err := s.library.Refresh(r.Context())
	s.notifier.BroadcastCustomMessage(download.MessageCatalog, catalogEvent{
		Connected: s.library.Connected(),
		Tracks:    len(s.library.Tracks()),
	})
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	s.handleCatalog(w, r)
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.library.ListDownloaded(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	track, err := s.library.GetDownloaded(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, track)
}

// handleDownloadProgress reports the live transfer state of a track
func (s *Server) handleDownloadProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stats := s.notifier.GetDownloadStats(id)
	if stats == nil {
		s.writeError(w, apperrors.NewNotFoundError("no transfer in progress for "+id))
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitJob queues a download. Without download_url the stream URL
// is taken from the catalog.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	req.SongID = sanitizeInput(req.SongID)
	req.DownloadURL = sanitizeInput(req.DownloadURL)

	if req.SongID == "" {
		s.writeError(w, apperrors.NewValidationError("song_id is required"))
		return
	}

	var (
		jobID string
		err   error
	)
	if req.DownloadURL == "" {
		jobID, err = s.library.Enqueue(r.Context(), req.SongID)
	} else {
		if err := validateSourceURL(req.DownloadURL); err != nil {
			s.writeError(w, apperrors.NewValidationError(err.Error()))
			return
		}
		jobID, err = s.scheduler.Submit(r.Context(), download.JobInput{
			DownloadURL: req.DownloadURL,
			SongID:      req.SongID,
		})
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: jobID})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scheduler.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scheduler.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Jobs:      jobs,
		Active:    s.scheduler.ActiveCount(),
		Workers:   s.scheduler.Concurrency(),
		Transfers: s.notifier.GetStats(),
		Clients:   s.notifier.GetClientCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if stats, err := s.scheduler.Stats(r.Context()); err == nil {
		pending = stats.Pending
	}

	check := s.health.Check(pending, s.scheduler.ActiveCount())

	status := http.StatusOK
	if check.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, check)
}
