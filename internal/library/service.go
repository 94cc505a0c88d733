package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/levelmind/levelmind-go/internal/catalog"
	"github.com/levelmind/levelmind-go/internal/download"
	apperrors "github.com/levelmind/levelmind-go/internal/errors"
	"github.com/levelmind/levelmind-go/internal/store"
	"go.uber.org/zap"
)

// Track affordances shown next to a catalog entry
const (
	ActionDownload   = "download"
	ActionDownloaded = "downloaded"
)

// CatalogSource fetches the remote song list
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]catalog.Track, error)
}

// JobSubmitter queues download jobs
type JobSubmitter interface {
	Submit(ctx context.Context, input download.JobInput) (string, error)
}

// Registry is the read and delete side of the local registry
type Registry interface {
	IsDownloaded(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (store.DownloadedTrack, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]store.DownloadedTrack, error)
	Subscribe(ctx context.Context) (*store.Subscription, error)
}

// FileRemover deletes stored audio by locator
type FileRemover interface {
	Remove(ctx context.Context, locator string) error
}

// TrackState pairs a catalog track with what the UI should offer for it
type TrackState struct {
	Track      catalog.Track `json:"track"`
	Downloaded bool          `json:"downloaded"`
	Action     string        `json:"action"`
}

// Service is the application layer the UI talks to. It holds the catalog
// fetched at startup and routes downloads, removals and feed subscriptions.
type Service struct {
	catalog  CatalogSource
	jobs     JobSubmitter
	registry Registry
	files    FileRemover
	logger   *zap.Logger

	mu        sync.RWMutex
	tracks    []catalog.Track
	connected bool
}

// NewService creates a Service
func NewService(source CatalogSource, jobs JobSubmitter, registry Registry, files FileRemover, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:  source,
		jobs:     jobs,
		registry: registry,
		files:    files,
		logger:   logger.Named("library"),
	}
}

// Refresh fetches the catalog once. On failure the track list is emptied
// and the service reports itself disconnected.
func (s *Service) Refresh(ctx context.Context) error {
	tracks, err := s.catalog.FetchCatalog(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.tracks = nil
		s.connected = false
		s.logger.Warn("catalog fetch failed", zap.Error(err))
		return err
	}

	s.tracks = tracks
	s.connected = true
	s.logger.Info("catalog refreshed", zap.Int("tracks", len(tracks)))
	return nil
}

// Tracks returns the catalog from the last successful Refresh
func (s *Service) Tracks() []catalog.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Connected reports whether the last Refresh reached the catalog
func (s *Service) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Service) findTrack(id string) (catalog.Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, track := range s.tracks {
		if track.ID == id {
			return track, true
		}
	}
	return catalog.Track{}, false
}

// Enqueue submits a download job for a catalog track using its stream URL
func (s *Service) Enqueue(ctx context.Context, trackID string) (string, error) {
	track, ok := s.findTrack(trackID)
	if !ok {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("track %s is not in the catalog", trackID))
	}

	jobID, err := s.jobs.Submit(ctx, download.JobInput{
		DownloadURL: track.StreamURL,
		SongID:      track.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue download: %w", err)
	}

	s.logger.Info("download enqueued", zap.String("track_id", trackID), zap.String("job_id", jobID))
	return jobID, nil
}

// IsDownloaded reports whether a track is in the registry
func (s *Service) IsDownloaded(ctx context.Context, id string) (bool, error) {
	return s.registry.IsDownloaded(ctx, id)
}

// Downloaded subscribes to the registry feed. The caller must Close the
// subscription.
func (s *Service) Downloaded(ctx context.Context) (*store.Subscription, error) {
	return s.registry.Subscribe(ctx)
}

// ListDownloaded returns the registry contents in insertion order
func (s *Service) ListDownloaded(ctx context.Context) ([]store.DownloadedTrack, error) {
	return s.registry.ListAll(ctx)
}

// GetDownloaded returns one registry row
func (s *Service) GetDownloaded(ctx context.Context, id string) (store.DownloadedTrack, error) {
	track, err := s.registry.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return track, apperrors.NewNotFoundError(fmt.Sprintf("track %s is not downloaded", id))
	}
	return track, err
}

// Remove deletes a downloaded track. The registry row goes first; the
// stored file is removed on a best-effort basis afterwards, so the row is
// gone even when the file cannot be deleted.
func (s *Service) Remove(ctx context.Context, id string) error {
	track, err := s.GetDownloaded(ctx, id)
	if err != nil {
		return err
	}

	if err := s.registry.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFoundError(fmt.Sprintf("track %s is not downloaded", id))
		}
		return apperrors.NewPersistenceError("failed to delete download", err)
	}

	if s.files != nil && track.LocalPath != "" {
		if err := s.files.Remove(ctx, track.LocalPath); err != nil {
			s.logger.Warn("failed to remove audio file",
				zap.String("track_id", id),
				zap.String("path", track.LocalPath),
				zap.Error(err))
		}
	}

	s.logger.Info("download removed", zap.String("track_id", id))
	return nil
}

// States returns, for every catalog track, whether to offer a download
func (s *Service) States(ctx context.Context) ([]TrackState, error) {
	downloaded, err := s.registry.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}

	have := make(map[string]bool, len(downloaded))
	for _, track := range downloaded {
		have[track.ID] = true
	}

	tracks := s.Tracks()
	states := make([]TrackState, len(tracks))
	for i, track := range tracks {
		states[i] = TrackState{Track: track, Downloaded: have[track.ID], Action: ActionDownload}
		if have[track.ID] {
			states[i].Action = ActionDownloaded
		}
	}
	return states, nil
}
