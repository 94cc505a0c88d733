package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyExists is returned by Insert when the id is already registered
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
)

// DownloadedTrack is one fully downloaded and finalized track
type DownloadedTrack struct {
	ID           string    `json:"id"`
	Artist       string    `json:"artist"`
	Title        string    `json:"title"`
	ArtworkRef   string    `json:"artwork_ref"`
	LocalPath    string    `json:"local_path"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Registry is the local record of downloaded tracks.
// Every mutation publishes the full list to live subscribers.
type Registry struct {
	db     *sql.DB
	feed   *feed
	logger *zap.Logger

	// mu orders mutations with the snapshots published after them
	mu sync.Mutex
}

// NewRegistry creates a Registry on an initialized database
func NewRegistry(db *sql.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:     db,
		feed:   newFeed(),
		logger: logger.Named("registry"),
	}
}

// Insert adds a row. A duplicate id is reported by the primary key as
// ErrAlreadyExists.
func (r *Registry) Insert(ctx context.Context, track DownloadedTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if track.DownloadedAt.IsZero() {
		track.DownloadedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloaded_audio (id, singer, songName, songBanner, localFilePath, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, track.ID, track.Artist, track.Title, track.ArtworkRef, track.LocalPath, track.DownloadedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("track %s: %w", track.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert downloaded track: %w", err)
	}

	r.logger.Info("track registered", zap.String("id", track.ID), zap.String("path", track.LocalPath))
	r.publishLocked(ctx)
	return nil
}

// IsDownloaded reports whether a row exists for id
func (r *Registry) IsDownloaded(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM downloaded_audio WHERE id = ?)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check downloaded track: %w", err)
	}
	return exists, nil
}

// Get returns the row for id or ErrNotFound
func (r *Registry) Get(ctx context.Context, id string) (DownloadedTrack, error) {
	var track DownloadedTrack
	err := r.db.QueryRowContext(ctx, `
		SELECT id, singer, songName, songBanner, localFilePath, downloaded_at
		FROM downloaded_audio
		WHERE id = ?
	`, id).Scan(
		&track.ID,
		&track.Artist,
		&track.Title,
		&track.ArtworkRef,
		&track.LocalPath,
		&track.DownloadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadedTrack{}, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return DownloadedTrack{}, fmt.Errorf("failed to get downloaded track: %w", err)
	}
	return track, nil
}

// Delete removes the row for id. The audio file is left untouched.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, "DELETE FROM downloaded_audio WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete downloaded track: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("track %s: %w", id, ErrNotFound)
	}

	r.logger.Info("track unregistered", zap.String("id", id))
	r.publishLocked(ctx)
	return nil
}

// ListAll returns every row in insertion order
func (r *Registry) ListAll(ctx context.Context) ([]DownloadedTrack, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, singer, songName, songBanner, localFilePath, downloaded_at
		FROM downloaded_audio
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloaded tracks: %w", err)
	}
	defer rows.Close()

	tracks := []DownloadedTrack{}
	for rows.Next() {
		var track DownloadedTrack
		if err := rows.Scan(
			&track.ID,
			&track.Artist,
			&track.Title,
			&track.ArtworkRef,
			&track.LocalPath,
			&track.DownloadedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan downloaded track: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tracks, nil
}

// Count returns the number of registered tracks
func (r *Registry) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloaded_audio").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count downloaded tracks: %w", err)
	}
	return count, nil
}

// Subscribe opens a live feed. The current list is delivered first, then
// the full list after every insert or delete.
func (r *Registry) Subscribe(ctx context.Context) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracks, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return r.feed.subscribe(tracks), nil
}

// Close ends every open subscription
func (r *Registry) Close() {
	r.feed.closeAll()
}

// publishLocked must be called with r.mu held
func (r *Registry) publishLocked(ctx context.Context) {
	// The mutation is already committed; a snapshot must not be lost to
	// the caller's cancellation.
	tracks, err := r.ListAll(context.WithoutCancel(ctx))
	if err != nil {
		r.logger.Error("failed to snapshot registry", zap.Error(err))
		return
	}
	monitoring.UpdateRegistrySize(len(tracks))
	r.feed.publish(tracks)
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
