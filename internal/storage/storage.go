// Package storage implements the shared media store that downloaded audio
// is written to. Entries are written pending, invisible to readers, and
// only become visible once committed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/levelmind/levelmind-go/internal/config"
	"go.uber.org/zap"
)

// MimeAudioMPEG is the content type of every downloaded track
const MimeAudioMPEG = "audio/mpeg"

var (
	// ErrNotFound is returned when no complete entry exists
	ErrNotFound = errors.New("entry not found")
	// ErrFinished is returned when a pending entry is used after Commit or Abort
	ErrFinished = errors.New("pending entry already finished")
)

// Entry is a complete, visible media entry
type Entry struct {
	Name    string
	Locator string
	Size    int64
}

// Pending is a reserved entry that is not yet visible
type Pending interface {
	io.Writer

	// LocalPath is a filesystem path holding the bytes written so far.
	// It stays valid until Commit or Abort.
	LocalPath() string

	// Commit makes the entry visible under its final name
	Commit(ctx context.Context) (Entry, error)

	// Abort discards the entry. It is safe to call after a failed Commit.
	Abort(ctx context.Context) error
}

// Store is a two-phase media store keyed by file name
type Store interface {
	Reserve(ctx context.Context, name, mime string) (Pending, error)
	Resolve(ctx context.Context, name string) (string, error)
	Remove(ctx context.Context, locator string) error
	Ping(ctx context.Context) error
}

// New builds the backend selected by cfg.Backend
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(filepath.Join(cfg.MediaDir, filepath.FromSlash(cfg.Subdirectory)), logger)
	case "minio":
		return NewMinioStore(ctx, cfg.Minio, cfg.Subdirectory, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// FileName returns the entry name for a track
func FileName(trackID string) string {
	return trackID + ".mp3"
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid entry name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid entry name %q", name)
	}
	return nil
}
