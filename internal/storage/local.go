package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore keeps entries as files in one directory. A pending entry is a
// hidden ".<name>.<random>.pending" file renamed into place on commit.
type LocalStore struct {
	root   string
	logger *zap.Logger
}

// NewLocalStore creates root if needed
func NewLocalStore(root string, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	return &LocalStore{root: abs, logger: logger.Named("storage.local")}, nil
}

// Root returns the directory holding complete entries
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Reserve(ctx context.Context, name, mime string) (Pending, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Unique per reservation so an abandoned transfer cannot clobber a
	// newer one for the same name
	file, err := os.CreateTemp(s.root, "."+name+".*.pending")
	if err != nil {
		return nil, fmt.Errorf("failed to create pending entry: %w", err)
	}
	tmpPath := file.Name()
	if err := file.Chmod(0644); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to create pending entry: %w", err)
	}

	s.logger.Debug("reserved entry", zap.String("name", name), zap.String("mime", mime))
	return &localPending{
		store:     s,
		name:      name,
		file:      file,
		tmpPath:   tmpPath,
		finalPath: filepath.Join(s.root, name),
	}, nil
}

func (s *LocalStore) Resolve(ctx context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	path := filepath.Join(s.root, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat entry: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

func (s *LocalStore) Remove(ctx context.Context, locator string) error {
	path, err := filepath.Abs(locator)
	if err != nil {
		return fmt.Errorf("invalid locator %q: %w", locator, err)
	}
	if filepath.Dir(path) != s.root {
		return fmt.Errorf("locator %q is outside %s", locator, s.root)
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		return fmt.Errorf("failed to remove entry: %w", err)
	}

	s.logger.Debug("removed entry", zap.String("path", path))
	return nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("media directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media directory %s is not a directory", s.root)
	}
	return nil
}

// PendingEntries lists leftover pending files, e.g. after a crash
func (s *LocalStore) PendingEntries() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read media directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".pending") {
			pending = append(pending, filepath.Join(s.root, name))
		}
	}
	return pending, nil
}

type localPending struct {
	store     *LocalStore
	name      string
	file      *os.File
	tmpPath   string
	finalPath string
	finished  bool
}

func (p *localPending) Write(b []byte) (int, error) {
	if p.finished {
		return 0, ErrFinished
	}
	return p.file.Write(b)
}

func (p *localPending) LocalPath() string {
	return p.tmpPath
}

func (p *localPending) Commit(ctx context.Context) (Entry, error) {
	if p.finished {
		return Entry{}, ErrFinished
	}

	if err := p.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("failed to sync pending entry: %w", err)
	}
	if err := p.file.Close(); err != nil {
		return Entry{}, fmt.Errorf("failed to close pending entry: %w", err)
	}

	// The file may have been rewritten in place (tag embedding)
	info, err := os.Stat(p.tmpPath)
	if err != nil {
		return Entry{}, fmt.Errorf("pending entry vanished: %w", err)
	}

	if err := os.Rename(p.tmpPath, p.finalPath); err != nil {
		return Entry{}, fmt.Errorf("failed to finalize entry: %w", err)
	}
	p.finished = true

	return Entry{Name: p.name, Locator: p.finalPath, Size: info.Size()}, nil
}

func (p *localPending) Abort(ctx context.Context) error {
	if p.finished {
		return nil
	}
	p.finished = true

	p.file.Close()
	if err := os.Remove(p.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pending entry: %w", err)
	}

	p.store.logger.Debug("aborted entry", zap.String("name", p.name))
	return nil
}
