package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/levelmind/levelmind-go/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	pendingPrefix = ".pending"
	locatorScheme = "s3://"
)

// objectClient is the part of *minio.Client the store uses
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioStore keeps entries as objects in an S3-compatible bucket. Bytes are
// spooled to a local file, uploaded under the .pending/ prefix on commit and
// then copied server-side to the final key.
type MinioStore struct {
	client objectClient
	bucket string
	prefix string
	logger *zap.Logger
}

// NewMinioStore connects to the endpoint and creates the bucket if missing
func NewMinioStore(ctx context.Context, cfg config.MinioConfig, subdir string, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := newMinioStore(client, cfg.Bucket, subdir, logger)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info("created bucket", zap.String("bucket", cfg.Bucket))
	}

	return s, nil
}

func newMinioStore(client objectClient, bucket, subdir string, logger *zap.Logger) *MinioStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(subdir, "/"),
		logger: logger.Named("storage.minio"),
	}
}

func (s *MinioStore) objectKey(name string) string {
	return path.Join(s.prefix, name)
}

// pendingKey is unique per reservation
func (s *MinioStore) pendingKey(name, id string) string {
	return path.Join(pendingPrefix, s.prefix, name+"."+id)
}

func (s *MinioStore) locator(key string) string {
	return locatorScheme + s.bucket + "/" + key
}

// parseLocator splits s3://bucket/key
func parseLocator(locator string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(locator, locatorScheme)
	if !ok {
		return "", "", fmt.Errorf("invalid locator %q", locator)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid locator %q", locator)
	}
	return bucket, key, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *MinioStore) Reserve(ctx context.Context, name, mime string) (Pending, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	spool, err := os.CreateTemp("", "levelmind-*.pending")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	return &minioPending{
		store:      s,
		name:       name,
		mime:       mime,
		pendingKey: s.pendingKey(name, uuid.NewString()),
		spool:      spool,
	}, nil
}

func (s *MinioStore) Resolve(ctx context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	key := s.objectKey(name)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}
	return s.locator(key), nil
}

func (s *MinioStore) Remove(ctx context.Context, locator string) error {
	bucket, key, err := parseLocator(locator)
	if err != nil {
		return err
	}
	if bucket != s.bucket {
		return fmt.Errorf("locator %q is not in bucket %s", locator, s.bucket)
	}

	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		return fmt.Errorf("failed to stat object: %w", err)
	}

	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket unavailable: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

type minioPending struct {
	store      *MinioStore
	name       string
	mime       string
	pendingKey string
	spool      *os.File
	uploaded   bool
	finished   bool
}

func (p *minioPending) Write(b []byte) (int, error) {
	if p.finished {
		return 0, ErrFinished
	}
	return p.spool.Write(b)
}

func (p *minioPending) LocalPath() string {
	return p.spool.Name()
}

func (p *minioPending) Commit(ctx context.Context) (Entry, error) {
	if p.finished {
		return Entry{}, ErrFinished
	}
	if err := p.spool.Close(); err != nil {
		return Entry{}, fmt.Errorf("failed to close spool file: %w", err)
	}

	s := p.store
	pendingKey := p.pendingKey
	finalKey := s.objectKey(p.name)

	if _, err := s.client.FPutObject(ctx, s.bucket, pendingKey, p.spool.Name(), minio.PutObjectOptions{
		ContentType: p.mime,
	}); err != nil {
		return Entry{}, fmt.Errorf("failed to upload pending object: %w", err)
	}
	p.uploaded = true

	info, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: finalKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: pendingKey},
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to finalize object: %w", err)
	}
	p.finished = true

	if err := s.client.RemoveObject(ctx, s.bucket, pendingKey, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Warn("failed to remove pending object", zap.String("key", pendingKey), zap.Error(err))
	}
	os.Remove(p.spool.Name())

	return Entry{Name: p.name, Locator: s.locator(finalKey), Size: info.Size}, nil
}

func (p *minioPending) Abort(ctx context.Context) error {
	if p.finished {
		return nil
	}
	p.finished = true

	p.spool.Close()
	var errs []error
	if err := os.Remove(p.spool.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if p.uploaded {
		s := p.store
		if err := s.client.RemoveObject(ctx, s.bucket, p.pendingKey, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to abort pending entry: %w", err)
	}
	return nil
}
