package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/levelmind/levelmind-go/internal/catalog"
	apperrors "github.com/levelmind/levelmind-go/internal/errors"
	"github.com/levelmind/levelmind-go/internal/metadata"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/levelmind/levelmind-go/internal/network"
	"github.com/levelmind/levelmind-go/internal/storage"
	"github.com/levelmind/levelmind-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	copyBufferSize = 32 * 1024
	// progressStep is how many bytes pass between progress reports when
	// the response has no Content-Length
	progressStep = 256 * 1024
)

// Registry is the part of the local registry the workflow writes to
type Registry interface {
	Insert(ctx context.Context, track store.DownloadedTrack) error
	IsDownloaded(ctx context.Context, id string) (bool, error)
}

// TrackLookup resolves catalog metadata for a track id
type TrackLookup interface {
	Lookup(ctx context.Context, id string) (catalog.Track, bool, error)
}

// Options configures a Downloader
type Options struct {
	HTTPClient  *http.Client
	ReadTimeout time.Duration
	Storage     storage.Store
	Registry    Registry
	// Catalog is optional. Without it metadata comes from the file's tags.
	Catalog   TrackLookup
	Tags      *metadata.Manager
	EmbedTags bool
	Notifier  Notifier
	Logger    *zap.Logger
}

// Downloader fetches one track into storage and registers it
type Downloader struct {
	client      *http.Client
	readTimeout time.Duration
	storage     storage.Store
	registry    Registry
	catalog     TrackLookup
	tags        *metadata.Manager
	embedTags   bool
	notifier    Notifier
	logger      *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared transfer for one track. It runs detached from any
// caller and is cancelled once every caller has left.
type flight struct {
	ctx       context.Context
	cancel    context.CancelFunc
	sourceURL string
	waiters   int
}

// NewDownloader creates a Downloader
func NewDownloader(opts Options) *Downloader {
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}

	client := opts.HTTPClient
	if client == nil {
		client = network.NewDownloadClient(10*time.Second, readTimeout)
	}

	tags := opts.Tags
	if tags == nil {
		tags = metadata.NewManager()
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Downloader{
		client:      client,
		readTimeout: readTimeout,
		storage:     opts.Storage,
		registry:    opts.Registry,
		catalog:     opts.Catalog,
		tags:        tags,
		embedTags:   opts.EmbedTags,
		notifier:    opts.Notifier,
		logger:      logger.Named("download"),
		flights:     make(map[string]*flight),
	}
}

// Download stores the audio at sourceURL as "<trackID>.mp3" and registers
// it. Concurrent calls for one trackID share a single transfer, and a track
// that is already registered is not fetched again. Cancelling ctx abandons
// the shared transfer, which is stopped once no caller is left.
func (d *Downloader) Download(ctx context.Context, trackID, sourceURL string) error {
	if strings.TrimSpace(trackID) == "" || strings.TrimSpace(sourceURL) == "" {
		return apperrors.NewInvalidParametersError("Invalid download parameters")
	}

	f, results := d.join(ctx, trackID, sourceURL)

	select {
	case res := <-results:
		d.leave(trackID, f)
		return res.Err
	case <-ctx.Done():
		if d.leave(trackID, f) {
			// Last caller: the transfer is cancelled, wait for its cleanup
			<-results
		}
		return apperrors.NewTransportError("Download cancelled", ctx.Err())
	}
}

func (d *Downloader) join(ctx context.Context, trackID, sourceURL string) (*flight, <-chan singleflight.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.flights[trackID]
	if ok {
		d.logger.Debug("joined in-flight download",
			zap.String("track_id", trackID),
			zap.String("source_url", sourceURL),
			zap.String("in_flight_url", f.sourceURL))
	} else {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: shared, cancel: cancel, sourceURL: sourceURL}
		d.flights[trackID] = f
	}
	f.waiters++

	// Runs only when no call for trackID is in flight
	results := d.group.DoChan(trackID, func() (interface{}, error) {
		d.mu.Lock()
		f.sourceURL = sourceURL
		d.mu.Unlock()
		return nil, d.download(f.ctx, trackID, sourceURL)
	})
	return f, results
}

// leave reports whether the caller was the last one waiting on f
func (d *Downloader) leave(trackID string, f *flight) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return false
	}

	f.cancel()
	if d.flights[trackID] == f {
		delete(d.flights, trackID)
	}
	// A later caller must start a new transfer rather than join this one
	d.group.Forget(trackID)
	return true
}

func (d *Downloader) download(ctx context.Context, trackID, sourceURL string) error {
	logger := d.logger.With(zap.String("track_id", trackID))

	done, err := d.registry.IsDownloaded(ctx, trackID)
	if err != nil {
		return apperrors.NewPersistenceError("failed to check registry", err)
	}
	if done {
		logger.Info("track already downloaded")
		return nil
	}

	monitoring.RecordDownloadStart()
	start := time.Now()

	written, err := d.transfer(ctx, logger, trackID, sourceURL)
	if err != nil {
		monitoring.RecordDownloadFailed(string(apperrors.GetErrorType(err)))
		logger.Warn("download failed", zap.Error(err))
		return err
	}

	monitoring.RecordDownloadComplete(time.Since(start), written)
	logger.Info("download completed", zap.Int64("bytes", written), zap.Duration("duration", time.Since(start)))
	return nil
}

func (d *Downloader) transfer(ctx context.Context, logger *zap.Logger, trackID, sourceURL string) (int64, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, apperrors.NewInvalidParametersError(fmt.Sprintf("invalid download url: %v", err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, apperrors.NewTransportError("failed to connect", err)
	}
	body := network.WrapIdleTimeout(resp.Body, d.readTimeout, cancel)
	defer body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperrors.NewHTTPError("Download failed", resp.StatusCode)
	}

	name := storage.FileName(trackID)
	pending, err := d.storage.Reserve(ctx, name, storage.MimeAudioMPEG)
	if err != nil {
		return 0, apperrors.NewStorageError("Could not create media store entry", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := pending.Abort(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to discard pending entry", zap.Error(err))
		}
	}()

	written, err := d.copyBody(pending, body, trackID, resp.ContentLength)
	if err != nil {
		return written, err
	}

	meta := d.resolveMetadata(ctx, logger, trackID, pending.LocalPath())

	if d.embedTags && (meta.Title != "" || meta.Artist != "") {
		if err := d.tags.ApplyMetadata(pending.LocalPath(), &metadata.TrackMetadata{
			Title:  meta.Title,
			Artist: meta.Artist,
		}); err != nil {
			logger.Warn("failed to embed tags", zap.Error(err))
		}
	}

	entry, err := pending.Commit(ctx)
	if err != nil {
		return written, apperrors.NewStorageError("failed to finalize storage entry", err)
	}
	committed = true

	locator, err := d.storage.Resolve(ctx, name)
	if err != nil {
		d.discard(logger, entry.Locator)
		return written, apperrors.NewStorageError("failed to resolve file path", err)
	}

	err = d.registry.Insert(ctx, store.DownloadedTrack{
		ID:         trackID,
		Artist:     meta.Artist,
		Title:      meta.Title,
		ArtworkRef: meta.ArtworkRef,
		LocalPath:  locator,
	})
	if err != nil {
		// An existing row already points at this locator
		if !errors.Is(err, store.ErrAlreadyExists) {
			d.discard(logger, locator)
		}
		return written, apperrors.NewPersistenceError("failed to register download", err)
	}

	return written, nil
}

// copyBody streams body into w, telling read failures from write failures
func (d *Downloader) copyBody(w io.Writer, body io.Reader, trackID string, total int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written, lastReport int64
	lastPercent := -1

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, apperrors.NewStorageError("failed to write audio", err)
			}
			written += int64(n)

			if d.notifier != nil {
				if total > 0 {
					percent := int(written * 100 / total)
					if percent != lastPercent {
						lastPercent = percent
						d.notifier.NotifyProgress(trackID, percent, written, total)
					}
				} else if written-lastReport >= progressStep {
					lastReport = written
					d.notifier.NotifyProgress(trackID, -1, written, total)
				}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, apperrors.NewTransportError("failed to read audio stream", readErr)
		}
	}
}

type trackMetadata struct {
	Title      string
	Artist     string
	ArtworkRef string
}

// resolveMetadata tries the catalog, then the file's own tags. Empty
// strings are stored when neither knows the track.
func (d *Downloader) resolveMetadata(ctx context.Context, logger *zap.Logger, trackID, localPath string) trackMetadata {
	if d.catalog != nil {
		track, ok, err := d.catalog.Lookup(ctx, trackID)
		switch {
		case err != nil:
			logger.Warn("catalog lookup failed", zap.Error(err))
		case ok:
			return trackMetadata{Title: track.Title, Artist: track.Artist, ArtworkRef: track.ArtworkRef}
		default:
			logger.Debug("track not in catalog")
		}
	}

	tags, err := d.tags.ReadTags(localPath)
	if err != nil {
		logger.Debug("no usable tags in download", zap.Error(err))
		return trackMetadata{}
	}
	return trackMetadata{Title: tags.Title, Artist: tags.Artist}
}

func (d *Downloader) discard(logger *zap.Logger, locator string) {
	if err := d.storage.Remove(context.Background(), locator); err != nil {
		logger.Warn("failed to remove orphaned entry", zap.String("locator", locator), zap.Error(err))
	}
}
