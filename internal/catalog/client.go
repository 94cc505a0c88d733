package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/levelmind/levelmind-go/internal/network"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const songsEndpoint = "/getSongs"

// FetchError is returned when the catalog could not be fetched.
// StatusCode is zero for transport failures.
type FetchError struct {
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog fetch failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("catalog fetch failed: %s", e.Message)
}

// Client fetches the song catalog from the remote API
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger

	mu     sync.RWMutex
	latest []Track
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  int // requests per second, 0 disables limiting
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient creates a new catalog client
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		config := network.DefaultClientConfig()
		if opts.Timeout > 0 {
			config.Timeout = opts.Timeout
		}
		httpClient = network.NewClient(config)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  httpClient,
		rateLimiter: limiter,
		logger:      logger.Named("catalog"),
	}
}

// FetchCatalog performs a single GET /getSongs. No retry, no caching.
func (c *Client) FetchCatalog(ctx context.Context) ([]Track, error) {
	start := time.Now()

	tracks, err := c.fetch(ctx)
	if err != nil {
		monitoring.RecordAPIRequest(songsEndpoint, "error", time.Since(start))
		c.logger.Warn("catalog fetch failed", zap.Error(err))
		return nil, err
	}
	monitoring.RecordAPIRequest(songsEndpoint, "success", time.Since(start))

	c.mu.Lock()
	c.latest = tracks
	c.mu.Unlock()

	c.logger.Debug("catalog fetched", zap.Int("tracks", len(tracks)))
	return tracks, nil
}

func (c *Client) fetch(ctx context.Context) ([]Track, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &FetchError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+songsEndpoint, nil)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	tracks, err := decodeSongs(body)
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	return tracks, nil
}

// Latest returns the last successfully fetched catalog
func (c *Client) Latest() []Track {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Track, len(c.latest))
	copy(out, c.latest)
	return out
}

// Lookup re-fetches the catalog and returns the track with the given id
func (c *Client) Lookup(ctx context.Context, id string) (Track, bool, error) {
	tracks, err := c.FetchCatalog(ctx)
	if err != nil {
		return Track{}, false, err
	}

	for _, track := range tracks {
		if track.ID == id {
			return track, true, nil
		}
	}
	return Track{}, false, nil
}
