package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/levelmind/levelmind-go/internal/errors"
)

// Message types sent to clients
const (
	MessageProgress = "progress"
	MessageStatus   = "status"
	MessageSnapshot = "snapshot"
	MessageCatalog  = "catalog"
)

// Job status values carried by StatusUpdate
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ProgressUpdate represents a progress update message
type ProgressUpdate struct {
	TrackID        string    `json:"track_id"`
	Progress       int       `json:"progress"`
	BytesProcessed int64     `json:"bytes_processed"`
	TotalBytes     int64     `json:"total_bytes"`
	Speed          float64   `json:"speed"` // bytes per second
	ETA            int       `json:"eta"`   // seconds remaining
	Timestamp      time.Time `json:"timestamp"`
}

// StatusUpdate represents a job status change
type StatusUpdate struct {
	JobID     string    `json:"job_id"`
	TrackID   string    `json:"track_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Retryable bool      `json:"retryable,omitempty"` // resubmitting may succeed
	Timestamp time.Time `json:"timestamp"`
}

// Message represents a notification message
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Notifier receives download progress and job lifecycle events
type Notifier interface {
	NotifyProgress(trackID string, progress int, bytesProcessed, totalBytes int64)
	NotifyStarted(jobID, trackID string)
	NotifyCompleted(jobID, trackID string)
	NotifyFailed(jobID, trackID string, err error)
}

// Client is a registered message consumer (a WebSocket or the Redis relay)
type Client struct {
	ID       string
	SendChan chan []byte
	mu       sync.Mutex
	closed   bool
}

// NewClient creates a new client
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		SendChan: make(chan []byte, 256),
	}
}

// Send queues data for the client, dropping it if the client is behind
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.SendChan <- data:
		return true
	default:
		return false
	}
}

// Close closes the client's send channel
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.SendChan)
	}
}

// ProgressNotifier tracks download progress and broadcasts it to clients
type ProgressNotifier struct {
	clients        map[string]*Client
	broadcast      chan *Message
	register       chan *Client
	unregister     chan *Client
	done           chan struct{}
	mu             sync.RWMutex
	stats          map[string]*DownloadStats
	statsMu        sync.RWMutex
	successCount   int
	failureCount   int
	totalDownloads int
}

// DownloadStats tracks statistics for a download
type DownloadStats struct {
	TrackID        string    `json:"track_id"`
	StartTime      time.Time `json:"start_time"`
	LastUpdate     time.Time `json:"last_update"`
	BytesProcessed int64     `json:"bytes_processed"`
	TotalBytes     int64     `json:"total_bytes"`
	Speed          float64   `json:"speed"` // bytes per second
	ETA            int       `json:"eta"`   // seconds remaining
}

// NewProgressNotifier creates a new progress notifier
func NewProgressNotifier() *ProgressNotifier {
	return &ProgressNotifier{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		stats:      make(map[string]*DownloadStats),
	}
}

// Start runs the event loop until ctx is cancelled. All clients are
// closed on exit.
func (pn *ProgressNotifier) Start(ctx context.Context) {
	go pn.run(ctx)
}

func (pn *ProgressNotifier) run(ctx context.Context) {
	defer func() {
		pn.mu.Lock()
		for id, client := range pn.clients {
			client.Close()
			delete(pn.clients, id)
		}
		pn.mu.Unlock()
		close(pn.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-pn.register:
			pn.mu.Lock()
			pn.clients[client.ID] = client
			pn.mu.Unlock()

		case client := <-pn.unregister:
			pn.mu.Lock()
			if _, ok := pn.clients[client.ID]; ok {
				delete(pn.clients, client.ID)
				client.Close()
			}
			pn.mu.Unlock()

		case message := <-pn.broadcast:
			pn.broadcastMessage(message)
		}
	}
}

// Done is closed once the event loop has exited
func (pn *ProgressNotifier) Done() <-chan struct{} {
	return pn.done
}

func (pn *ProgressNotifier) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	pn.mu.RLock()
	for _, client := range pn.clients {
		client.Send(data)
	}
	pn.mu.RUnlock()
}

// Register registers a new client. It returns false once the notifier
// has stopped.
func (pn *ProgressNotifier) Register(client *Client) bool {
	select {
	case pn.register <- client:
		return true
	case <-pn.done:
		client.Close()
		return false
	}
}

// Unregister unregisters and closes a client
func (pn *ProgressNotifier) Unregister(client *Client) {
	select {
	case pn.unregister <- client:
	case <-pn.done:
		client.Close()
	}
}

// publish drops progress messages under pressure. Status messages wait
// for the event loop so a failure is never lost.
func (pn *ProgressNotifier) publish(message *Message, mustDeliver bool) {
	if !mustDeliver {
		select {
		case pn.broadcast <- message:
		default:
		}
		return
	}

	select {
	case pn.broadcast <- message:
	case <-pn.done:
	}
}

// NotifyProgress notifies progress for a download
func (pn *ProgressNotifier) NotifyProgress(trackID string, progress int, bytesProcessed, totalBytes int64) {
	now := time.Now()

	pn.statsMu.Lock()
	stats, exists := pn.stats[trackID]
	if !exists {
		stats = &DownloadStats{
			TrackID:    trackID,
			StartTime:  now,
			LastUpdate: now,
		}
		pn.stats[trackID] = stats
	}

	elapsed := now.Sub(stats.LastUpdate).Seconds()
	if elapsed > 0 {
		bytesDelta := bytesProcessed - stats.BytesProcessed
		stats.Speed = float64(bytesDelta) / elapsed
	}

	stats.BytesProcessed = bytesProcessed
	stats.TotalBytes = totalBytes
	stats.LastUpdate = now

	if stats.Speed > 0 && totalBytes > 0 {
		remaining := totalBytes - bytesProcessed
		stats.ETA = int(float64(remaining) / stats.Speed)
	}

	speed := stats.Speed
	eta := stats.ETA
	pn.statsMu.Unlock()

	pn.publish(&Message{
		Type: MessageProgress,
		Payload: &ProgressUpdate{
			TrackID:        trackID,
			Progress:       progress,
			BytesProcessed: bytesProcessed,
			TotalBytes:     totalBytes,
			Speed:          speed,
			ETA:            eta,
			Timestamp:      now,
		},
	}, false)
}

// NotifyStarted notifies that a job has started
func (pn *ProgressNotifier) NotifyStarted(jobID, trackID string) {
	now := time.Now()

	pn.statsMu.Lock()
	pn.stats[trackID] = &DownloadStats{
		TrackID:    trackID,
		StartTime:  now,
		LastUpdate: now,
	}
	pn.totalDownloads++
	pn.statsMu.Unlock()

	pn.publish(&Message{
		Type: MessageStatus,
		Payload: &StatusUpdate{
			JobID:     jobID,
			TrackID:   trackID,
			Status:    StatusStarted,
			Timestamp: now,
		},
	}, true)
}

// NotifyCompleted notifies that a job has completed
func (pn *ProgressNotifier) NotifyCompleted(jobID, trackID string) {
	pn.statsMu.Lock()
	delete(pn.stats, trackID)
	pn.successCount++
	pn.statsMu.Unlock()

	pn.publish(&Message{
		Type: MessageStatus,
		Payload: &StatusUpdate{
			JobID:     jobID,
			TrackID:   trackID,
			Status:    StatusCompleted,
			Timestamp: time.Now(),
		},
	}, true)
}

// NotifyFailed notifies that a job has failed
func (pn *ProgressNotifier) NotifyFailed(jobID, trackID string, err error) {
	pn.statsMu.Lock()
	delete(pn.stats, trackID)
	pn.failureCount++
	pn.statsMu.Unlock()

	pn.publish(&Message{
		Type: MessageStatus,
		Payload: &StatusUpdate{
			JobID:     jobID,
			TrackID:   trackID,
			Status:    StatusFailed,
			Error:     err.Error(),
			ErrorKind: string(apperrors.GetErrorType(err)),
			Retryable: apperrors.IsRetryable(err),
			Timestamp: time.Now(),
		},
	}, true)
}

// BroadcastCustomMessage broadcasts an arbitrary message to all clients
func (pn *ProgressNotifier) BroadcastCustomMessage(messageType string, payload interface{}) {
	pn.publish(&Message{Type: messageType, Payload: payload}, false)
}

// GetStats returns overall download statistics
func (pn *ProgressNotifier) GetStats() map[string]interface{} {
	pn.statsMu.RLock()
	defer pn.statsMu.RUnlock()

	successRate := 0.0
	if pn.totalDownloads > 0 {
		successRate = float64(pn.successCount) / float64(pn.totalDownloads) * 100
	}

	return map[string]interface{}{
		"active_downloads": len(pn.stats),
		"total_downloads":  pn.totalDownloads,
		"success_count":    pn.successCount,
		"failure_count":    pn.failureCount,
		"success_rate":     successRate,
	}
}

// GetDownloadStats returns a copy of the statistics for one track
func (pn *ProgressNotifier) GetDownloadStats(trackID string) *DownloadStats {
	pn.statsMu.RLock()
	defer pn.statsMu.RUnlock()

	if stats, ok := pn.stats[trackID]; ok {
		copied := *stats
		return &copied
	}
	return nil
}

// GetClientCount returns the number of connected clients
func (pn *ProgressNotifier) GetClientCount() int {
	pn.mu.RLock()
	defer pn.mu.RUnlock()
	return len(pn.clients)
}

// FormatSpeed formats speed in human-readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 1024 {
		return "< 1 KB/s"
	} else if bytesPerSecond < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/1024)
	}
	return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1024*1024))
}

// FormatETA formats ETA in human-readable format
func FormatETA(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	} else if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}
