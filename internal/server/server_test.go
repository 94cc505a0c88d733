package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/levelmind/levelmind-go/internal/catalog"
	"github.com/levelmind/levelmind-go/internal/download"
	"github.com/levelmind/levelmind-go/internal/library"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/levelmind/levelmind-go/internal/storage"
	"github.com/levelmind/levelmind-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAudio = bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, 1024)

type testEnv struct {
	api      *httptest.Server
	registry *store.Registry
	storage  *storage.LocalStore
}

// remoteServer plays the catalog API and serves the audio it lists
func remoteServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var remote *httptest.Server
	mux.HandleFunc("/getSongs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"_id":"a1","singer":"X","songName":"Song","songBanner":"url1","url":"%[1]s/audio/a1.mp3"},
			{"_id":"b2","singer":"Y","songName":"Gone","songBanner":"url2","url":"%[1]s/audio/missing.mp3"}
		]`, remote.URL)
	})
	mux.HandleFunc("/audio/a1.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(testAudio)
	})
	remote = httptest.NewServer(mux)
	t.Cleanup(remote.Close)
	return remote
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	remote := remoteServer(t)

	db, err := store.InitDB(filepath.Join(t.TempDir(), "levelmind.db"))
	require.NoError(t, err)
	registry := store.NewRegistry(db, nil)

	local, err := storage.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)

	catalogClient := catalog.NewClient(catalog.Options{BaseURL: remote.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	notifier := download.NewProgressNotifier()
	notifier.Start(ctx)

	downloader := download.NewDownloader(download.Options{
		ReadTimeout: 5 * time.Second,
		Storage:     local,
		Registry:    registry,
		Catalog:     catalogClient,
		Notifier:    notifier,
	})
	scheduler := download.NewScheduler(downloader, store.NewJobStore(db), notifier, 2, nil)
	require.NoError(t, scheduler.Start(ctx))

	svc := library.NewService(catalogClient, scheduler, registry, local, nil)

	srv := New(Options{
		Library:   svc,
		Scheduler: scheduler,
		Notifier:  notifier,
		Health:    monitoring.NewHealthChecker("test", db, local),
	})
	api := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		api.Close()
		scheduler.Stop()
		cancel()
		<-notifier.Done()
		registry.Close()
		db.Close()
	})

	return &testEnv{api: api, registry: registry, storage: local}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.api.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) waitJob(t *testing.T, jobID string) store.Job {
	t.Helper()

	var job store.Job
	require.Eventually(t, func() bool {
		resp := e.do(t, http.MethodGet, "/api/jobs/"+jobID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		decode(t, resp, &job)
		return job.Status.Finished()
	}, 5*time.Second, 20*time.Millisecond)
	return job
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var before catalogResponse
	decode(t, env.do(t, http.MethodGet, "/api/catalog", nil), &before)
	assert.False(t, before.Connected)
	assert.Empty(t, before.Tracks)

	resp := env.do(t, http.MethodPost, "/api/catalog/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var after catalogResponse
	decode(t, resp, &after)
	assert.True(t, after.Connected)
	require.Len(t, after.Tracks, 2)
	assert.Equal(t, "a1", after.Tracks[0].Track.ID)
	assert.Equal(t, library.ActionDownload, after.Tracks[0].Action)
}

func TestDownloadLifecycle(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/catalog/refresh", nil).StatusCode)

	// Without download_url the catalog's stream URL is used
	resp := env.do(t, http.MethodPost, "/api/jobs", map[string]string{"song_id": "a1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted submitJobResponse
	decode(t, resp, &submitted)
	require.NotEmpty(t, submitted.JobID)

	job := env.waitJob(t, submitted.JobID)
	assert.Equal(t, store.JobCompleted, job.Status)

	var track store.DownloadedTrack
	resp = env.do(t, http.MethodGet, "/api/downloads/a1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &track)
	assert.Equal(t, "X", track.Artist)
	assert.Equal(t, "Song", track.Title)
	assert.Equal(t, filepath.Join(env.storage.Root(), "a1.mp3"), track.LocalPath)

	var catalogState catalogResponse
	decode(t, env.do(t, http.MethodGet, "/api/catalog", nil), &catalogState)
	assert.Equal(t, library.ActionDownloaded, catalogState.Tracks[0].Action)

	resp = env.do(t, http.MethodDelete, "/api/downloads/a1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/downloads/a1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var tracks []store.DownloadedTrack
	decode(t, env.do(t, http.MethodGet, "/api/downloads", nil), &tracks)
	assert.Empty(t, tracks)
}

func TestFailedJobReportsReason(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/catalog/refresh", nil).StatusCode)

	resp := env.do(t, http.MethodPost, "/api/jobs", map[string]string{"song_id": "b2"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted submitJobResponse
	decode(t, resp, &submitted)

	job := env.waitJob(t, submitted.JobID)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.Equal(t, "Download failed with HTTP 404", job.Error)

	var jobs []store.Job
	decode(t, env.do(t, http.MethodGet, "/api/jobs", nil), &jobs)
	assert.Len(t, jobs, 1)

	resp = env.do(t, http.MethodDelete, "/api/jobs/"+submitted.JobID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitJobValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"missing song id", map[string]string{"download_url": "http://h/a.mp3"}, http.StatusBadRequest},
		{"bad scheme", map[string]string{"song_id": "a1", "download_url": "file:///etc/passwd"}, http.StatusBadRequest},
		{"not in catalog", map[string]string{"song_id": "zz"}, http.StatusNotFound},
		{"not json", "{", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/jobs/nope", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/jobs/nope", nil).StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health monitoring.HealthCheck
	decode(t, resp, &health)
	assert.Equal(t, "connected", health.DatabaseStatus)
	assert.Contains(t, health.Checks, "storage")

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "levelmind_http_requests_total")
}

func TestStatsAndProgress(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/catalog/refresh", nil).StatusCode)

	var submitted submitJobResponse
	decode(t, env.do(t, http.MethodPost, "/api/jobs", map[string]string{"song_id": "a1"}), &submitted)
	env.waitJob(t, submitted.JobID)

	var stats statsResponse
	resp := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.Jobs.Total)
	assert.Equal(t, 1, stats.Jobs.Completed)
	assert.Equal(t, 2, stats.Workers)
	assert.Contains(t, stats.Transfers, "success_count")

	// Finished transfers are no longer tracked
	assert.Eventually(t, func() bool {
		return env.do(t, http.MethodGet, "/api/downloads/a1/progress", nil).StatusCode == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) download.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg download.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestDownloadsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.registry.Insert(ctx, store.DownloadedTrack{ID: "z9", LocalPath: "/music/z9.mp3"}))

	wsURL := "ws" + strings.TrimPrefix(env.api.URL, "http") + "/ws/downloads"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Replay of the current registry on connect
	msg := readMessage(t, conn)
	require.Equal(t, download.MessageSnapshot, msg.Type)
	assert.Len(t, msg.Payload, 1)

	require.NoError(t, env.registry.Insert(ctx, store.DownloadedTrack{ID: "y8", LocalPath: "/music/y8.mp3"}))

	msg = readMessage(t, conn)
	require.Equal(t, download.MessageSnapshot, msg.Type)
	assert.Len(t, msg.Payload, 2)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/catalog/refresh", nil).StatusCode)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/jobs", map[string]string{"song_id": "b2"}).StatusCode)

	// Progress may interleave; wait for the failure status
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg = readMessage(t, conn)
		if msg.Type != download.MessageStatus {
			continue
		}
		payload, ok := msg.Payload.(map[string]interface{})
		require.True(t, ok)
		if payload["status"] == download.StatusFailed {
			assert.Equal(t, "b2", payload["track_id"])
			return
		}
	}
	t.Fatal("never received failure status")
}
