package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getSongs" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchCatalog(t *testing.T) {
	server := newTestServer(t, http.StatusOK,
		`[{"_id":"a1","singer":"X","songName":"Song","songBanner":"url1","url":"stream1"}]`)

	client := NewClient(Options{BaseURL: server.URL + "/"})

	tracks, err := client.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog() error = %v", err)
	}

	want := Track{ID: "a1", Artist: "X", Title: "Song", ArtworkRef: "url1", StreamURL: "stream1"}
	if len(tracks) != 1 || tracks[0] != want {
		t.Fatalf("FetchCatalog() = %+v, want [%+v]", tracks, want)
	}

	latest := client.Latest()
	if len(latest) != 1 || latest[0].ID != "a1" {
		t.Errorf("Latest() = %+v", latest)
	}
}

func TestFetchCatalogIDFallback(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `[
		{"id":"b2","singer":"Y","songName":"Other","songBanner":"url2","url":"stream2"},
		{"_id":"c3","id":"ignored","singer":"Z","songName":"Third","songBanner":"","url":"stream3"},
		{"singer":"no id","songName":"dropped","url":"stream4"}
	]`)

	tracks, err := NewClient(Options{BaseURL: server.URL}).FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog() error = %v", err)
	}

	if len(tracks) != 2 {
		t.Fatalf("Expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].ID != "b2" {
		t.Errorf("Expected id fallback b2, got %s", tracks[0].ID)
	}
	if tracks[1].ID != "c3" {
		t.Errorf("Expected _id to win, got %s", tracks[1].ID)
	}
}

func TestFetchCatalogHTTPError(t *testing.T) {
	server := newTestServer(t, http.StatusServiceUnavailable, `{"error":"down"}`)
	client := NewClient(Options{BaseURL: server.URL})

	_, err := client.FetchCatalog(context.Background())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %T (%v)", err, err)
	}
	if fetchErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", fetchErr.StatusCode)
	}
	if len(client.Latest()) != 0 {
		t.Error("Failed fetch must not replace the latest catalog")
	}
}

func TestFetchCatalogTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(Options{BaseURL: url}).FetchCatalog(context.Background())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %T (%v)", err, err)
	}
	if fetchErr.StatusCode != 0 {
		t.Errorf("Expected no status for transport failure, got %d", fetchErr.StatusCode)
	}
}

func TestFetchCatalogMalformedBody(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{"not":"an array"}`)

	_, err := NewClient(Options{BaseURL: server.URL}).FetchCatalog(context.Background())
	if err == nil {
		t.Fatal("Expected decode error")
	}
}

func TestLookup(t *testing.T) {
	server := newTestServer(t, http.StatusOK,
		`[{"_id":"a1","singer":"X","songName":"Song","songBanner":"url1","url":"stream1"}]`)
	client := NewClient(Options{BaseURL: server.URL, RateLimit: 5})

	track, ok, err := client.Lookup(context.Background(), "a1")
	if err != nil || !ok {
		t.Fatalf("Lookup(a1) = %v, %v, %v", track, ok, err)
	}
	if track.Title != "Song" {
		t.Errorf("Expected title Song, got %s", track.Title)
	}

	_, ok, err = client.Lookup(context.Background(), "missing")
	if err != nil || ok {
		t.Errorf("Lookup(missing) = %v, %v", ok, err)
	}
}
