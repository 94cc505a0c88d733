package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	if config.ConnectTimeout != 10*time.Second {
		t.Errorf("Expected connect timeout 10s, got %v", config.ConnectTimeout)
	}

	if config.ReadTimeout != 10*time.Second {
		t.Errorf("Expected read timeout 10s, got %v", config.ReadTimeout)
	}

	if config.DisableKeepAlives {
		t.Error("Expected keep-alives to be enabled")
	}
}

func TestNewClientWithNilConfig(t *testing.T) {
	client := NewClient(nil)

	if client == nil {
		t.Fatal("Expected client to be created with default config")
	}

	if client.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.Timeout)
	}
}

func TestNewDownloadClient(t *testing.T) {
	client := NewDownloadClient(3*time.Second, 7*time.Second)

	if client.Timeout != 0 {
		t.Errorf("Expected no overall timeout, got %v", client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("Expected transport to be *http.Transport")
	}

	if transport.ResponseHeaderTimeout != 7*time.Second {
		t.Errorf("Expected ResponseHeaderTimeout 7s, got %v", transport.ResponseHeaderTimeout)
	}
}

func TestConnectionPoolingSettings(t *testing.T) {
	config := DefaultClientConfig()
	client := NewClient(config)

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("Expected transport to be *http.Transport")
	}

	if transport.MaxIdleConns != config.MaxIdleConns {
		t.Errorf("Expected MaxIdleConns %d, got %d", config.MaxIdleConns, transport.MaxIdleConns)
	}

	if transport.MaxIdleConnsPerHost != config.MaxIdleConnsPerHost {
		t.Errorf("Expected MaxIdleConnsPerHost %d, got %d", config.MaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
	}

	if transport.MaxConnsPerHost != config.MaxConnsPerHost {
		t.Errorf("Expected MaxConnsPerHost %d, got %d", config.MaxConnsPerHost, transport.MaxConnsPerHost)
	}
}

func TestWrapIdleTimeoutReadsFullBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ID3 audio payload")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := NewDownloadClient(time.Second, time.Second).Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	body := WrapIdleTimeout(resp.Body, time.Second, cancel)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "ID3 audio payload" {
		t.Errorf("Unexpected body %q", data)
	}
}

func TestWrapIdleTimeoutStalledBody(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, strings.Repeat("a", 10))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := NewDownloadClient(time.Second, time.Second).Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	body := WrapIdleTimeout(resp.Body, 100*time.Millisecond, cancel)
	defer body.Close()

	_, err = io.ReadAll(body)
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected ErrReadTimeout, got %v", err)
	}
}
