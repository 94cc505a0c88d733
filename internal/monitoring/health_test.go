package monitoring

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type fakeProbe struct {
	err error
}

func (p fakeProbe) Ping(ctx context.Context) error {
	return p.err
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthCheckHealthy(t *testing.T) {
	db := openMemoryDB(t)
	healthChecker := NewHealthChecker("1.0.0", db, fakeProbe{})

	healthCheck := healthChecker.Check(3, 1)

	if healthCheck.Status != HealthStatusHealthy {
		t.Errorf("Expected status healthy, got %s", healthCheck.Status)
	}
	if healthCheck.Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %s", healthCheck.Version)
	}
	if healthCheck.PendingJobs != 3 {
		t.Errorf("Expected 3 pending jobs, got %d", healthCheck.PendingJobs)
	}
	if healthCheck.ActiveDownloads != 1 {
		t.Errorf("Expected 1 active download, got %d", healthCheck.ActiveDownloads)
	}
	if healthCheck.DatabaseStatus != "connected" {
		t.Errorf("Expected database status connected, got %s", healthCheck.DatabaseStatus)
	}
	if _, ok := healthCheck.Checks["storage"]; !ok {
		t.Error("Expected storage check to be reported")
	}
}

func TestHealthCheckDegradedBacklog(t *testing.T) {
	db := openMemoryDB(t)
	healthChecker := NewHealthChecker("1.0.0", db, nil)

	healthCheck := healthChecker.Check(5000, 4)

	if healthCheck.Status != HealthStatusDegraded {
		t.Errorf("Expected status degraded, got %s", healthCheck.Status)
	}
	if healthCheck.Checks["jobs"].Status != "degraded" {
		t.Errorf("Expected jobs check degraded, got %s", healthCheck.Checks["jobs"].Status)
	}
}

func TestHealthCheckStorageDown(t *testing.T) {
	db := openMemoryDB(t)
	healthChecker := NewHealthChecker("1.0.0", db, fakeProbe{err: errors.New("bucket missing")})

	healthCheck := healthChecker.Check(0, 0)

	if healthCheck.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", healthCheck.Status)
	}
}

func TestHealthCheckNoDatabase(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", nil, nil)

	healthCheck := healthChecker.Check(0, 0)

	if healthCheck.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", healthCheck.Status)
	}
	if healthCheck.DatabaseStatus != "disconnected" {
		t.Errorf("Expected database status disconnected, got %s", healthCheck.DatabaseStatus)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5*time.Minute + 30*time.Second, "5m 30s"},
		{2*time.Hour + 15*time.Minute + 10*time.Second, "2h 15m 10s"},
		{26*time.Hour + 5*time.Second, "1d 2h 0m 5s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %s, want %s", tt.duration, got, tt.expected)
			}
		})
	}
}
