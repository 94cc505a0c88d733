package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

func openBenchDB(b *testing.B) *sql.DB {
	b.Helper()

	db, err := InitDB(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Failed to initialize database: %v", err)
	}
	b.Cleanup(func() { db.Close() })
	return db
}

func fillRegistry(b *testing.B, registry *Registry, n int) {
	b.Helper()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		track := DownloadedTrack{
			ID:        fmt.Sprintf("track_%d", i),
			Artist:    fmt.Sprintf("Artist %d", i%100),
			Title:     fmt.Sprintf("Track %d", i),
			LocalPath: fmt.Sprintf("/music/track_%d.mp3", i),
		}
		if err := registry.Insert(ctx, track); err != nil {
			b.Fatalf("Failed to insert: %v", err)
		}
	}
}

// BenchmarkRegistryInsert includes publishing a snapshot to one subscriber
func BenchmarkRegistryInsert(b *testing.B) {
	registry := NewRegistry(openBenchDB(b), nil)
	defer registry.Close()
	ctx := context.Background()

	sub, err := registry.Subscribe(ctx)
	if err != nil {
		b.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		track := DownloadedTrack{
			ID:        fmt.Sprintf("track_%d", i),
			Title:     fmt.Sprintf("Track %d", i),
			LocalPath: fmt.Sprintf("/music/track_%d.mp3", i),
		}
		if err := registry.Insert(ctx, track); err != nil {
			b.Fatalf("Failed to insert: %v", err)
		}
	}
}

func BenchmarkRegistryIsDownloaded(b *testing.B) {
	registry := NewRegistry(openBenchDB(b), nil)
	defer registry.Close()
	fillRegistry(b, registry, 1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := registry.IsDownloaded(ctx, fmt.Sprintf("track_%d", i%2000)); err != nil {
			b.Fatalf("Failed to query: %v", err)
		}
	}
}

func BenchmarkRegistryListAll(b *testing.B) {
	registry := NewRegistry(openBenchDB(b), nil)
	defer registry.Close()
	fillRegistry(b, registry, 1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := registry.ListAll(ctx); err != nil {
			b.Fatalf("Failed to list: %v", err)
		}
	}
}

func BenchmarkJobStats(b *testing.B) {
	jobs := NewJobStore(openBenchDB(b))
	ctx := context.Background()

	for i := 0; i < 5000; i++ {
		status := JobPending
		if i%4 == 0 {
			status = JobCompleted
		}
		job := &Job{ID: fmt.Sprintf("job_%d", i), TrackID: fmt.Sprintf("track_%d", i), SourceURL: "https://cdn.example.com/a.mp3", Status: status}
		if err := jobs.Add(ctx, job); err != nil {
			b.Fatalf("Failed to add job: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := jobs.Stats(ctx); err != nil {
			b.Fatalf("Failed to get stats: %v", err)
		}
	}
}
