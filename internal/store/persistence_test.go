package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// TestRegistryPersistence verifies that downloaded tracks survive a restart
func TestRegistryPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persistence_test.db")
	ctx := context.Background()

	db1, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	registry1 := NewRegistry(db1, nil)
	tracks := []DownloadedTrack{
		{ID: "a1", Artist: "X", Title: "Song", ArtworkRef: "url1", LocalPath: "/music/a1.mp3"},
		{ID: "b2", Artist: "Y", Title: "Other", ArtworkRef: "url2", LocalPath: "/music/b2.mp3"},
	}
	for _, track := range tracks {
		if err := registry1.Insert(ctx, track); err != nil {
			t.Fatalf("Failed to insert %s: %v", track.ID, err)
		}
	}
	registry1.Close()
	db1.Close()

	db2, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	registry2 := NewRegistry(db2, nil)
	listed, err := registry2.ListAll(ctx)
	if err != nil {
		t.Fatalf("Failed to list after restart: %v", err)
	}

	if len(listed) != len(tracks) {
		t.Fatalf("Expected %d tracks after restart, got %d", len(tracks), len(listed))
	}
	for i, track := range tracks {
		if listed[i].ID != track.ID || listed[i].LocalPath != track.LocalPath {
			t.Errorf("Track %d: expected %+v, got %+v", i, track, listed[i])
		}
	}
}

// TestJobPersistence verifies that interrupted jobs are visible after a restart
func TestJobPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs_test.db")
	ctx := context.Background()

	db1, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	jobs1 := NewJobStore(db1)
	if err := jobs1.Add(ctx, &Job{ID: "j1", TrackID: "a1", SourceURL: "u", Status: JobRunning}); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}
	db1.Close()

	db2, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	jobs2 := NewJobStore(db2)
	if _, err := jobs2.ResetRunning(ctx); err != nil {
		t.Fatalf("Failed to reset running jobs: %v", err)
	}

	job, err := jobs2.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Failed to get job after restart: %v", err)
	}
	if job.Status != JobPending {
		t.Errorf("Expected interrupted job to be pending, got %s", job.Status)
	}
}

// TestMigrationPersistence verifies that migrations are tracked correctly
func TestMigrationPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migration_test.db")

	db1, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := RunMigrations(db1); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	version1, err := getCurrentVersion(db1)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	db1.Close()

	if version1 != len(migrations) {
		t.Errorf("Expected version %d, got %d", len(migrations), version1)
	}

	db2, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	if err := RunMigrations(db2); err != nil {
		t.Fatalf("Failed to run migrations on second connection: %v", err)
	}

	version2, err := getCurrentVersion(db2)
	if err != nil {
		t.Fatalf("Failed to get version on second connection: %v", err)
	}

	if version1 != version2 {
		t.Errorf("Migration version changed: %d -> %d", version1, version2)
	}

	tables := []string{"downloaded_audio", "download_jobs", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := db2.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("Failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}
