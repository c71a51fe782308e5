package database

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/STRATINT/streamdump/internal/models"
	"github.com/google/uuid"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"sub/003.sql":    {Data: []byte("SELECT 3;")},
	}

	files, err := migrationFiles(fsys)
	if err != nil {
		t.Fatalf("migrationFiles returned error: %v", err)
	}

	want := []string{"001_first.sql", "002_second.sql"}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	content, err := embeddedMigrations.ReadFile("migrations/001_replica_runs.sql")
	if err != nil {
		t.Fatalf("expected embedded migration: %v", err)
	}
	if len(content) == 0 {
		t.Fatal("expected non-empty migration")
	}
}

func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("expected empty string to be NULL")
	}
	if ns := nullString("copy"); !ns.Valid || ns.String != "copy" {
		t.Errorf("unexpected NullString %+v", ns)
	}
}

func TestReplicaRunRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = testDatabaseURL(t, ctx)
	db, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := RunMigrations(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	repo := NewReplicaRunRepository(db)
	runID := uuid.New().String()
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	status := 401

	runs := []models.ReplicaRun{
		{RunID: runID, Replica: 1, Endpoint: "https://example.com/", Output: "target/stream_1.dat", Status: models.RunStatusFailed, Stage: "connect", HTTPStatus: &status, Error: "stream: HTTP error: 401 Unauthorized", StartedAt: started},
		{RunID: runID, Replica: 0, Endpoint: "https://example.com/", Output: "target/stream_0.dat", Status: models.RunStatusCompleted, Bytes: 42, StartedAt: started},
	}
	for _, run := range runs {
		if err := repo.Record(ctx, run); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := repo.ListByRun(ctx, runID)
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].Replica != 0 || got[0].Bytes != 42 || got[0].HTTPStatus != nil {
		t.Errorf("unexpected first run %+v", got[0])
	}
	if got[1].HTTPStatus == nil || *got[1].HTTPStatus != 401 || got[1].Stage != "connect" {
		t.Errorf("unexpected second run %+v", got[1])
	}

	if _, err := repo.DeleteOlderThan(ctx, time.Hour); err != nil {
		t.Fatalf("DeleteOlderThan(1h): %v", err)
	}
	if kept, err := repo.ListByRun(ctx, runID); err != nil || len(kept) != 2 {
		t.Errorf("expected recent runs to be kept, got %d (%v)", len(kept), err)
	}

	deleted, err := repo.DeleteOlderThan(ctx, 0)
	if err != nil {
		t.Fatalf("DeleteOlderThan(0): %v", err)
	}
	if deleted < 2 {
		t.Errorf("expected at least 2 deleted runs, got %d", deleted)
	}
	if got, err := repo.ListByRun(ctx, runID); err != nil || len(got) != 0 {
		t.Errorf("expected no runs after pruning, got %d (%v)", len(got), err)
	}
}
