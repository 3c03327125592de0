package main

import (
	"context"
	"testing"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/docsync"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
)

func TestRecordExternalEdit(t *testing.T) {
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatal(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	e := engine.New(conn, config.Default(workspace))

	ctx := context.Background()
	change := docsync.DocChange{
		Path:     "/specs/demo/requirements.md",
		Doc:      "requirements.md",
		Complete: false,
		Reason:   "placeholder content",
	}
	if err := recordExternalEdit(ctx, e, change); err != nil {
		t.Fatalf("record external edit: %v", err)
	}
	recorded, err := e.Repo.LatestEvents(ctx, 10, "", "docs.external_edit")
	if err != nil {
		t.Fatal(err)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected one event, got %d", len(recorded))
	}
	if recorded[0].EntityID != "requirements.md" {
		t.Fatalf("unexpected entity id %q", recorded[0].EntityID)
	}
}
