package docsync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"phaseline/internal/domain"
)

func newTestSyncer(t *testing.T) *Syncer {
	t.Helper()
	dir := t.TempDir()
	return &Syncer{
		Enabled:      true,
		SpecsRoot:    filepath.Join(dir, "specs"),
		TrackingRoot: filepath.Join(dir, "tracking"),
		Now:          func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func testProject() domain.Project {
	return domain.Project{
		ID:           "p1",
		Name:         "My Demo Project",
		Description:  "a demo",
		Status:       domain.ProjectActive,
		CurrentPhase: domain.PhaseRequirements,
		CreatedAt:    "2024-01-01T00:00:00Z",
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"My Demo Project": "my-demo-project",
		"v2: API / Auth!": "v2-api-auth",
		"already-slugged": "already-slugged",
		"  spaced  out  ": "spaced-out",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteSpecDocCreatesUnderPrimaryRoot(t *testing.T) {
	s := newTestSyncer(t)
	path, err := s.WriteSpecDoc("My Demo Project", DocRequirements, "# Requirements\n")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := filepath.Join(s.SpecsRoot, "my-demo-project", DocRequirements)
	if path != want {
		t.Fatalf("wrote to %s, want %s", path, want)
	}
}

func TestResolvePrefersLegacyRootOverCreation(t *testing.T) {
	s := newTestSyncer(t)
	legacy := filepath.Join(t.TempDir(), "old-docs")
	s.LegacyRoots = []string{legacy}
	legacyPath := filepath.Join(legacy, "my-demo-project", DocDesign)
	if err := os.MkdirAll(filepath.Dir(legacyPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(legacyPath, []byte("# Design\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, err := s.WriteSpecDoc("My Demo Project", DocDesign, "# Design\n\nupdated\n")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != legacyPath {
		t.Fatalf("expected overwrite in place at %s, wrote %s", legacyPath, path)
	}
	if _, err := os.Stat(filepath.Join(s.SpecsRoot, "my-demo-project", DocDesign)); !os.IsNotExist(err) {
		t.Fatal("document duplicated under primary root")
	}
}

func TestResolveFindsFlatLayout(t *testing.T) {
	s := newTestSyncer(t)
	flat := filepath.Join(s.SpecsRoot, "my-demo-project-"+DocTasks)
	if err := os.MkdirAll(s.SpecsRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(flat, []byte("# Tasks\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, found := s.Resolve("My Demo Project", DocTasks)
	if !found || path != flat {
		t.Fatalf("expected flat layout hit at %s, got %s found=%v", flat, path, found)
	}
}

func TestPrimaryRootWinsOverFlat(t *testing.T) {
	s := newTestSyncer(t)
	primary := filepath.Join(s.SpecsRoot, "my-demo-project", DocTasks)
	flat := filepath.Join(s.SpecsRoot, "my-demo-project-"+DocTasks)
	for _, p := range []string{primary, flat} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("# Tasks\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path, found := s.Resolve("My Demo Project", DocTasks)
	if !found || path != primary {
		t.Fatalf("expected primary hit at %s, got %s", primary, path)
	}
}

func TestDisabledSyncerIsNoOp(t *testing.T) {
	s := newTestSyncer(t)
	s.Enabled = false
	if err := s.InitProject(testProject()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if path, err := s.WriteSpecDoc("My Demo Project", DocRequirements, "x"); err != nil || path != "" {
		t.Fatalf("expected no-op write, got %q %v", path, err)
	}
	if _, err := os.Stat(s.SpecsRoot); !os.IsNotExist(err) {
		t.Fatal("disabled syncer created files")
	}
}

func TestInitProjectLaysDownSkeleton(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	if err := s.InitProject(p); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, doc := range []string{DocProject, DocRequirements, DocDesign, DocTasks} {
		if _, found := s.Resolve(p.Name, doc); !found {
			t.Fatalf("missing %s", doc)
		}
	}
	overview, err := os.ReadFile(filepath.Join(s.TrackingRoot, "my-demo-project", DocOverview))
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if !strings.Contains(string(overview), "Current phase: requirements") {
		t.Fatalf("overview missing phase marker:\n%s", overview)
	}
	if !strings.Contains(string(overview), "- [ ] Requirements") {
		t.Fatalf("overview missing checklist:\n%s", overview)
	}
}

func TestInitProjectKeepsExistingDocs(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	custom := "# Requirements\n\nhand-written content that must survive\n"
	if _, err := s.WriteSpecDoc(p.Name, DocRequirements, custom); err != nil {
		t.Fatal(err)
	}
	if err := s.InitProject(p); err != nil {
		t.Fatalf("init: %v", err)
	}
	path, _ := s.Resolve(p.Name, DocRequirements)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != custom {
		t.Fatalf("existing document overwritten:\n%s", content)
	}
}

func TestUpdateOverviewTicksPhase(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	if err := s.InitProject(p); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateOverview(p, domain.PhaseRequirements, domain.PhaseDesign); err != nil {
		t.Fatalf("update overview: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(s.TrackingRoot, "my-demo-project", DocOverview))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "- [x] Requirements") {
		t.Fatalf("requirements not ticked:\n%s", content)
	}
	if !strings.Contains(string(content), "Current phase: design") {
		t.Fatalf("phase marker not moved:\n%s", content)
	}
}

func TestUpdateOverviewRegeneratesAfterFinalPhase(t *testing.T) {
	s := newTestSyncer(t)
	p := domain.Project{
		Name:         "My Demo Project",
		Status:       domain.ProjectActive,
		CurrentPhase: domain.PhaseExecute,
	}
	// No overview exists, so the update regenerates it; the snapshot
	// predates the handoff but the rendered checklist must reflect it.
	if err := s.UpdateOverview(p, domain.PhaseExecute, domain.PhaseComplete); err != nil {
		t.Fatalf("update overview: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(s.TrackingRoot, "my-demo-project", DocOverview))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "- [x] Execute") {
		t.Fatalf("execute not ticked:\n%s", content)
	}
}

func TestUpdateOverviewPreservesHumanEdits(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	if err := s.InitProject(p); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(s.TrackingRoot, "my-demo-project", DocOverview)
	content, _ := os.ReadFile(path)
	edited := string(content) + "\n## Team notes\n\nkeep me\n"
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateOverview(p, domain.PhaseRequirements, domain.PhaseDesign); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(path)
	if !strings.Contains(string(after), "keep me") {
		t.Fatalf("human edit lost:\n%s", after)
	}
}

func TestWriteHandoffDocument(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	err := s.WriteHandoff(p, domain.PhaseRequirements, domain.PhaseDesign,
		domain.ContextMap{"spec": "requirements.md"}, "ready for design")
	if err != nil {
		t.Fatalf("write handoff: %v", err)
	}
	path := filepath.Join(s.TrackingRoot, "my-demo-project", "handoffs", "requirements-to-design.md")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read handoff: %v", err)
	}
	text := string(content)
	for _, want := range []string{"spec: requirements.md", "ready for design", "## Next: Design"} {
		if !strings.Contains(text, want) {
			t.Fatalf("handoff missing %q:\n%s", want, text)
		}
	}
}

func TestAppendTaskProgressAccumulates(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	task := domain.Task{ID: "t1", Title: "build the thing", Phase: domain.PhaseExecute, Status: domain.TaskInProgress}
	if err := s.AppendTaskProgress(p, task, domain.TaskPending, "started"); err != nil {
		t.Fatal(err)
	}
	task.Status = domain.TaskCompleted
	if err := s.AppendTaskProgress(p, task, domain.TaskInProgress, ""); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(s.TrackingRoot, "my-demo-project", "tasks", "t1.md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)
	if !strings.Contains(text, "# build the thing") {
		t.Fatalf("missing header:\n%s", text)
	}
	if !strings.Contains(text, "pending → in_progress — started") {
		t.Fatalf("missing first entry:\n%s", text)
	}
	if !strings.Contains(text, "in_progress → completed") {
		t.Fatalf("missing second entry:\n%s", text)
	}
}

func TestHistoryOrdersSections(t *testing.T) {
	s := newTestSyncer(t)
	p := testProject()
	if err := s.InitProject(p); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteHandoff(p, domain.PhaseDesign, domain.PhaseTasks, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteHandoff(p, domain.PhaseRequirements, domain.PhaseDesign, nil, ""); err != nil {
		t.Fatal(err)
	}
	history, err := s.History(p)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	overviewIdx := strings.Index(history, "Overview")
	firstHandoff := strings.Index(history, "Handoff: Requirements → Design")
	secondHandoff := strings.Index(history, "Handoff: Design → Tasks")
	if overviewIdx < 0 || firstHandoff < 0 || secondHandoff < 0 {
		t.Fatalf("history missing sections:\n%s", history)
	}
	if !(overviewIdx < firstHandoff && firstHandoff < secondHandoff) {
		t.Fatalf("history out of order: overview=%d first=%d second=%d", overviewIdx, firstHandoff, secondHandoff)
	}
}
