package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(dir))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Warnf = func(format string, args ...any) { t.Logf(format, args...) }
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, "demo", "test project", "tester")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Project: p}
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project
	if len(p.ID) != 32 {
		t.Fatalf("expected 32-char id, got %q", p.ID)
	}
	if p.Status != domain.ProjectActive {
		t.Fatalf("expected active, got %q", p.Status)
	}
	if p.CurrentPhase != domain.PhaseRequirements {
		t.Fatalf("expected requirements, got %q", p.CurrentPhase)
	}
}

func TestCreateProjectDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, "demo", "", "tester")
	if !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateProjectRejectsUnknownEnums(t *testing.T) {
	env := newTestEnv(t)
	bad := "archived"
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: env.Project.ID, Status: &bad, ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Fatalf("expected status validation error, got %v", err)
	}
	badPhase := "deploy"
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: env.Project.ID, CurrentPhase: &badPhase, ActorID: "tester"})
	if !errors.As(err, &ve) || ve.Field != "current_phase" {
		t.Fatalf("expected phase validation error, got %v", err)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "work", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.SaveContext(env.Ctx, env.Project.ID, domain.ActorDesign, domain.ContextMap{"k": "v"}, ""); err != nil {
		t.Fatalf("save context: %v", err)
	}
	cp, err := env.Engine.CreateCheckpoint(env.Ctx, env.Project.ID, domain.PhaseRequirements, nil, "tester")
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, env.Project.ID, "tester"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
	if _, err := env.Engine.Repo.GetCheckpoint(env.Ctx, cp.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected checkpoint gone, got %v", err)
	}
	sessions, err := env.Engine.Repo.ListSessionsByProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "work", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.TaskPending {
		t.Fatalf("expected pending, got %q", task.Status)
	}
	if task.Priority != 1 {
		t.Fatalf("expected priority 1, got %d", task.Priority)
	}
}

func TestTaskParentMustShareProject(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateProject(env.Ctx, "other", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	parent, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: other.ID, Title: "parent", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, ParentID: parent.ID, Title: "child", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "parent_id" {
		t.Fatalf("expected parent_id validation error, got %v", err)
	}
}

func TestDependencyGating(t *testing.T) {
	env := newTestEnv(t)
	t1, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "first", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	t2, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "second", Phase: domain.PhaseExecute, DependsOn: []string{t1.ID}, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := env.Engine.CheckDependencies(env.Ctx, t2.ID)
	if err != nil {
		t.Fatalf("check deps: %v", err)
	}
	if ok {
		t.Fatal("expected unsatisfied while dependency pending")
	}
	status := domain.TaskCompleted
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: t1.ID, Status: &status, ActorID: "tester"}); err != nil {
		t.Fatalf("complete dependency: %v", err)
	}
	ok, err = env.Engine.CheckDependencies(env.Ctx, t2.ID)
	if err != nil {
		t.Fatalf("check deps: %v", err)
	}
	if !ok {
		t.Fatal("expected satisfied after dependency completed")
	}
}

func TestDanglingDependencyNeverBlocks(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "work", Phase: domain.PhaseExecute,
		DependsOn: []string{"00000000000000000000000000000000"}, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := env.Engine.CheckDependencies(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("check deps: %v", err)
	}
	if !ok {
		t.Fatal("dangling dependency id must not block")
	}
}

func TestDeleteTaskRemovesSubtree(t *testing.T) {
	env := newTestEnv(t)
	parent, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "parent", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	child, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, ParentID: parent.ID, Title: "child", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, parent.ID, "tester"); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, child.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected child gone, got %v", err)
	}
}

func TestSaveContextMerges(t *testing.T) {
	env := newTestEnv(t)
	s1, err := env.Engine.SaveContext(env.Ctx, env.Project.ID, domain.ActorDesign, domain.ContextMap{"a": float64(1)}, "")
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	s2, err := env.Engine.SaveContext(env.Ctx, env.Project.ID, domain.ActorDesign, domain.ContextMap{"b": float64(2)}, "design notes")
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected same session, got %s and %s", s1.ID, s2.ID)
	}
	if s2.Context["a"] != float64(1) || s2.Context["b"] != float64(2) {
		t.Fatalf("expected merged context, got %v", s2.Context)
	}
	if s2.Summary != "design notes" {
		t.Fatalf("expected summary kept, got %q", s2.Summary)
	}
}

func TestLoadAllGroupsByActorType(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveContext(env.Ctx, env.Project.ID, domain.ActorDesign, domain.ContextMap{"k": "design"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveContext(env.Ctx, env.Project.ID, domain.ActorImplementation, domain.ContextMap{"k": "impl"}, ""); err != nil {
		t.Fatal(err)
	}
	bundle, err := env.Engine.LoadAll(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(bundle.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(bundle.Sessions))
	}
	if bundle.Contexts[domain.ActorDesign]["k"] != "design" {
		t.Fatalf("unexpected design context: %v", bundle.Contexts[domain.ActorDesign])
	}
	if bundle.Contexts[domain.ActorImplementation]["k"] != "impl" {
		t.Fatalf("unexpected implementation context: %v", bundle.Contexts[domain.ActorImplementation])
	}
}

func TestAssignTaskRepointsSession(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "work", Phase: domain.PhaseExecute, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.AssignTask(env.Ctx, task.ID, domain.ActorImplementation)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if s.TaskID == nil || *s.TaskID != task.ID {
		t.Fatalf("expected session pointed at task, got %v", s.TaskID)
	}
}

func TestHandoffAdvancesPhase(t *testing.T) {
	env := newTestEnv(t)
	status := domain.TaskCompleted
	done, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "gather requirements", Phase: domain.PhaseRequirements, Status: status, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Handoff(env.Ctx, engine.HandoffOptions{
		ProjectID:    env.Project.ID,
		CurrentPhase: domain.PhaseRequirements,
		Deliverables: domain.ContextMap{"doc": "requirements.md"},
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if res.NextPhase != domain.PhaseDesign {
		t.Fatalf("expected design, got %q", res.NextPhase)
	}
	if len(res.Checkpoint.State.CompletedTasks) != 1 || res.Checkpoint.State.CompletedTasks[0] != done.ID {
		t.Fatalf("unexpected completed tasks: %v", res.Checkpoint.State.CompletedTasks)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentPhase != domain.PhaseDesign {
		t.Fatalf("expected project in design, got %q", p.CurrentPhase)
	}
}

func TestHandoffFromLastPhaseCompletesProject(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Handoff(env.Ctx, engine.HandoffOptions{
		ProjectID:    env.Project.ID,
		CurrentPhase: domain.PhaseExecute,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if res.NextPhase != domain.PhaseComplete {
		t.Fatalf("expected complete, got %q", res.NextPhase)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.ProjectCompleted {
		t.Fatalf("expected completed project, got %q", p.Status)
	}
	// The declared phase differed from the actual one; the mismatch is
	// recorded, not rejected.
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, env.Project.ID, "workflow.handoff.phase_mismatch")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one mismatch event, got %d", len(events))
	}
}

func TestHandoffRejectsUnknownPhase(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Handoff(env.Ctx, engine.HandoffOptions{
		ProjectID:    env.Project.ID,
		CurrentPhase: "excute",
		ActorID:      "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "current_phase" {
		t.Fatalf("expected current_phase validation error, got %v", err)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.ProjectActive || p.CurrentPhase != domain.PhaseRequirements {
		t.Fatalf("project mutated by rejected handoff: status=%q phase=%q", p.Status, p.CurrentPhase)
	}
	items, err := env.Engine.Repo.ListCheckpoints(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no checkpoints, got %d", len(items))
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	state, err := env.Engine.Resume(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state.Checkpoint != nil {
		t.Fatalf("expected nil checkpoint, got %v", state.Checkpoint)
	}
	if state.CurrentPhase != domain.PhaseRequirements {
		t.Fatalf("expected requirements, got %q", state.CurrentPhase)
	}
}

func TestResumeIsRepeatable(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID, Title: "spec", Phase: domain.PhaseRequirements, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateCheckpoint(env.Ctx, env.Project.ID, domain.PhaseRequirements, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.Resume(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.Resume(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Checkpoint == nil || second.Checkpoint == nil || first.Checkpoint.ID != second.Checkpoint.ID {
		t.Fatalf("expected identical checkpoints, got %v and %v", first.Checkpoint, second.Checkpoint)
	}
	if len(first.PendingTasks) != 1 || len(second.PendingTasks) != 1 {
		t.Fatalf("expected one pending task in both resumes")
	}
}

func TestCheckpointsAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	cp, err := env.Engine.CreateCheckpoint(env.Ctx, env.Project.ID, domain.PhaseRequirements, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	cp.Phase = domain.PhaseDesign
	err = env.Engine.Repo.UpdateCheckpoint(env.Ctx, cp)
	if !errors.Is(err, repo.ErrCheckpointImmutable) {
		t.Fatalf("expected ErrCheckpointImmutable, got %v", err)
	}
	got, err := env.Engine.Repo.GetCheckpoint(env.Ctx, cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseRequirements {
		t.Fatalf("checkpoint mutated to %q", got.Phase)
	}
}

func TestPurgeCheckpoints(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.CreateCheckpoint(env.Ctx, env.Project.ID, domain.PhaseRequirements, nil, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := env.Engine.PurgeCheckpoints(env.Ctx, env.Project.ID, "tester")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 purged, got %d", n)
	}
	items, err := env.Engine.Repo.ListCheckpoints(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no checkpoints, got %d", len(items))
	}
}
