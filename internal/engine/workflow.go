package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phaseline/internal/domain"
	"phaseline/internal/events"
	"phaseline/internal/idgen"
	"phaseline/internal/repo"
)

// HandoffResult is what a completed handoff hands back to the caller.
type HandoffResult struct {
	Checkpoint domain.WorkflowCheckpoint `json:"checkpoint"`
	NextPhase  string                    `json:"next_phase"`
}

// checkpointState derives the snapshot payload for a phase: every completed
// task id for that phase plus the first in-progress one as "current".
// Deliverables come from the caller, never from the store.
func (e Engine) checkpointState(ctx context.Context, projectID, phase string, deliverables domain.ContextMap, extraCompleted []string) (domain.CheckpointState, error) {
	completed, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, Phase: phase, Status: domain.TaskCompleted})
	if err != nil {
		return domain.CheckpointState{}, err
	}
	inProgress, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, Phase: phase, Status: domain.TaskInProgress})
	if err != nil {
		return domain.CheckpointState{}, err
	}
	state := domain.CheckpointState{CompletedTasks: []string{}, Deliverables: deliverables}
	seen := map[string]bool{}
	for _, t := range completed {
		state.CompletedTasks = append(state.CompletedTasks, t.ID)
		seen[t.ID] = true
	}
	for _, id := range extraCompleted {
		if !seen[id] {
			state.CompletedTasks = append(state.CompletedTasks, id)
			seen[id] = true
		}
	}
	if len(inProgress) > 0 {
		state.CurrentTask = &inProgress[0].ID
	}
	return state, nil
}

// CreateCheckpoint snapshots a phase's completion state without advancing
// the workflow. The phase label is recorded as given.
func (e Engine) CreateCheckpoint(ctx context.Context, projectID, phase string, deliverables domain.ContextMap, actorID string) (domain.WorkflowCheckpoint, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.WorkflowCheckpoint{}, err
	}
	state, err := e.checkpointState(ctx, projectID, phase, deliverables, nil)
	if err != nil {
		return domain.WorkflowCheckpoint{}, err
	}
	c := domain.WorkflowCheckpoint{
		ID:        idgen.New(),
		ProjectID: projectID,
		Phase:     phase,
		State:     state,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowCheckpoint{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCheckpoint(ctx, tx, c); err != nil {
		return domain.WorkflowCheckpoint{}, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.checkpoint", projectID, "checkpoint", c.ID, actorID, events.EventPayload{"phase": phase}); err != nil {
		return domain.WorkflowCheckpoint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowCheckpoint{}, err
	}
	return c, nil
}

// HandoffOptions parameterize a phase handoff.
type HandoffOptions struct {
	ProjectID        string
	CurrentPhase     string
	Deliverables     domain.ContextMap
	Notes            string
	CompletedTaskIDs []string
	ActorID          string
}

// Handoff closes the declared phase: it checkpoints the phase's task state,
// advances the project to the next phase in the fixed sequence, or marks the
// project completed when the declared phase was the last, then mirrors a
// handoff document. The declared phase must be a known phase; a valid phase
// that differs from the project's actual current phase is taken at face value
// and the mismatch is recorded as an audit event instead of being rejected.
func (e Engine) Handoff(ctx context.Context, opts HandoffOptions) (HandoffResult, error) {
	if opts.CurrentPhase == "" {
		return HandoffResult{}, ValidationError{Field: "current_phase", Reason: "required"}
	}
	if !domain.ValidPhase(opts.CurrentPhase) {
		return HandoffResult{}, ValidationError{Field: "current_phase", Reason: fmt.Sprintf("unknown value %q", opts.CurrentPhase)}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return HandoffResult{}, err
	}
	state, err := e.checkpointState(ctx, opts.ProjectID, opts.CurrentPhase, opts.Deliverables, opts.CompletedTaskIDs)
	if err != nil {
		return HandoffResult{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.WorkflowCheckpoint{
		ID:        idgen.New(),
		ProjectID: opts.ProjectID,
		Phase:     opts.CurrentPhase,
		State:     state,
		CreatedAt: now,
	}
	next := domain.NextPhase(opts.CurrentPhase)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return HandoffResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCheckpoint(ctx, tx, c); err != nil {
		return HandoffResult{}, err
	}
	if opts.CurrentPhase != p.CurrentPhase {
		if err := e.Events.Append(ctx, tx, "workflow.handoff.phase_mismatch", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
			"declared": opts.CurrentPhase,
			"actual":   p.CurrentPhase,
		}); err != nil {
			return HandoffResult{}, err
		}
	}
	var u repo.ProjectUpdate
	if next == domain.PhaseComplete {
		status := domain.ProjectCompleted
		u.Status = &status
	} else {
		u.CurrentPhase = &next
	}
	if err := e.Repo.UpdateProject(ctx, tx, p.ID, u, now); err != nil {
		return HandoffResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.handoff", p.ID, "checkpoint", c.ID, opts.ActorID, events.EventPayload{
		"phase":      opts.CurrentPhase,
		"next_phase": next,
	}); err != nil {
		return HandoffResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return HandoffResult{}, err
	}

	if err := e.Docs.WriteHandoff(p, opts.CurrentPhase, next, opts.Deliverables, opts.Notes); err != nil {
		e.warnf("docs: handoff document %s/%s: %v", p.Name, opts.CurrentPhase, err)
	}
	if err := e.Docs.UpdateOverview(p, opts.CurrentPhase, next); err != nil {
		e.warnf("docs: overview update %s: %v", p.Name, err)
	}
	return HandoffResult{Checkpoint: c, NextPhase: next}, nil
}

// Resume reconstructs resumable workflow state: project snapshot, latest
// checkpoint (nil when none exists) and the current phase's tasks split into
// pending and completed. It is read-only; repeated calls with no intervening
// writes return equivalent results.
func (e Engine) Resume(ctx context.Context, projectID string) (domain.ResumeState, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ResumeState{}, err
	}
	state := domain.ResumeState{
		Project:        p,
		CurrentPhase:   p.CurrentPhase,
		PendingTasks:   []domain.Task{},
		CompletedTasks: []domain.Task{},
	}
	latest, err := e.Repo.LatestCheckpoint(ctx, projectID)
	switch {
	case err == nil:
		state.Checkpoint = &latest
	case errors.Is(err, repo.ErrNotFound):
		// No checkpoint yet is a valid resume position.
	default:
		return domain.ResumeState{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, Phase: p.CurrentPhase})
	if err != nil {
		return domain.ResumeState{}, err
	}
	for _, t := range tasks {
		if t.Status == domain.TaskCompleted {
			state.CompletedTasks = append(state.CompletedTasks, t)
		} else {
			state.PendingTasks = append(state.PendingTasks, t)
		}
	}
	return state, nil
}

// PurgeCheckpoints drops every checkpoint of a project.
func (e Engine) PurgeCheckpoints(ctx context.Context, projectID, actorID string) (int64, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	n, err := e.Repo.PurgeCheckpoints(ctx, projectID)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return n, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "workflow.checkpoints.purged", projectID, "project", projectID, actorID, events.EventPayload{"count": n}); err != nil {
		return n, err
	}
	return n, tx.Commit()
}
