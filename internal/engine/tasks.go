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

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID    string
	ParentID     string
	Title        string
	Description  string
	Phase        string
	Status       string
	AssigneeType string
	Priority     int
	Requirements []string
	DependsOn    []string
	ActorID      string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.ProjectID == "" {
		return domain.Task{}, ValidationError{Field: "project_id", Reason: "required"}
	}
	if !domain.ValidPhase(opts.Phase) {
		return domain.Task{}, ValidationError{Field: "phase", Reason: fmt.Sprintf("unknown value %q", opts.Phase)}
	}
	if opts.Status == "" {
		opts.Status = domain.TaskPending
	}
	if !domain.ValidTaskStatus(opts.Status) {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", opts.Status)}
	}
	if opts.Priority == 0 {
		opts.Priority = 1
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
		return domain.Task{}, err
	}
	if opts.ParentID != "" {
		parent, err := e.Repo.GetTask(ctx, opts.ParentID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("parent task %s: %w", opts.ParentID, err)
		}
		if parent.ProjectID != opts.ProjectID {
			return domain.Task{}, ValidationError{Field: "parent_id", Reason: "parent in different project"}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:           idgen.New(),
		ProjectID:    opts.ProjectID,
		ParentID:     optionalString(opts.ParentID),
		Title:        opts.Title,
		Description:  opts.Description,
		Phase:        opts.Phase,
		Status:       opts.Status,
		AssigneeType: opts.AssigneeType,
		Priority:     opts.Priority,
		Requirements: opts.Requirements,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if len(opts.DependsOn) > 0 {
		// Dependency ids are recorded as given; existence is only consulted
		// by dependency gating at read time.
		if err := e.Repo.ReplaceDependencies(ctx, tx, t.ID, opts.DependsOn); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "phase": t.Phase}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.DependsOn = opts.DependsOn
	return t, nil
}

// TaskUpdateOptions encapsulates allowed task updates; nil fields are kept.
type TaskUpdateOptions struct {
	ID           string
	Title        *string
	Description  *string
	Phase        *string
	Status       *string
	AssigneeType *string
	Priority     *int
	Requirements []string
	SetParent    *string
	DependsOn    []string
	HasDepends   bool
	Note         string
	ActorID      string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Phase != nil && !domain.ValidPhase(*opts.Phase) {
		return domain.Task{}, ValidationError{Field: "phase", Reason: fmt.Sprintf("unknown value %q", *opts.Phase)}
	}
	if opts.Status != nil && !domain.ValidTaskStatus(*opts.Status) {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", *opts.Status)}
	}
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, ValidationError{Field: "title", Reason: "must not be empty"}
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Phase != nil {
		t.Phase = *opts.Phase
	}
	if opts.Status != nil {
		t.Status = *opts.Status
	}
	if opts.AssigneeType != nil {
		t.AssigneeType = *opts.AssigneeType
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	if opts.Requirements != nil {
		t.Requirements = opts.Requirements
	}
	if opts.SetParent != nil {
		if *opts.SetParent == "" {
			t.ParentID = nil
		} else {
			parent, err := e.Repo.GetTask(ctx, *opts.SetParent)
			if err != nil {
				return t, fmt.Errorf("parent task %s: %w", *opts.SetParent, err)
			}
			if parent.ProjectID != t.ProjectID {
				return t, ValidationError{Field: "parent_id", Reason: "parent in different project"}
			}
			t.ParentID = opts.SetParent
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if opts.HasDepends {
		if err := e.Repo.ReplaceDependencies(ctx, tx, t.ID, opts.DependsOn); err != nil {
			return t, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.DependsOn, _ = e.Repo.ListTaskDependencies(ctx, t.ID)
	if original.Status != t.Status || opts.Note != "" {
		p, perr := e.Repo.GetProject(ctx, t.ProjectID)
		if perr == nil {
			if err := e.Docs.AppendTaskProgress(p, t, original.Status, opts.Note); err != nil {
				e.warnf("docs: task progress log %s: %v", t.ID, err)
			}
		}
	}
	return t, nil
}

// DeleteTask removes a task and its subtree; dependents of the task stay.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTaskCascade(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.ProjectID, "task", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// CheckDependencies reports whether every dependency of the task is
// completed. An empty dependency list is unconditionally satisfied, and a
// dangling dependency id never blocks.
func (e Engine) CheckDependencies(ctx context.Context, taskID string) (bool, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if len(t.DependsOn) == 0 {
		return true, nil
	}
	n, err := e.Repo.CountIncompleteDependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// QueryTasks lists tasks flat, or as hierarchy roots when asked.
func (e Engine) QueryTasks(ctx context.Context, f repo.TaskFilters, includeHierarchy bool) ([]domain.Task, []*domain.TaskNode, error) {
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	if !includeHierarchy {
		return tasks, nil, nil
	}
	return tasks, BuildTaskTree(tasks), nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
