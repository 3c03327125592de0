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

// SaveContext merges the supplied partial context into the session for the
// (project, actor type) pair, creating the session when none exists. The
// merge is shallow: new keys overwrite old, untouched keys survive. This is
// read-modify-write; concurrent writers to the same session can lose updates,
// which is accepted because sessions are one-writer-at-a-time by convention.
func (e Engine) SaveContext(ctx context.Context, projectID, actorType string, delta domain.ContextMap, summary string) (domain.AgentSession, error) {
	if !domain.ValidActorType(actorType) {
		return domain.AgentSession{}, ValidationError{Field: "actor_type", Reason: fmt.Sprintf("unknown value %q", actorType)}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.AgentSession{}, fmt.Errorf("project %s: %w", projectID, err)
		}
		return domain.AgentSession{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s, err := e.Repo.GetSessionByProjectActor(ctx, projectID, actorType)
	created := false
	switch {
	case errors.Is(err, repo.ErrNotFound):
		created = true
		s = domain.AgentSession{
			ID:        idgen.New(),
			ProjectID: projectID,
			ActorType: actorType,
			Context:   domain.ContextMap{},
		}
	case err != nil:
		return domain.AgentSession{}, err
	}
	s.Context = s.Context.Merge(delta)
	if summary != "" {
		s.Summary = summary
	}
	s.LastActive = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentSession{}, err
	}
	defer tx.Rollback()
	if created {
		if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
			return domain.AgentSession{}, err
		}
	} else {
		if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
			return domain.AgentSession{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "session.saved", projectID, "session", s.ID, actorType, events.EventPayload{"created": created}); err != nil {
		return domain.AgentSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentSession{}, err
	}
	return s, nil
}

// SessionBundle is everything LoadAll returns: every session of the project
// plus the most recent context per actor type.
type SessionBundle struct {
	Contexts map[string]domain.ContextMap `json:"contexts"`
	Sessions []domain.AgentSession        `json:"sessions"`
}

// LoadAll fetches the project's sessions and refreshes their liveness
// timestamps, since loading counts as access.
func (e Engine) LoadAll(ctx context.Context, projectID string) (SessionBundle, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return SessionBundle{}, err
	}
	sessions, err := e.Repo.ListSessionsByProject(ctx, projectID)
	if err != nil {
		return SessionBundle{}, err
	}
	bundle := SessionBundle{Contexts: map[string]domain.ContextMap{}, Sessions: sessions}
	now := e.now().UTC().Format(time.RFC3339)
	for _, s := range sessions {
		// Sessions come back newest-active first, so the first session seen
		// per actor type carries the authoritative context.
		if _, ok := bundle.Contexts[s.ActorType]; !ok {
			bundle.Contexts[s.ActorType] = s.Context
		}
		if err := e.Repo.TouchSession(ctx, s.ID, now); err != nil {
			return SessionBundle{}, err
		}
	}
	return bundle, nil
}

// AssignTask points the session of the given actor type at a task, creating
// the session when the pair has none yet.
func (e Engine) AssignTask(ctx context.Context, taskID, actorType string) (domain.AgentSession, error) {
	if !domain.ValidActorType(actorType) {
		return domain.AgentSession{}, ValidationError{Field: "actor_type", Reason: fmt.Sprintf("unknown value %q", actorType)}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.AgentSession{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	s, err := e.Repo.GetSessionByProjectActor(ctx, t.ProjectID, actorType)
	created := false
	switch {
	case errors.Is(err, repo.ErrNotFound):
		created = true
		s = domain.AgentSession{
			ID:        idgen.New(),
			ProjectID: t.ProjectID,
			ActorType: actorType,
			Context:   domain.ContextMap{},
		}
	case err != nil:
		return domain.AgentSession{}, err
	}
	s.TaskID = &t.ID
	s.LastActive = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentSession{}, err
	}
	defer tx.Rollback()
	if created {
		if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
			return domain.AgentSession{}, err
		}
	} else {
		if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
			return domain.AgentSession{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "session.assigned", t.ProjectID, "session", s.ID, actorType, events.EventPayload{"task_id": t.ID}); err != nil {
		return domain.AgentSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentSession{}, err
	}
	return s, nil
}
