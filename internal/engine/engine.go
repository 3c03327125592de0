package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"phaseline/internal/config"
	"phaseline/internal/docsync"
	"phaseline/internal/domain"
	"phaseline/internal/events"
	"phaseline/internal/idgen"
	"phaseline/internal/repo"
)

// Engine owns every mutating operation. Reads go straight through Repo.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Docs   *docsync.Syncer
	Now    func() time.Time
	// Warnf reports best-effort mirror failures; they never fail the
	// operation that triggered them.
	Warnf func(format string, args ...any)
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Docs:   docsync.New(cfg),
		Now:    time.Now,
		Warnf:  log.Printf,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) warnf(format string, args ...any) {
	if e.Warnf != nil {
		e.Warnf(format, args...)
	}
}

// ValidationError names the offending field; it is always raised before any
// mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CreateProject creates a project under the default active/requirements
// state and mirrors its document skeleton.
func (e Engine) CreateProject(ctx context.Context, name, description, actorID string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:           idgen.New(),
		Name:         name,
		Description:  description,
		Status:       domain.ProjectActive,
		CurrentPhase: domain.PhaseRequirements,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Project{}, fmt.Errorf("project name %q: %w", name, repo.ErrDuplicate)
		}
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	if err := e.Docs.InitProject(p); err != nil {
		e.warnf("docs: mirror project %s: %v", p.Name, err)
	}
	return p, nil
}

// ProjectUpdateOptions is the partial field set accepted by UpdateProject.
type ProjectUpdateOptions struct {
	ID           string
	Name         *string
	Description  *string
	Status       *string
	CurrentPhase *string
	ActorID      string
}

// UpdateProject revalidates enumerated values on every write and rejects
// unknown members before touching the store.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	if opts.Name != nil && *opts.Name == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if opts.Status != nil && !domain.ValidProjectStatus(*opts.Status) {
		return domain.Project{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", *opts.Status)}
	}
	if opts.CurrentPhase != nil && !domain.ValidPhase(*opts.CurrentPhase) {
		return domain.Project{}, ValidationError{Field: "current_phase", Reason: fmt.Sprintf("unknown value %q", *opts.CurrentPhase)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	u := repo.ProjectUpdate{
		Name:         opts.Name,
		Description:  opts.Description,
		Status:       opts.Status,
		CurrentPhase: opts.CurrentPhase,
	}
	if err := e.Repo.UpdateProject(ctx, tx, opts.ID, u, e.now().UTC().Format(time.RFC3339)); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", opts.ID, "project", opts.ID, opts.ActorID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, opts.ID)
}

// DeleteProject removes a project and everything attached to it.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	// The project row is gone, so the audit entry goes in its own tx.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "project.deleted", "", "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return err
	}
	return tx.Commit()
}
