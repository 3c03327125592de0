package app

import (
	"context"
	"errors"
	"fmt"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// ResolveProject picks the project a CLI invocation targets. The reference
// may be a project id or a project name; when empty, a workspace with
// exactly one project resolves to it, anything else asks for --project.
func ResolveProject(ctx context.Context, r repo.Repo, ref string) (domain.Project, error) {
	if ref == "" {
		projects, err := r.ListProjects(ctx, repo.ProjectFilters{})
		if err != nil {
			return domain.Project{}, err
		}
		switch len(projects) {
		case 0:
			return domain.Project{}, fmt.Errorf("no projects exist; create one with pl project create")
		case 1:
			return projects[0], nil
		default:
			return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
		}
	}
	p, err := r.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	p, err = r.GetProjectByName(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, fmt.Errorf("project %q: %w", ref, repo.ErrNotFound)
	}
	return p, err
}
