package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"project not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Phaseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Phaseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocsPage(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerDocs(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrDuplicate):
		return newAPIError(http.StatusConflict, "duplicate", err.Error(), nil)
	case errors.Is(err, repo.ErrCheckpointImmutable):
		return newAPIError(http.StatusConflict, "checkpoint_immutable", err.Error(), nil)
	case errors.Is(err, repo.ErrForeignKey):
		return newAPIError(http.StatusConflict, "constraint_violation", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocsPage(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Phaseline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type ProjectPath struct {
	ProjectID string `path:"project_id"`
}

type TaskPath struct {
	TaskID string `path:"task_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.CreateProject(ctx, input.Body.Name, optional(input.Body.Description), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" enum:"active,paused,completed" required:"false"`
		Phase        string `query:"phase" enum:"requirements,design,tasks,execute" required:"false"`
		NameContains string `query:"name_contains" required:"false"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Status:       input.Status,
			Phase:        input.Phase,
			NameContains: input.NameContains,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Project{}
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:           input.ProjectID,
			Name:         input.Body.Name,
			Description:  input.Body.Description,
			Status:       input.Body.Status,
			CurrentPhase: input.Body.CurrentPhase,
			ActorID:      actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project and all dependent records",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ProjectID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:    input.Body.ProjectID,
			ParentID:     optional(input.Body.ParentID),
			Title:        input.Body.Title,
			Description:  optional(input.Body.Description),
			Phase:        input.Body.Phase,
			Status:       optional(input.Body.Status),
			AssigneeType: optional(input.Body.AssigneeType),
			Priority:     optionalInt(input.Body.Priority),
			Requirements: input.Body.Requirements,
			DependsOn:    input.Body.DependsOn,
			ActorID:      actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Query tasks with filters, optionally as a hierarchy",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID    string `query:"project_id" required:"false"`
		Status       string `query:"status" enum:"pending,in_progress,blocked,completed" required:"false"`
		Phase        string `query:"phase" enum:"requirements,design,tasks,execute" required:"false"`
		AssigneeType string `query:"assignee_type" required:"false"`
		ParentID     string `query:"parent_id" required:"false"`
		Hierarchy    bool   `query:"hierarchy" required:"false"`
	}) (*struct {
		Body TaskQueryResponse `json:"body"`
	}, error) {
		tasks, roots, err := e.QueryTasks(ctx, repo.TaskFilters{
			ProjectID:    input.ProjectID,
			Status:       input.Status,
			Phase:        input.Phase,
			AssigneeType: input.AssigneeType,
			ParentID:     input.ParentID,
		}, input.Hierarchy)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body TaskQueryResponse `json:"body"`
		}{Body: TaskQueryResponse{Tasks: tasks, Roots: roots}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:           input.TaskID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Phase:        input.Body.Phase,
			Status:       input.Body.Status,
			AssigneeType: input.Body.AssigneeType,
			Priority:     input.Body.Priority,
			Requirements: input.Body.Requirements,
			SetParent:    input.Body.ParentID,
			DependsOn:    input.Body.DependsOn,
			HasDepends:   input.Body.DependsOn != nil,
			Note:         input.Body.Note,
			ActorID:      actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task and its descendants",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.TaskID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-task-dependencies",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/dependencies",
		Summary:     "Check whether a task's dependencies are satisfied",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body DependencyStatusResponse `json:"body"`
	}, error) {
		satisfied, err := e.CheckDependencies(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		deps, err := e.Repo.ListTaskDependencies(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if deps == nil {
			deps = []string{}
		}
		return &struct {
			Body DependencyStatusResponse `json:"body"`
		}{Body: DependencyStatusResponse{TaskID: input.TaskID, Satisfied: satisfied, DependsOn: deps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign a task to an agent session",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body AssignTaskRequest `json:"body"`
	}) (*struct {
		Body domain.AgentSession `json:"body"`
	}, error) {
		s, err := e.AssignTask(ctx, input.TaskID, input.Body.ActorType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AgentSession `json:"body"`
		}{Body: s}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-context",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Merge context into an agent session",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SaveContextRequest `json:"body"`
	}) (*struct {
		Body domain.AgentSession `json:"body"`
	}, error) {
		s, err := e.SaveContext(ctx, input.Body.ProjectID, input.Body.ActorType, input.Body.Context, input.Body.Summary)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AgentSession `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "load-contexts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sessions",
		Summary:     "Load all session contexts for a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body engine.SessionBundle `json:"body"`
	}, error) {
		bundle, err := e.LoadAll(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SessionBundle `json:"body"`
		}{Body: sessionBundleResponse(bundle)}, nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "handoff",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/handoff",
		Summary:       "Checkpoint the current phase and advance to the next",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body HandoffRequest `json:"body"`
	}) (*struct {
		Body engine.HandoffResult `json:"body"`
	}, error) {
		res, err := e.Handoff(ctx, engine.HandoffOptions{
			ProjectID:        input.ProjectID,
			CurrentPhase:     input.Body.CurrentPhase,
			Deliverables:     input.Body.Deliverables,
			Notes:            input.Body.Notes,
			CompletedTaskIDs: input.Body.CompletedTaskIDs,
			ActorID:          actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.HandoffResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/resume",
		Summary:     "Reconstruct workflow state from the latest checkpoint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body domain.ResumeState `json:"body"`
	}, error) {
		state, err := e.Resume(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ResumeState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-checkpoint",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/checkpoints",
		Summary:       "Create a workflow checkpoint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateCheckpointRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowCheckpoint `json:"body"`
	}, error) {
		cp, err := e.CreateCheckpoint(ctx, input.ProjectID, input.Body.Phase, input.Body.Deliverables, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowCheckpoint `json:"body"`
		}{Body: cp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checkpoints",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/checkpoints",
		Summary:     "List checkpoints, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body []domain.WorkflowCheckpoint `json:"body"`
	}, error) {
		items, err := e.Repo.ListCheckpoints(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.WorkflowCheckpoint{}
		}
		return &struct {
			Body []domain.WorkflowCheckpoint `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-checkpoints",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/checkpoints",
		Summary:     "Delete all checkpoints of a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body PurgeResponse `json:"body"`
	}, error) {
		deleted, err := e.PurgeCheckpoints(ctx, input.ProjectID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PurgeResponse `json:"body"`
		}{Body: PurgeResponse{Deleted: deleted}}, nil
	})
}

func registerDocs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/history",
		Summary:     "Concatenated document history for a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		history, err := e.Docs.History(p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{History: history}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-docs",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reconcile",
		Summary:     "Re-mirror store state into the document tree",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Docs.Reconcile(p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "reconciled"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "doc-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/docs/{doc}/status",
		Summary:     "Completeness status for a phase document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Doc string `path:"doc"`
	}) (*struct {
		Body DocStatusResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		complete, reason, err := e.Docs.CheckDocument(p.Name, input.Doc)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocStatusResponse `json:"body"`
		}{Body: DocStatusResponse{Doc: input.Doc, Complete: complete, Reason: reason}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id" required:"false"`
		Type      string `query:"type" required:"false"`
		Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
