package server

import (
	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	Status       *string `json:"status,omitempty" enum:"active,paused,completed"`
	CurrentPhase *string `json:"current_phase,omitempty" enum:"requirements,design,tasks,execute"`
}

type CreateTaskRequest struct {
	ProjectID    string   `json:"project_id"`
	ParentID     *string  `json:"parent_id,omitempty"`
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	Phase        string   `json:"phase" enum:"requirements,design,tasks,execute"`
	Status       *string  `json:"status,omitempty" enum:"pending,in_progress,blocked,completed"`
	AssigneeType *string  `json:"assignee_type,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

type UpdateTaskRequest struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Phase        *string  `json:"phase,omitempty" enum:"requirements,design,tasks,execute"`
	Status       *string  `json:"status,omitempty" enum:"pending,in_progress,blocked,completed"`
	AssigneeType *string  `json:"assignee_type,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	ParentID     *string  `json:"parent_id,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Note         string   `json:"note,omitempty"`
}

type SaveContextRequest struct {
	ProjectID string            `json:"project_id"`
	ActorType string            `json:"actor_type" enum:"requirements,design,tasks,implementation"`
	Context   domain.ContextMap `json:"context"`
	Summary   string            `json:"summary,omitempty"`
}

type AssignTaskRequest struct {
	ActorType string `json:"actor_type" enum:"requirements,design,tasks,implementation"`
}

type HandoffRequest struct {
	CurrentPhase     string            `json:"current_phase" enum:"requirements,design,tasks,execute"`
	Deliverables     domain.ContextMap `json:"deliverables,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	CompletedTaskIDs []string          `json:"completed_task_ids,omitempty"`
}

type CreateCheckpointRequest struct {
	Phase        string            `json:"phase"`
	Deliverables domain.ContextMap `json:"deliverables,omitempty"`
}

// Response payloads

type TaskQueryResponse struct {
	Tasks []domain.Task      `json:"tasks"`
	Roots []*domain.TaskNode `json:"roots,omitempty"`
}

type DependencyStatusResponse struct {
	TaskID    string   `json:"task_id"`
	Satisfied bool     `json:"satisfied"`
	DependsOn []string `json:"depends_on"`
}

type DocStatusResponse struct {
	Doc      string `json:"doc"`
	Complete bool   `json:"complete"`
	Reason   string `json:"reason,omitempty"`
}

type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}

type HistoryResponse struct {
	History string `json:"history"`
}

func sessionBundleResponse(b engine.SessionBundle) engine.SessionBundle {
	if b.Contexts == nil {
		b.Contexts = map[string]domain.ContextMap{}
	}
	if b.Sessions == nil {
		b.Sessions = []domain.AgentSession{}
	}
	return b
}
