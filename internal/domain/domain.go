package domain

// Phases form the fixed delivery sequence a project moves through.
const (
	PhaseRequirements = "requirements"
	PhaseDesign       = "design"
	PhaseTasks        = "tasks"
	PhaseExecute      = "execute"
)

// PhaseOrder is the canonical phase sequence used for handoff advancement.
var PhaseOrder = []string{PhaseRequirements, PhaseDesign, PhaseTasks, PhaseExecute}

// PhaseComplete is the pseudo-phase produced by a handoff from the last
// phase. It is never stored as a project's current phase.
const PhaseComplete = "complete"

const (
	ProjectActive    = "active"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
)

const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskBlocked    = "blocked"
	TaskCompleted  = "completed"
)

const (
	ActorRequirements   = "requirements"
	ActorDesign         = "design"
	ActorTasks          = "tasks"
	ActorImplementation = "implementation"
)

func ValidPhase(v string) bool {
	for _, p := range PhaseOrder {
		if v == p {
			return true
		}
	}
	return false
}

func ValidProjectStatus(v string) bool {
	return v == ProjectActive || v == ProjectPaused || v == ProjectCompleted
}

func ValidTaskStatus(v string) bool {
	return v == TaskPending || v == TaskInProgress || v == TaskBlocked || v == TaskCompleted
}

func ValidActorType(v string) bool {
	return v == ActorRequirements || v == ActorDesign || v == ActorTasks || v == ActorImplementation
}

// NextPhase returns the phase following the given one in PhaseOrder, or
// PhaseComplete when the given phase is the last (or unknown).
func NextPhase(phase string) string {
	for i, p := range PhaseOrder {
		if p == phase && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1]
		}
	}
	return PhaseComplete
}

type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status" enum:"active,paused,completed"`
	CurrentPhase string `json:"current_phase" enum:"requirements,design,tasks,execute"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	ParentID     *string  `json:"parent_id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Phase        string   `json:"phase" enum:"requirements,design,tasks,execute"`
	Status       string   `json:"status" enum:"pending,in_progress,blocked,completed"`
	AssigneeType string   `json:"assignee_type,omitempty"`
	Priority     int      `json:"priority"`
	Requirements []string `json:"requirements,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// TaskNode is a task linked into its hierarchy.
type TaskNode struct {
	Task
	Depth    int         `json:"depth"`
	Children []*TaskNode `json:"children"`
}

// ContextMap is a schemaless context/deliverables payload. Values are
// restricted to the JSON value domain: string, float64, bool, nil, []any and
// nested map[string]any.
type ContextMap map[string]any

// Merge returns the shallow key-union of m and in; keys in in overwrite keys
// in m. Neither input is mutated.
func (m ContextMap) Merge(in ContextMap) ContextMap {
	out := make(ContextMap, len(m)+len(in))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}

type AgentSession struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	TaskID     *string    `json:"task_id,omitempty"`
	ActorType  string     `json:"actor_type" enum:"requirements,design,tasks,implementation"`
	Context    ContextMap `json:"context"`
	Summary    string     `json:"summary,omitempty"`
	LastActive string     `json:"last_active" format:"date-time"`
}

// CheckpointState is the structured payload snapshotted at a handoff.
type CheckpointState struct {
	CompletedTasks []string   `json:"completed_tasks"`
	CurrentTask    *string    `json:"current_task,omitempty"`
	Deliverables   ContextMap `json:"deliverables,omitempty"`
}

// WorkflowCheckpoint is immutable once created. Phase is free text: handoffs
// record the declared phase label as given, not re-validated against the
// phase enumeration.
type WorkflowCheckpoint struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Phase     string          `json:"phase"`
	State     CheckpointState `json:"state"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

// ResumeState is everything a returning actor needs to pick a project back up.
type ResumeState struct {
	Project        Project             `json:"project"`
	CurrentPhase   string              `json:"current_phase"`
	Checkpoint     *WorkflowCheckpoint `json:"checkpoint,omitempty"`
	PendingTasks   []Task              `json:"pending_tasks"`
	CompletedTasks []Task              `json:"completed_tasks"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
