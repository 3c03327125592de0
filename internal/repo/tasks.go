package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"phaseline/internal/domain"
)

const taskColumns = `id,project_id,parent_id,title,description,phase,status,assignee_type,priority,requirements_json,created_at,updated_at`

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	reqJSON, err := marshalStringSlice(t.Requirements)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), t.Phase, t.Status,
		nullable(t.AssigneeType), t.Priority, nullableStringPtr(reqJSON), t.CreatedAt, t.UpdatedAt)
	return translate(err)
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	reqJSON, err := marshalStringSlice(t.Requirements)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET parent_id=?, title=?, description=?, phase=?, status=?, assignee_type=?, priority=?, requirements_json=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), t.Phase, t.Status,
		nullable(t.AssigneeType), t.Priority, nullableStringPtr(reqJSON), t.UpdatedAt, t.ID)
	return translate(err)
}

func scanTaskRow(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var parentID, description, assigneeType, reqJSON sql.NullString
	err := scan(&t.ID, &t.ProjectID, &parentID, &t.Title, &description, &t.Phase, &t.Status, &assigneeType, &t.Priority, &reqJSON, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if assigneeType.Valid {
		t.AssigneeType = assigneeType.String
	}
	if reqJSON.Valid && reqJSON.String != "" {
		if err := json.Unmarshal([]byte(reqJSON.String), &t.Requirements); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err != nil {
		return t, err
	}
	t.DependsOn, err = r.ListTaskDependencies(ctx, t.ID)
	return t, err
}

type TaskFilters struct {
	ProjectID    string
	Status       string
	Phase        string
	AssigneeType string
	ParentID     string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Phase != "" {
		clauses = append(clauses, "phase=?")
		args = append(args, f.Phase)
	}
	if f.AssigneeType != "" {
		clauses = append(clauses, "assignee_type=?")
		args = append(args, f.AssigneeType)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY priority ASC, created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		deps, err := r.ListTaskDependencies(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].DependsOn = deps
	}
	return res, nil
}

func (r Repo) ListTaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY position ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// ReplaceDependencies rewrites the ordered dependency list of a task.
// Dependency ids are not checked against existing tasks at write time.
func (r Repo) ReplaceDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=?`, taskID); err != nil {
		return translate(err)
	}
	for i, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, depends_on_task_id, position) VALUES (?,?,?)`, taskID, d, i); err != nil {
			return translate(err)
		}
	}
	return nil
}

// CountIncompleteDependencies returns how many of a task's dependencies
// resolve to an existing task whose status is not completed. Dangling
// dependency ids do not join and therefore never contribute to the count.
func (r Repo) CountIncompleteDependencies(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_deps d
		JOIN tasks t ON t.id = d.depends_on_task_id
		WHERE d.task_id=? AND t.status != 'completed'`, taskID).Scan(&n)
	return n, err
}

// DeleteTaskCascade deletes direct children first, then the task itself.
// Grandchildren are removed by the store's ON DELETE CASCADE on parent_id.
// Tasks that merely depend on the deleted task are untouched; their
// dependency entries are left dangling, which gating treats as satisfied.
func (r Repo) DeleteTaskCascade(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE parent_id=?`, id); err != nil {
		return translate(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
