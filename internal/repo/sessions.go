package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"phaseline/internal/domain"
)

const sessionColumns = `id,project_id,task_id,actor_type,context_json,summary,last_active`

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.AgentSession) error {
	ctxJSON, err := marshalContext(s.Context)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO agent_sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, nullableStringPtr(s.TaskID), s.ActorType, ctxJSON, nullable(s.Summary), s.LastActive)
	return translate(err)
}

// UpdateSession rewrites the mutable parts of a session: context blob,
// summary, task pointer and liveness timestamp.
func (r Repo) UpdateSession(ctx context.Context, tx *sql.Tx, s domain.AgentSession) error {
	ctxJSON, err := marshalContext(s.Context)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE agent_sessions SET task_id=?, context_json=?, summary=?, last_active=? WHERE id=?`,
		nullableStringPtr(s.TaskID), ctxJSON, nullable(s.Summary), s.LastActive, s.ID)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchSession(ctx context.Context, id, lastActive string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE agent_sessions SET last_active=? WHERE id=?`, lastActive, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSessionRow(scan func(...any) error) (domain.AgentSession, error) {
	var s domain.AgentSession
	var taskID, summary sql.NullString
	var ctxJSON string
	err := scan(&s.ID, &s.ProjectID, &taskID, &s.ActorType, &ctxJSON, &summary, &s.LastActive)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if taskID.Valid {
		s.TaskID = &taskID.String
	}
	if summary.Valid {
		s.Summary = summary.String
	}
	if ctxJSON != "" {
		if err := json.Unmarshal([]byte(ctxJSON), &s.Context); err != nil {
			return s, err
		}
	}
	if s.Context == nil {
		s.Context = domain.ContextMap{}
	}
	return s, nil
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.AgentSession, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE id=?`, id)
	return scanSessionRow(row.Scan)
}

func (r Repo) ListSessionsByProject(ctx context.Context, projectID string) ([]domain.AgentSession, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE project_id=? ORDER BY last_active DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentSession
	for rows.Next() {
		s, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetSessionByProjectActor returns the most-recently-active session for the
// (project, actor type) pair.
func (r Repo) GetSessionByProjectActor(ctx context.Context, projectID, actorType string) (domain.AgentSession, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE project_id=? AND actor_type=? ORDER BY last_active DESC, id DESC LIMIT 1`,
		projectID, actorType)
	return scanSessionRow(row.Scan)
}

func marshalContext(m domain.ContextMap) (string, error) {
	if m == nil {
		m = domain.ContextMap{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
