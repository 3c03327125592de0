package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"phaseline/internal/domain"
)

const checkpointColumns = `id,project_id,phase,state_json,created_at`

func (r Repo) InsertCheckpoint(ctx context.Context, tx *sql.Tx, c domain.WorkflowCheckpoint) error {
	stateJSON, err := json.Marshal(c.State)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_checkpoints(`+checkpointColumns+`) VALUES (?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Phase, string(stateJSON), c.CreatedAt)
	return translate(err)
}

func scanCheckpointRow(scan func(...any) error) (domain.WorkflowCheckpoint, error) {
	var c domain.WorkflowCheckpoint
	var stateJSON string
	err := scan(&c.ID, &c.ProjectID, &c.Phase, &stateJSON, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &c.State); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) GetCheckpoint(ctx context.Context, id string) (domain.WorkflowCheckpoint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM workflow_checkpoints WHERE id=?`, id)
	return scanCheckpointRow(row.Scan)
}

// LatestCheckpoint returns the newest checkpoint for a project or ErrNotFound
// when none exists; absence is not an error for resume, callers map it to nil.
func (r Repo) LatestCheckpoint(ctx context.Context, projectID string) (domain.WorkflowCheckpoint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM workflow_checkpoints WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, projectID)
	return scanCheckpointRow(row.Scan)
}

func (r Repo) ListCheckpoints(ctx context.Context, projectID string) ([]domain.WorkflowCheckpoint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM workflow_checkpoints WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowCheckpoint
	for rows.Next() {
		c, err := scanCheckpointRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateCheckpoint attempts the forbidden write so the store trigger rejects
// it; the failure always surfaces as ErrCheckpointImmutable and no partial
// write survives.
func (r Repo) UpdateCheckpoint(ctx context.Context, c domain.WorkflowCheckpoint) error {
	stateJSON, err := json.Marshal(c.State)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE workflow_checkpoints SET phase=?, state_json=? WHERE id=?`,
		c.Phase, string(stateJSON), c.ID)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	// The trigger aborts any update that matches a row; a successful exec
	// with affected rows would mean the trigger is gone.
	return ErrCheckpointImmutable
}

// PurgeCheckpoints deletes all checkpoints of a project and reports how many
// were removed.
func (r Repo) PurgeCheckpoints(ctx context.Context, projectID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflow_checkpoints WHERE project_id=?`, projectID)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}
