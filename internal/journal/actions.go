package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/countersync/internal/entity"
)

// Action is one action handed to the transport.
type Action struct {
	ActionID      string
	Kind          entity.ActionKind
	CorrelationID entity.CorrelationID
	ServerID      entity.ServerID
	Seq           int64
	IssuedAt      time.Time

	// ResolvedSeq is 0 while the action is unconfirmed.
	ResolvedSeq int64
}

// Resolved reports whether the server confirmed the action.
func (a Action) Resolved() bool {
	return a.ResolvedSeq != 0
}

// RecordAction stores a sent action. Duplicate action IDs are ignored.
func (j *Journal) RecordAction(ctx context.Context, a Action) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO actions
		(action_id, kind, correlation_id, server_id, seq, issued_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING
	`,
		a.ActionID,
		a.Kind.String(),
		int64(a.CorrelationID),
		int64(a.ServerID),
		a.Seq,
		a.IssuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record action %s: %w", a.ActionID, err)
	}
	return nil
}

// ResolveAction marks the action as confirmed at seq. Returns false if the
// action is unknown or already resolved.
func (j *Journal) ResolveAction(ctx context.Context, actionID string, seq int64) (bool, error) {
	res, err := j.db.ExecContext(ctx, `
		UPDATE actions SET resolved_seq = ?
		WHERE action_id = ? AND resolved_seq IS NULL
	`, seq, actionID)
	if err != nil {
		return false, fmt.Errorf("resolve action %s: %w", actionID, err)
	}
	return rowsChanged(res)
}

// ResolveCreate marks the create sent under corr as confirmed and records
// the server ID it was bound to.
func (j *Journal) ResolveCreate(ctx context.Context, corr entity.CorrelationID, id entity.ServerID, seq int64) (bool, error) {
	res, err := j.db.ExecContext(ctx, `
		UPDATE actions SET resolved_seq = ?, server_id = ?
		WHERE correlation_id = ? AND kind = ? AND resolved_seq IS NULL
	`, seq, int64(id), int64(corr), entity.ActionCreate.String())
	if err != nil {
		return false, fmt.Errorf("resolve create %s: %w", corr, err)
	}
	return rowsChanged(res)
}

// ResolveOldestOn marks the oldest unresolved non-create action targeting
// id as confirmed at seq. Servers may omit the action ID from a response, in
// which case the response is matched to actions by the counter it touched.
func (j *Journal) ResolveOldestOn(ctx context.Context, id entity.ServerID, seq int64) (bool, error) {
	res, err := j.db.ExecContext(ctx, `
		UPDATE actions SET resolved_seq = ?
		WHERE resolved_seq IS NULL AND action_id = (
			SELECT action_id FROM actions
			WHERE server_id = ? AND kind != ? AND resolved_seq IS NULL
			ORDER BY seq ASC, action_id COLLATE BINARY ASC
			LIMIT 1
		)
	`, seq, int64(id), entity.ActionCreate.String())
	if err != nil {
		return false, fmt.Errorf("resolve action on %d: %w", int64(id), err)
	}
	return rowsChanged(res)
}

// PendingActions returns unresolved actions ordered by seq.
func (j *Journal) PendingActions(ctx context.Context) ([]Action, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT action_id, kind, correlation_id, server_id, seq, issued_at
		FROM actions
		WHERE resolved_seq IS NULL
		ORDER BY seq ASC, action_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending actions: %w", err)
	}
	return actions, nil
}

func scanAction(rows *sql.Rows) (Action, error) {
	var (
		a        Action
		kind     string
		corr     int64
		serverID int64
		issued   int64
	)
	if err := rows.Scan(&a.ActionID, &kind, &corr, &serverID, &a.Seq, &issued); err != nil {
		return Action{}, fmt.Errorf("scan action: %w", err)
	}
	k, err := entity.ParseActionKind(kind)
	if err != nil {
		return Action{}, fmt.Errorf("scan action %s: %w", a.ActionID, err)
	}
	a.Kind = k
	a.CorrelationID = entity.CorrelationID(corr)
	a.ServerID = entity.ServerID(serverID)
	a.IssuedAt = time.UnixMilli(issued)
	return a, nil
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
