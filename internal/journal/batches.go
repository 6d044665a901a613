package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Batch is one acknowledged batch.
type Batch struct {
	BatchID    string
	Seq        int64
	Kind       string
	EventCount int
}

// RecordAck stores an acknowledged batch. Recording the same batch twice is
// a no-op; inserted reports whether a row was written.
func (j *Journal) RecordAck(ctx context.Context, b Batch) (inserted bool, err error) {
	if b.BatchID == "" {
		return false, fmt.Errorf("record ack: empty batch id")
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO acknowledged_batches (batch_id, seq, envelope_kind, event_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(batch_id) DO NOTHING
	`, b.BatchID, b.Seq, b.Kind, b.EventCount)
	if err != nil {
		return false, fmt.Errorf("record ack %s: %w", b.BatchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record ack %s: %w", b.BatchID, err)
	}
	return n > 0, nil
}

// IsAcknowledged reports whether batchID was acknowledged before.
func (j *Journal) IsAcknowledged(ctx context.Context, batchID string) (bool, error) {
	var one int
	err := j.db.QueryRowContext(ctx, `
		SELECT 1 FROM acknowledged_batches WHERE batch_id = ?
	`, batchID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup batch %s: %w", batchID, err)
	}
	return true, nil
}

// LastAcknowledged returns the newest acknowledged batch, or ok=false when
// nothing was acknowledged yet.
func (j *Journal) LastAcknowledged(ctx context.Context) (b Batch, ok bool, err error) {
	err = j.db.QueryRowContext(ctx, `
		SELECT batch_id, seq, envelope_kind, event_count
		FROM acknowledged_batches
		ORDER BY seq DESC, rowid DESC
		LIMIT 1
	`).Scan(&b.BatchID, &b.Seq, &b.Kind, &b.EventCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, fmt.Errorf("last acknowledged: %w", err)
	}
	return b, true, nil
}
