package engine

import (
	"context"
	"fmt"

	"github.com/roach88/countersync/internal/journal"
)

// RestoreOptions returns the options that continue a journal from an
// earlier run: the journal itself and clocks resumed past its highest seq,
// so seq values keep increasing across restarts.
func RestoreOptions(ctx context.Context, j *journal.Journal) ([]Option, error) {
	seq, err := j.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore clocks: %w", err)
	}
	return []Option{WithJournal(j), WithClockAt(seq)}, nil
}
