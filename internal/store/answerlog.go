package store

import (
	"context"
	"fmt"
	"time"
)

// AppendBatch appends a batch of answers under one batch ID with a
// monotonically increasing per-run batch sequence. The whole batch commits
// in one transaction: either every answer lands or none do, so replay can
// never observe a half-applied batch.
//
// Submitting a batch ID that is already live in the ledger is a no-op and
// returns applied=false; a batch whose rows were all superseded by a
// goBack may be resubmitted. This makes Answer safe to retry.
func (s *LibSQLStore) AppendBatch(ctx context.Context, runID, batchID string, answers []*Answer) (bool, error) {
	if len(answers) == 0 {
		return false, fmt.Errorf("empty answer batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	// Force write-lock acquisition up front. In WAL mode BeginTx may start
	// a deferred transaction, letting a concurrent writer interleave the
	// sequence read and the inserts.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return false, fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return false, fmt.Errorf("cleanup write lock: %w", err)
	}

	// Idempotence: a live (non-superseded) batch with this ID already
	// applied; the ledger stays untouched.
	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM answers WHERE run_id = ? AND batch_id = ? AND superseded = 0`,
		runID, batchID,
	).Scan(&dup)
	if err != nil {
		return false, fmt.Errorf("check duplicate batch: %w", err)
	}
	if dup > 0 {
		return false, nil
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(batch_seq), 0) + 1 FROM answers WHERE run_id = ?`, runID,
	).Scan(&seq)
	if err != nil {
		return false, fmt.Errorf("get next batch sequence: %w", err)
	}

	now := time.Now().UTC()
	for _, a := range answers {
		a.RunID = runID
		a.BatchID = batchID
		a.BatchSeq = seq
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (run_id, node_id, batch_id, batch_seq, value, superseded, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			a.RunID, a.NodeID, a.BatchID, a.BatchSeq, string(a.Value), a.CreatedAt,
		); err != nil {
			return false, fmt.Errorf("insert answer for node %s: %w", a.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit batch: %w", err)
	}
	return true, nil
}

// GetAnswers returns the run's ledger ordered by batch sequence then row id.
// With includeSuperseded=false only the live ledger is returned, which is
// what replay folds over.
func (s *LibSQLStore) GetAnswers(ctx context.Context, runID string, includeSuperseded bool) ([]*Answer, error) {
	query := `SELECT id, run_id, node_id, batch_id, batch_seq, value, superseded, created_at
		 FROM answers WHERE run_id = ?`
	if !includeSuperseded {
		query += ` AND superseded = 0`
	}
	query += ` ORDER BY batch_seq ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*Answer
	for rows.Next() {
		a := &Answer{}
		var value string
		var superseded int
		if err := rows.Scan(&a.ID, &a.RunID, &a.NodeID, &a.BatchID, &a.BatchSeq,
			&value, &superseded, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Value = []byte(value)
		a.Superseded = superseded != 0
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SupersedeBatch marks every answer of the given batch sequence superseded.
// Rows are retained for audit; only the live view changes.
func (s *LibSQLStore) SupersedeBatch(ctx context.Context, runID string, batchSeq int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE answers SET superseded = 1 WHERE run_id = ? AND batch_seq = ? AND superseded = 0`,
		runID, batchSeq,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "batch", fmt.Sprintf("%s/%d", runID, batchSeq))
}
