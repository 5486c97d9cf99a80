package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TransitionRow is one row in perp.transition_log: the audit record of a
// state transition attempt, applied or rejected.
type TransitionRow struct {
	TransitionID string
	Kind         string
	MarketID     *int64
	Trader       *string
	Outcome      string // "applied" or "rejected"
	Reason       *string
	Detail       []byte // JSON-encoded transition detail
	AppliedAt    time.Time
}

// TransitionLogWriter appends transition rows to Postgres with multi-row
// INSERTs. Duplicate transition ids are dropped, so replayed submissions
// never double-log.
type TransitionLogWriter struct {
	db *sql.DB
}

func NewTransitionLogWriter(db *sql.DB) *TransitionLogWriter {
	return &TransitionLogWriter{db: db}
}

// WriteBatch appends a batch of transition rows.
func (w *TransitionLogWriter) WriteBatch(ctx context.Context, rows []TransitionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO perp.transition_log
		(transition_id, kind, market_id, trader, outcome, reason, detail, applied_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.TransitionID, r.Kind, r.MarketID, r.Trader,
			r.Outcome, r.Reason, r.Detail, r.AppliedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transition_id) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// Record appends a single transition row.
func (w *TransitionLogWriter) Record(ctx context.Context, row TransitionRow) error {
	return w.WriteBatch(ctx, []TransitionRow{row})
}

// SeenTransition reports whether a transition id is already logged. Serves
// as the durable tier of intake deduplication.
func (w *TransitionLogWriter) SeenTransition(ctx context.Context, transitionID string) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx,
		`SELECT 1 FROM perp.transition_log WHERE transition_id = $1`, transitionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarshalDetail serializes a transition detail for the log.
func MarshalDetail(detail interface{}) ([]byte, error) {
	return json.Marshal(detail)
}
