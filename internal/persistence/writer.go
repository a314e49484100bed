package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OperationLogWriter writes committed vault records to Postgres using
// multi-row INSERTs. Writes are idempotent on sequence, so replaying a
// batch after a crash is harmless.
type OperationLogWriter struct {
	db *sql.DB
}

// RecordRow represents a row in vault.operation_log. Amounts are decimal
// strings bound to NUMERIC columns; nil-able amounts map to NULL.
type RecordRow struct {
	Sequence    int64
	RecordID    string
	RecordType  string
	UserID      string
	CallerID    string
	AssetID     *string
	Amount      *string
	DebtCovered *string
	TotalSeized *string
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteRecordBatch writes a batch of records to vault.operation_log.
func (w *OperationLogWriter) WriteRecordBatch(ctx context.Context, tx *sql.Tx, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO vault.operation_log
		(sequence, record_id, record_type, user_id, caller_id, asset_id, amount, debt_covered, total_seized, state_hash, prev_hash, committed_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*12)

	for i, r := range records {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			r.Sequence, r.RecordID, r.RecordType, r.UserID, r.CallerID,
			r.AssetID, r.Amount, r.DebtCovered, r.TotalSeized,
			r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteLiquidationBatch writes liquidation records to vault.liquidation_history
// for the dedicated history endpoint.
func (w *OperationLogWriter) WriteLiquidationBatch(ctx context.Context, tx *sql.Tx, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO vault.liquidation_history
		(sequence, record_id, user_id, liquidator_id, asset_id, debt_covered, total_seized, committed_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*8)

	for i, r := range records {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.RecordID, r.UserID, r.CallerID,
			r.AssetID, r.DebtCovered, r.TotalSeized, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
