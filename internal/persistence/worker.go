package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"SynthVault/internal/engine"
	"SynthVault/internal/event"
	"SynthVault/internal/observability"
)

// Worker drains the persist channel and batch-writes records to Postgres.
// The engine uses BLOCKING sends into this channel, so if the worker falls
// behind, operations stall rather than lose records.
type Worker struct {
	writer       *OperationLogWriter
	inputChan    <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics

	// done closes when Run has flushed its tail batch and returned, so
	// shutdown can wait for the drain instead of guessing.
	done chan struct{}
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewOperationLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		done:         make(chan struct{}),
	}
}

// Done is closed once Run has written its final batch and exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// RowFromRecord converts a committed record into its operation_log row.
func RowFromRecord(rec *event.Record) RecordRow {
	row := RecordRow{
		Sequence:   rec.Sequence,
		RecordID:   rec.RecordID.String(),
		RecordType: rec.Type.String(),
		UserID:     rec.User.String(),
		CallerID:   rec.Caller.String(),
		StateHash:  rec.StateHash[:],
		PrevHash:   rec.PrevHash[:],
		Timestamp:  rec.Timestamp,
	}
	if rec.AssetID != "" {
		asset := rec.AssetID
		row.AssetID = &asset
	}
	if rec.Amount != nil {
		s := rec.Amount.String()
		row.Amount = &s
	}
	if rec.DebtCovered != nil {
		s := rec.DebtCovered.String()
		row.DebtCovered = &s
	}
	if rec.TotalSeized != nil {
		s := rec.TotalSeized.String()
		row.TotalSeized = &s
	}
	return row
}

// Run starts the worker loop. It batches incoming records and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)

	batch := make([]RecordRow, 0, w.batchSize)
	liquidations := make([]RecordRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch, liquidations); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch, liquidations); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			row := RowFromRecord(out.Record)
			batch = append(batch, row)
			if out.Record.Type == event.RecordTypeLiquidation {
				liquidations = append(liquidations, row)
			}

			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch, liquidations); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				batch = batch[:0]
				liquidations = liquidations[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch, liquidations); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				batch = batch[:0]
				liquidations = liquidations[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops records: it retries until the write succeeds or the context
// is cancelled, in which case one final flush runs with a background
// context.
func (w *Worker) flushWithRetry(ctx context.Context, batch, liquidations []RecordRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, records=%d)",
				attempt, backoff, len(batch))
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), batch, liquidations)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch, liquidations)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch, liquidations []RecordRow) error {
	start := time.Now()

	// Operation log and liquidation history commit in one transaction.
	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteRecordBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_records").Inc()
		}
		return err
	}

	if err := w.writer.WriteLiquidationBatch(ctx, tx, liquidations); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_liquidations").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistRecordsWritten.Add(float64(len(batch)))
		if len(batch) > 0 {
			w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
		}
	}

	return nil
}
