package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"SynthVault/internal/ledger"

	"github.com/google/uuid"
)

// SnapshotManager persists and restores full ledger snapshots so the vault
// can warm-restart without replaying the whole operation log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized ledger state at one sequence. Amounts are
// decimal strings.
type SnapshotData struct {
	Sequence   int64            `json:"sequence"`
	StateHash  []byte           `json:"state_hash"`
	Collateral []CollateralSnap `json:"collateral"`
	Debts      []DebtSnap       `json:"debts"`
	CreatedAt  time.Time        `json:"created_at"`
}

// CollateralSnap is one serialized collateral record.
type CollateralSnap struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

// DebtSnap is one serialized debt record.
type DebtSnap struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotFromLedger captures the current ledger state. The caller supplies
// the engine's last committed sequence and chain tip, taken under the same
// quiescence as the ledger read.
func SnapshotFromLedger(led *ledger.Ledger, lastSequence int64, stateHash [32]byte) *SnapshotData {
	snap := &SnapshotData{
		Sequence:  lastSequence,
		StateHash: stateHash[:],
		CreatedAt: time.Now().UTC(),
	}

	for _, e := range led.CollateralEntries() {
		snap.Collateral = append(snap.Collateral, CollateralSnap{
			UserID:  e.User.String(),
			AssetID: e.AssetID,
			Amount:  e.Amount.String(),
		})
	}
	for _, d := range led.DebtEntries() {
		snap.Debts = append(snap.Debts, DebtSnap{
			UserID: d.User.String(),
			Amount: d.Amount.String(),
		})
	}

	return snap
}

// RestoreLedger replays a snapshot into an empty ledger.
func RestoreLedger(led *ledger.Ledger, snap *SnapshotData) error {
	for _, c := range snap.Collateral {
		user, err := uuid.Parse(c.UserID)
		if err != nil {
			return fmt.Errorf("snapshot collateral user %q: %w", c.UserID, err)
		}
		amount, ok := new(big.Int).SetString(c.Amount, 10)
		if !ok {
			return fmt.Errorf("snapshot collateral amount %q", c.Amount)
		}
		led.SetCollateral(user, c.AssetID, amount)
	}

	for _, d := range snap.Debts {
		user, err := uuid.Parse(d.UserID)
		if err != nil {
			return fmt.Errorf("snapshot debt user %q: %w", d.UserID, err)
		}
		amount, ok := new(big.Int).SetString(d.Amount, 10)
		if !ok {
			return fmt.Errorf("snapshot debt amount %q", d.Amount)
		}
		led.SetDebt(user, amount)
	}

	return nil
}

// SaveSnapshot persists a snapshot to Postgres.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, snapshotID, snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent snapshot, or nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM vault.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot, cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// GetLatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM vault.operation_log
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty operation log
	}
	return seq.Int64, nil
}
