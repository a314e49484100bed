package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"SynthVault/internal/pricing"
	"SynthVault/internal/registry"
	"SynthVault/internal/solvency"

	"github.com/google/uuid"
)

// EngineReader is the latch-free read surface the engine exposes to the
// query layer.
type EngineReader interface {
	CollateralOf(user uuid.UUID, assetID string) *big.Int
	DebtOf(user uuid.UUID) *big.Int
	HealthFactorOf(user uuid.UUID) (*big.Int, error)
	AccountValueOf(user uuid.UUID) (*big.Int, error)
	Sequence() int64
}

// QueryService serves account state from the live engine and history from
// the Postgres operation log. Live reads never take the engine latch.
type QueryService struct {
	eng    EngineReader
	reg    *registry.Registry
	prices *pricing.Normalizer
	db     *sql.DB
}

func NewQueryService(eng EngineReader, reg *registry.Registry, prices *pricing.Normalizer, db *sql.DB) *QueryService {
	return &QueryService{eng: eng, reg: reg, prices: prices, db: db}
}

// GetAccount returns the user's full live position: per-asset collateral,
// debt, account value, and health factor at current prices.
func (qs *QueryService) GetAccount(ctx context.Context, userID uuid.UUID) (*AccountResponse, error) {
	resp := &AccountResponse{
		UserID:       userID,
		Debt:         qs.eng.DebtOf(userID).String(),
		AsOfSequence: qs.eng.Sequence() - 1,
	}

	for _, assetID := range qs.reg.ApprovedAssets() {
		bal := qs.eng.CollateralOf(userID, assetID)
		if bal.Sign() == 0 {
			continue
		}
		value, err := qs.prices.ToValueUnits(assetID, bal)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", assetID, err)
		}
		resp.Collateral = append(resp.Collateral, CollateralBalance{
			AssetID: assetID,
			Amount:  bal.String(),
			Value:   value.String(),
		})
	}

	accountValue, err := qs.eng.AccountValueOf(userID)
	if err != nil {
		return nil, err
	}
	resp.AccountValue = accountValue.String()

	hf, err := qs.eng.HealthFactorOf(userID)
	if err != nil {
		return nil, err
	}
	if hf.Cmp(solvency.MaxHealthFactor) == 0 {
		resp.HealthFactor = "max"
	} else {
		resp.HealthFactor = hf.String()
	}

	return resp, nil
}

// GetAssets lists the approved collateral assets and their latest prices.
// An unavailable oracle leaves the price empty rather than failing the
// whole listing.
func (qs *QueryService) GetAssets(ctx context.Context) ([]AssetInfo, error) {
	var infos []AssetInfo
	for _, assetID := range qs.reg.ApprovedAssets() {
		asset, err := qs.reg.Get(assetID)
		if err != nil {
			return nil, err
		}
		info := AssetInfo{AssetID: assetID, Decimals: asset.Decimals}
		if price, err := asset.Oracle.LatestPrice(); err == nil {
			info.Price = price.String()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ConvertToValue prices a native amount in 18-decimal value units.
func (qs *QueryService) ConvertToValue(ctx context.Context, assetID string, nativeAmount *big.Int) (*ConversionResponse, error) {
	out, err := qs.prices.ToValueUnits(assetID, nativeAmount)
	if err != nil {
		return nil, err
	}
	return &ConversionResponse{AssetID: assetID, Input: nativeAmount.String(), Output: out.String()}, nil
}

// ConvertToNative converts 18-decimal value units back to a native amount.
func (qs *QueryService) ConvertToNative(ctx context.Context, assetID string, value *big.Int) (*ConversionResponse, error) {
	out, err := qs.prices.ToNativeAmount(assetID, value)
	if err != nil {
		return nil, err
	}
	return &ConversionResponse{AssetID: assetID, Input: value.String(), Output: out.String()}, nil
}

// GetOperationHistory returns the user's committed operations, newest
// first, with cursor-based pagination.
func (qs *QueryService) GetOperationHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]OperationEntry, error) {
	query := `
		SELECT sequence, record_id, record_type, user_id, caller_id,
		       asset_id, amount, debt_covered, total_seized, committed_at
		FROM vault.operation_log
		WHERE (user_id = $1 OR caller_id = $1)
	`
	args := []interface{}{userID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OperationEntry
	for rows.Next() {
		var e OperationEntry
		if err := rows.Scan(
			&e.Sequence, &e.RecordID, &e.RecordType, &e.UserID, &e.CallerID,
			&e.AssetID, &e.Amount, &e.DebtCovered, &e.TotalSeized, &e.CommittedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetLiquidationHistory returns liquidations where the user was either the
// target or the liquidator, newest first.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
) ([]LiquidationEntry, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, record_id, user_id, liquidator_id, asset_id,
		       debt_covered, total_seized, committed_at
		FROM vault.liquidation_history
		WHERE user_id = $1 OR liquidator_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LiquidationEntry
	for rows.Next() {
		var e LiquidationEntry
		if err := rows.Scan(
			&e.Sequence, &e.RecordID, &e.UserID, &e.LiquidatorID, &e.AssetID,
			&e.DebtCovered, &e.TotalSeized, &e.CommittedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity across the operation log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM vault.operation_log o1
		JOIN vault.operation_log o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.prev_hash != o2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM vault.operation_log`,
	).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		report.LastSequence = last.Int64
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}
